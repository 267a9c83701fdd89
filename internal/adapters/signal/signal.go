package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Options bound the resources of one relay connection.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:  64 * 1024,
		PingPeriod: 54 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  10 * time.Second,
		SendBuffer: 32,
	}
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	opts Options
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch: o,
		opts: opts,
	}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the connection until the peer
// goes away, the relay shuts down or the participant is kicked.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	id := ctl.Orch.Connect(conn, cancel)
	log.Info().Str("module", "signal").Str("pid", string(id)).Str("client_token", c.GetString("client_token")).Msg("new WS connection")

	ctl.serve(ctx, cancel, id, conn)
}

func (ctl *SignalWSController) serve(ctx context.Context, cancel context.CancelFunc, id domain.ParticipantID, conn *wsSignalConn) {
	var wg conc.WaitGroup
	wg.Go(func() {
		defer cancel()
		ctl.writePump(ctx, id, conn)
	})
	wg.Go(func() {
		defer cancel()
		ctl.readPump(ctx, id, conn)
	})
	wg.Go(func() {
		<-ctx.Done()
		ctl.Orch.Disconnect(id)
		conn.Close()
	})
	wg.Wait()
	log.Info().Str("module", "signal").Str("pid", string(id)).Msg("WS connection closed")
}
