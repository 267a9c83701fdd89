// Package relayclient is the participant's typed connection to the relay.
package relayclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var (
	ErrClosed       = errors.New("relay connection closed")
	ErrBackpressure = errors.New("relay send queue full")
)

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn     *websocket.Conn
	incoming chan protocol.ServerMessage
	outgoing chan []byte
	done     chan struct{}

	closeOnce sync.Once
	wg        conc.WaitGroup

	mu  sync.Mutex
	err error
}

// Dial connects to the relay and starts the pumps.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:     conn,
		incoming: make(chan protocol.ServerMessage, 16),
		outgoing: make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.wg.Go(c.readPump)
	c.wg.Go(c.writePump)
	log.Info().Str("module", "relayclient").Str("url", url).Msg("connected")
	return c, nil
}

func (c *Client) readPump() {
	defer func() {
		close(c.incoming)
		c.shutdown()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "relayclient").Msg("dropping inbound frame")
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.setErr(err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.setErr(err)
				c.shutdown()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes what is still queued, so a final leave-room precedes the
// close frame. It stops at the first write error.
func (c *Client) flush() {
	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues a message for the relay without blocking. It returns
// ErrBackpressure while the queue is full and ErrClosed once the connection
// is gone.
func (c *Client) Send(m protocol.ClientMessage) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Incoming yields decoded relay messages; it is closed when the connection ends.
func (c *Client) Incoming() <-chan protocol.ServerMessage {
	return c.incoming
}

// Err reports why the connection ended, nil after a local Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops both pumps and waits for them.
func (c *Client) Close() {
	c.shutdown()
	c.wg.Wait()
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	if c.err == nil {
		c.err = err
	}
}
