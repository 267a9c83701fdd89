package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, id domain.ParticipantID, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("pid", string(id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("pid", string(id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("pid", string(id)).Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, id domain.ParticipantID, c *wsSignalConn) {
	defer log.Info().Str("module", "signal").Str("pid", string(id)).Msg("readPump closing")

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("pid", string(id)).Msg("readPump read error")
			}
			return
		}
		ctl.dispatch(id, c, data)
	}
}

func (ctl *SignalWSController) dispatch(id domain.ParticipantID, c *wsSignalConn, data []byte) {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		code := protocol.CodeBadPayload
		if errors.Is(err, protocol.ErrUnknownType) {
			code = protocol.CodeUnknownType
		}
		log.Warn().Err(err).Str("module", "signal").Str("pid", string(id)).Msg("rejected frame")
		ctl.sendError(c, code, err.Error())
		return
	}

	switch m := msg.(type) {
	case protocol.JoinRoom:
		ctl.handleJoin(id, c, m)
	case protocol.LeaveRoom:
		ctl.handleLeave(id, m)
	case protocol.SignalTo:
		ctl.handleSignal(id, c, m)
	}
}

func (ctl *SignalWSController) sendError(c *wsSignalConn, code, message string) {
	frame, err := protocol.Encode(protocol.Error{Code: code, Message: message})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode error frame")
		return
	}
	_ = c.TrySend(frame)
}
