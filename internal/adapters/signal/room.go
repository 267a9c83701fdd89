package signal

import (
	"errors"

	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleJoin adds the connection to a room. On success the room itself sends
// the room-users snapshot, so nothing is written here.
func (ctl *SignalWSController) handleJoin(id domain.ParticipantID, c *wsSignalConn, m protocol.JoinRoom) {
	log.Info().Str("module", "signal").Str("pid", string(id)).Str("room", string(m.RoomID)).Msg("join")
	err := ctl.Orch.Join(id, m)
	switch {
	case err == nil:
	case errors.Is(err, orch.ErrRateLimited):
		ctl.sendError(c, protocol.CodeRateLimited, "too many joins, slow down")
	case errors.Is(err, orch.ErrInvalidMember):
		ctl.sendError(c, protocol.CodeBadPayload, err.Error())
	default:
		log.Error().Err(err).Str("module", "signal").Str("pid", string(id)).Msg("join failed")
	}
}

// handleLeave exits one room; the connection stays open.
func (ctl *SignalWSController) handleLeave(id domain.ParticipantID, m protocol.LeaveRoom) {
	log.Info().Str("module", "signal").Str("pid", string(id)).Str("room", string(m.RoomID)).Msg("leave")
	ctl.Orch.Leave(id, m.RoomID)
}

// handleSignal forwards an offer, answer or candidate to its target, or to
// the whole room when no target is set.
func (ctl *SignalWSController) handleSignal(id domain.ParticipantID, c *wsSignalConn, m protocol.SignalTo) {
	_, err := ctl.Orch.Signal(id, m)
	switch {
	case err == nil:
	case errors.Is(err, orch.ErrNotInRoom):
		ctl.sendError(c, protocol.CodeNotInRoom, "join a room before signaling")
	default:
		log.Error().Err(err).Str("module", "signal").Str("pid", string(id)).Msg("signal failed")
	}
}
