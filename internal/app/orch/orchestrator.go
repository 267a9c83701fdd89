// Package orch is the signaling relay: it routes envelopes between the
// participants of a room and owns room membership.
package orch

import (
	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Limiter  *app.RoomRateLimiter
}

// applyPolicy runs after the room lock is released: kicking a member goes
// through its connection, which re-enters the orchestrator on Disconnect.
func (o *Orchestrator) applyPolicy(room core.RoomService, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("pid", string(slow)).Str("room", string(room.Room().ID)).Msg("kicking slow member")
			o.Registry.Cancel(slow)
		case app.DropFrame, app.NoAction:
			log.Debug().Str("module", "orch").Str("pid", string(slow)).Msg("frame dropped")
		}
	}
}

// Kick forcibly disconnects a participant; the normal disconnect path
// announces it to its rooms.
func (o *Orchestrator) Kick(id domain.ParticipantID) bool {
	return o.Registry.Cancel(id)
}
