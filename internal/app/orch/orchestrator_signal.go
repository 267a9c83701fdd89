package orch

import (
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Signal routes an envelope and returns how many members received it. With a
// target it goes to that participant when it shares a room with the sender;
// an absent target is not an error, the envelope is dropped. Without a target
// every other member of the sender's rooms receives it once.
func (o *Orchestrator) Signal(from domain.ParticipantID, msg protocol.SignalTo) (int, error) {
	rooms := o.Registry.RoomsOf(from)
	if len(rooms) == 0 {
		return 0, ErrNotInRoom
	}
	frame, err := protocol.Encode(protocol.SignalFrom{From: from, Data: msg.Data})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("pid", string(from)).Msg("encode signal")
		return 0, err
	}

	if msg.To == "" {
		sent := 0
		reached := make(map[domain.ParticipantID]struct{})
		for _, roomID := range rooms {
			room, ok := o.Rooms.Get(roomID)
			if !ok {
				continue
			}
			res := room.Broadcast(from, frame, reached)
			sent += res.SendTo
			o.applyPolicy(room, res)
		}
		log.Debug().Str("module", "orch").Str("from", string(from)).Int("sent_to", sent).Msg("signal broadcast")
		return sent, nil
	}

	for _, roomID := range rooms {
		room, ok := o.Rooms.Get(roomID)
		if !ok {
			continue
		}
		res, delivered := room.SendTo(from, msg.To, frame)
		if !delivered {
			continue
		}
		o.applyPolicy(room, res)
		return res.SendTo, nil
	}
	log.Debug().Str("module", "orch").Str("from", string(from)).Str("to", string(msg.To)).Msg("signal target not present, dropped")
	return 0, nil
}
