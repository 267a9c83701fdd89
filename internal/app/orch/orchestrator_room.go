package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrRateLimited   = errors.New("join rate limited")
	ErrNotConnected  = errors.New("participant not connected")
	ErrInvalidMember = errors.New("invalid member metadata")
	ErrNotInRoom     = errors.New("sender is not in any room")
)

// Connect registers a new relay connection and returns its identity.
func (o *Orchestrator) Connect(conn core.SignalConnection, cancel func()) domain.ParticipantID {
	return o.Registry.BindSignal(conn, cancel)
}

// Join adds the participant to the room. The room itself sends the
// room-users snapshot to the newcomer and user-joined to the others.
func (o *Orchestrator) Join(id domain.ParticipantID, req protocol.JoinRoom) error {
	sess, ok := o.Registry.GetSession(id)
	if !ok {
		return ErrNotConnected
	}
	if !o.Limiter.Allow(id) {
		return ErrRateLimited
	}
	p := domain.Participant{ID: id, ProfilePic: req.ProfilePic}
	if err := p.SetUsername(req.Username); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMember, err)
	}
	m := core.Member{Participant: p, Signal: sess.Signal()}

	for {
		room := o.Rooms.GetOrCreate(req.RoomID)
		res, joined, err := room.Join(m)
		if errors.Is(err, core.ErrRoomClosed) {
			continue
		}
		if err != nil {
			return err
		}
		if !joined {
			log.Debug().Str("module", "orch").Str("pid", string(id)).Str("room", string(req.RoomID)).Msg("already in room")
			return nil
		}
		if !o.Registry.AddRoom(id, req.RoomID) {
			// Disconnected while joining: undo so the room does not keep a ghost.
			o.leaveRoom(room, id)
			return ErrNotConnected
		}
		log.Info().Str("module", "orch").Str("pid", string(id)).Str("room", string(req.RoomID)).Msg("added to room")
		o.applyPolicy(room, res)
		return nil
	}
}

// Leave removes the participant from one room. Idempotent.
func (o *Orchestrator) Leave(id domain.ParticipantID, roomID domain.RoomID) {
	o.Registry.RemoveRoom(id, roomID)
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}
	o.leaveRoom(room, id)
}

// Disconnect removes the participant from every room it was in; each room
// announces the departure exactly once.
func (o *Orchestrator) Disconnect(id domain.ParticipantID) {
	rooms, ok := o.Registry.Unbind(id)
	if !ok {
		return
	}
	o.Limiter.Forget(id)
	for _, roomID := range rooms {
		if room, ok := o.Rooms.Get(roomID); ok {
			o.leaveRoom(room, id)
		}
	}
	log.Info().Str("module", "orch").Str("pid", string(id)).Int("rooms", len(rooms)).Msg("disconnected")
}

func (o *Orchestrator) leaveRoom(room core.RoomService, id domain.ParticipantID) {
	res, left := room.Leave(id)
	if !left {
		return
	}
	roomID := room.Room().ID
	log.Info().Str("module", "orch").Str("pid", string(id)).Str("room", string(roomID)).Msg("removed from room")
	if o.Rooms.Release(roomID) {
		return
	}
	o.applyPolicy(room, res)
}

// Members returns the current membership of a room.
func (o *Orchestrator) Members(roomID domain.RoomID) ([]domain.Participant, bool) {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil, false
	}
	return room.MembersSnapshot(), true
}
