package core

import (
	"sync"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
// Membership changes and the frames they produce happen under mu, so every
// member observes joins and leaves in the same order.
type roomImpl struct {
	room *domain.Room

	mu      sync.RWMutex
	members map[domain.ParticipantID]Member
	order   []domain.ParticipantID
	closed  bool
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:    room,
		members: make(map[domain.ParticipantID]Member),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) Has(id domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

func (r *roomImpl) Join(m Member) (PublishResult, bool, error) {
	id := m.Participant.ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return PublishResult{}, false, ErrRoomClosed
	}
	if _, ok := r.members[id]; ok {
		return PublishResult{}, false, nil
	}

	snapshot := r.snapshotLocked()
	usersFrame, err := protocol.Encode(protocol.RoomUsers{Users: snapshot})
	if err != nil {
		return PublishResult{}, false, err
	}
	joinedFrame, err := protocol.Encode(protocol.UserJoined{Participant: m.Participant})
	if err != nil {
		return PublishResult{}, false, err
	}

	res := r.fanoutLocked(id, joinedFrame)
	r.members[id] = m
	r.order = append(r.order, id)
	if err := m.Signal.TrySend(usersFrame); err != nil {
		res.Dropped = append(res.Dropped, id)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("pid", string(id)).Int("members", len(r.members)).Msg("member joined")
	return res, true, nil
}

func (r *roomImpl) Leave(id domain.ParticipantID) (PublishResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return PublishResult{}, false
	}
	delete(r.members, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	leftFrame, err := protocol.Encode(protocol.UserLeft{ID: id})
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Msg("encode user-left")
		return PublishResult{}, true
	}
	res := r.fanoutLocked(id, leftFrame)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("pid", string(id)).Int("members", len(r.members)).Msg("member left")
	return res, true
}

func (r *roomImpl) SendTo(from, to domain.ParticipantID, f Frame) (PublishResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.members[from]; !ok {
		return PublishResult{}, false
	}
	target, ok := r.members[to]
	if !ok {
		return PublishResult{}, false
	}
	if err := target.Signal.TrySend(f); err != nil {
		return PublishResult{Dropped: []domain.ParticipantID{to}}, true
	}
	return PublishResult{SendTo: 1}, true
}

func (r *roomImpl) Broadcast(from domain.ParticipantID, f Frame, reached map[domain.ParticipantID]struct{}) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for _, id := range r.order {
		if id == from {
			continue
		}
		if reached != nil {
			if _, ok := reached[id]; ok {
				continue
			}
			reached[id] = struct{}{}
		}
		if err := r.members[id].Signal.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// close marks the room released if it is empty.
func (r *roomImpl) close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 {
		return false
	}
	r.closed = true
	return true
}

func (r *roomImpl) snapshotLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id].Participant)
	}
	return out
}

func (r *roomImpl) fanoutLocked(from domain.ParticipantID, f Frame) PublishResult {
	res := PublishResult{}
	for _, id := range r.order {
		if id == from {
			continue
		}
		if err := r.members[id].Signal.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SendTo++
	}
	return res
}
