package app

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	id     domain.ParticipantID
	signal core.SignalConnection
	cancel context.CancelFunc
	rooms  map[domain.RoomID]struct{}
}

func (e *sessionEntry) ID() domain.ParticipantID       { return e.id }
func (e *sessionEntry) Signal() core.SignalConnection { return e.signal }
func (e *sessionEntry) Cancel() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Registry tracks every live relay connection and the rooms it joined.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ParticipantID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.ParticipantID]*sessionEntry),
	}
}

// BindSignal registers a new connection under a fresh participant id.
func (r *Registry) BindSignal(conn core.SignalConnection, cancel context.CancelFunc) domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := domain.NewParticipantID()
	for _, taken := r.sessions[id]; taken; _, taken = r.sessions[id] {
		id = domain.NewParticipantID()
	}
	r.sessions[id] = &sessionEntry{
		id:     id,
		signal: conn,
		cancel: cancel,
		rooms:  make(map[domain.RoomID]struct{}),
	}
	log.Info().Str("module", "app.registry").Str("pid", string(id)).Msg("bound signal")
	return id
}

func (r *Registry) GetSession(id domain.ParticipantID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e, true
	}
	return nil, false
}

// Unbind forgets the connection and returns the rooms it was still in.
func (r *Registry) Unbind(id domain.ParticipantID) ([]domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("pid", string(id)).Int("rooms", len(e.rooms)).Msg("unbind session")
	return slices.Collect(maps.Keys(e.rooms)), true
}

// AddRoom records membership; false if the connection is already gone.
func (r *Registry) AddRoom(id domain.ParticipantID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return false
	}
	e.rooms[room] = struct{}{}
	return true
}

func (r *Registry) RemoveRoom(id domain.ParticipantID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		delete(e.rooms, room)
	}
}

func (r *Registry) RoomsOf(id domain.ParticipantID) []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil
	}
	return slices.Collect(maps.Keys(e.rooms))
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Cancel stops the connection's pumps; the adapter disconnects it afterwards.
func (r *Registry) Cancel(id domain.ParticipantID) bool {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.Cancel()
	log.Info().Str("module", "app.registry").Str("pid", string(id)).Msg("canceled session")
	return true
}
