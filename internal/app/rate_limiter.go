package app

import (
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
)

// RoomRateLimiter bounds how often one connection may join rooms.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.ParticipantID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[domain.ParticipantID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RoomRateLimiter) Allow(id domain.ParticipantID) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}

	rl.history[id] = append(fresh, now)
	return true
}

// Forget drops the history of a disconnected participant.
func (rl *RoomRateLimiter) Forget(id domain.ParticipantID) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, id)
}
