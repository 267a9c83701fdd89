package core

import (
	"errors"

	"github.com/dkeye/voicemesh/internal/domain"
)

// ErrRoomClosed is returned by Join on a room the manager already released.
// Callers fetch a fresh room from the manager and retry.
var ErrRoomClosed = errors.New("room closed")

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []domain.ParticipantID
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []domain.Participant
	Has(id domain.ParticipantID) bool

	// Join adds m, sends it the snapshot of the other members and announces it
	// to them, all under the room lock. joined is false if m was already present.
	Join(m Member) (res PublishResult, joined bool, err error)
	// Leave removes id and announces it to the remaining members. Idempotent.
	Leave(id domain.ParticipantID) (res PublishResult, left bool)
	// SendTo delivers f to one member; delivered is false when either side is absent.
	SendTo(from, to domain.ParticipantID, f Frame) (res PublishResult, delivered bool)
	// Broadcast delivers f to every member except from. A non-nil reached set
	// skips members already served and records this call's recipients.
	Broadcast(from domain.ParticipantID, f Frame, reached map[domain.ParticipantID]struct{}) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"client_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	// Release drops the room if it is empty.
	Release(id domain.RoomID) bool
}
