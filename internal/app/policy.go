package app

import (
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what to do with a member whose outbound queue is full.
type Policy interface {
	OnBackPressure(room core.RoomService, member domain.ParticipantID) BackpressureAction
}

// SimplePolicy kicks slow members; a signaling client that cannot keep up
// misses offers and candidates anyway.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, member domain.ParticipantID) BackpressureAction {
	return KickMember
}

// LenientPolicy only drops the frame.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(core.RoomService, domain.ParticipantID) BackpressureAction {
	return DropFrame
}

// PolicyByName maps a configuration value to a policy.
func PolicyByName(name string) Policy {
	switch name {
	case "drop":
		return LenientPolicy{}
	default:
		return SimplePolicy{}
	}
}
