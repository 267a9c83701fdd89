package core

import "github.com/dkeye/voicemesh/internal/domain"

// Member binds a participant's presence metadata and its transport endpoint.
// This is what a room stores and fans out to.
type Member struct {
	Participant domain.Participant
	Signal      SignalConnection
}

// MemberSession is the relay-wide view of one connection: the rooms it joined
// and how to tear it down.
type MemberSession interface {
	ID() domain.ParticipantID
	Signal() SignalConnection
	// Cancel stops the connection pumps; the adapter then disconnects it.
	Cancel()
}
