package mesh

import (
	"errors"
	"fmt"

	"github.com/dkeye/voicemesh/internal/domain"
)

var (
	ErrRelayLost     = errors.New("relay connection lost")
	ErrNotRunning    = errors.New("controller not running")
	ErrNoLocalAudio  = errors.New("no local audio, receive-only")
	ErrAlreadyJoined = errors.New("controller already started")
	ErrOutOfOrder    = errors.New("unexpected signal for negotiation state")
	ErrTimeout       = errors.New("negotiation timed out")
)

// NegotiationError reports which step of a peer negotiation failed.
type NegotiationError struct {
	Peer domain.ParticipantID
	Op   string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s: %s: %v", e.Peer, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
