// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 64
	MaxUsernameLen      = 64
	MaxProfilePicLen    = 2048
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// ParticipantID is unique per relay connection. A reconnecting client gets a new one.
type ParticipantID string

type Participant struct {
	ID         ParticipantID `json:"id"`
	Username   string        `json:"username"`
	ProfilePic string        `json:"profilePic"`
}

// NewParticipantID is a tiny helper to avoid ad-hoc uuid calls in adapters.
func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

func (p *Participant) SetUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	p.Username = username
	return nil
}
