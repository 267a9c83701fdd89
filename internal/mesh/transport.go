// Package mesh runs one participant's side of a full-mesh call: it joins a
// room through the relay and negotiates a direct link with every other member.
package mesh

import (
	"context"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/media"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type LinkState int

const (
	LinkNew LinkState = iota
	LinkConnecting
	LinkConnected
	LinkDisconnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDisconnected:
		return "disconnected"
	case LinkFailed:
		return "failed"
	default:
		return "closed"
	}
}

// TransportLink is one point-to-point media session with a remote participant.
// Callbacks may fire on any goroutine.
type TransportLink interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sd webrtc.SessionDescription) error
	SetRemoteDescription(sd webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	Close() error

	OnLocalCandidate(fn func(webrtc.ICECandidateInit))
	OnRemoteTrack(fn func(media.RemoteTrack))
	OnStateChange(fn func(LinkState))
}

// LinkFactory opens a link toward peer. local is nil in receive-only mode.
type LinkFactory func(peer domain.ParticipantID, local *media.LocalStream) (TransportLink, error)

// RelayLink is the participant's connection to the relay.
type RelayLink interface {
	Send(m protocol.ClientMessage) error
	Incoming() <-chan protocol.ServerMessage
	Err() error
	Close()
}

type Dialer func(ctx context.Context) (RelayLink, error)
