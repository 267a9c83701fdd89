package rtc

import (
	"sync"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/media"
	"github.com/dkeye/voicemesh/internal/mesh"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Link is a mesh.TransportLink over a single PeerConnection.
type Link struct {
	pc   *webrtc.PeerConnection
	peer domain.ParticipantID

	mu      sync.Mutex
	onCand  func(webrtc.ICECandidateInit)
	onTrack func(media.RemoteTrack)
	onState func(mesh.LinkState)
}

func newLink(pc *webrtc.PeerConnection, peer domain.ParticipantID) *Link {
	l := &Link{pc: pc, peer: peer}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		l.mu.Lock()
		fn := l.onCand
		l.mu.Unlock()
		if fn != nil {
			fn(c.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", string(peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		l.mu.Lock()
		fn := l.onTrack
		l.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "webrtc").Str("peer", string(peer)).Str("peer_connection_state", s.String()).Msg("peer state")
		l.mu.Lock()
		fn := l.onState
		l.mu.Unlock()
		if fn != nil {
			fn(linkState(s))
		}
	})
	return l
}

func linkState(s webrtc.PeerConnectionState) mesh.LinkState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return mesh.LinkConnecting
	case webrtc.PeerConnectionStateConnected:
		return mesh.LinkConnected
	case webrtc.PeerConnectionStateDisconnected:
		return mesh.LinkDisconnected
	case webrtc.PeerConnectionStateFailed:
		return mesh.LinkFailed
	case webrtc.PeerConnectionStateClosed:
		return mesh.LinkClosed
	default:
		return mesh.LinkNew
	}
}

func (l *Link) CreateOffer() (webrtc.SessionDescription, error) { return l.pc.CreateOffer(nil) }

func (l *Link) CreateAnswer() (webrtc.SessionDescription, error) { return l.pc.CreateAnswer(nil) }

func (l *Link) SetLocalDescription(sd webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(sd)
}

func (l *Link) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(sd)
}

func (l *Link) AddICECandidate(c webrtc.ICECandidateInit) error { return l.pc.AddICECandidate(c) }

func (l *Link) Close() error {
	err := l.pc.Close()
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", string(l.peer)).Msg("close error")
	}
	return err
}

func (l *Link) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	l.mu.Lock()
	l.onCand = fn
	l.mu.Unlock()
}

func (l *Link) OnRemoteTrack(fn func(media.RemoteTrack)) {
	l.mu.Lock()
	l.onTrack = fn
	l.mu.Unlock()
}

func (l *Link) OnStateChange(fn func(mesh.LinkState)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
}
