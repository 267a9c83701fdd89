// Package rtc backs mesh transport links with pion PeerConnections.
package rtc

import (
	"fmt"

	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/media"
	"github.com/dkeye/voicemesh/internal/mesh"
	"github.com/pion/interceptor"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Option func(*webrtc.SettingEngine)

// WithNet swaps the network stack, e.g. for a virtual network in tests.
func WithNet(n transport.Net) Option {
	return func(se *webrtc.SettingEngine) { se.SetNet(n) }
}

// Factory opens PeerConnections sharing one codec and interceptor setup.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// ICEServers converts configured STUN/TURN entries.
func ICEServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

func NewFactory(iceServers []webrtc.ICEServer, opts ...Option) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}
	for _, o := range opts {
		o(&se)
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api, config: webrtc.Configuration{ICEServers: iceServers}}, nil
}

// Open creates a link toward peer. With local audio the track is sent,
// otherwise the link only receives.
func (f *Factory) Open(peer domain.ParticipantID, local *media.LocalStream) (mesh.TransportLink, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	if local != nil {
		sender, err := pc.AddTrack(local.Track())
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
		go drainRTCP(sender)
	} else {
		_, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add recvonly transceiver: %w", err)
		}
	}
	l := newLink(pc, peer)
	log.Debug().Str("module", "webrtc").Str("peer", string(peer)).Bool("send", local != nil).Msg("link opened")
	return l, nil
}

// drainRTCP keeps the sender's interceptors running until the link closes.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
