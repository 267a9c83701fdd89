// Package media owns the local audio track and drains remote ones.
package media

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoDevice = errors.New("no audio capture device")
	ErrClosed   = errors.New("local stream closed")
)

const frameDuration = 20 * time.Millisecond

// opusSilence is a single Opus frame encoding 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

type StreamState int32

const (
	StreamMuted StreamState = iota
	StreamLive
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamMuted:
		return "muted"
	case StreamLive:
		return "live"
	default:
		return "closed"
	}
}

// FrameSource yields encoded Opus frames of frameDuration each.
type FrameSource interface {
	NextFrame() ([]byte, error)
}

type silence struct{}

func (silence) NextFrame() ([]byte, error) { return opusSilence, nil }

type AudioOptions struct {
	// Disabled simulates a capture device that cannot be opened.
	Disabled bool
	// Source defaults to silence.
	Source FrameSource
}

// LocalStream is the participant's outgoing audio. It starts muted; muting
// only stops writing samples, the track stays negotiated.
type LocalStream struct {
	track  *webrtc.TrackLocalStaticSample
	source FrameSource
	state  atomic.Int32
	sent   atomic.Uint64

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// AcquireLocalAudio opens the capture source and starts pacing frames into an
// Opus track.
func AcquireLocalAudio(opts AudioOptions) (*LocalStream, error) {
	if opts.Disabled {
		return nil, ErrNoDevice
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"voicemesh-"+uuid.NewString(),
	)
	if err != nil {
		return nil, err
	}
	src := opts.Source
	if src == nil {
		src = silence{}
	}
	s := &LocalStream{
		track:  track,
		source: src,
		stop:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.pump()
	log.Info().Str("module", "media").Str("stream_id", track.StreamID()).Msg("local audio acquired")
	return s, nil
}

func (s *LocalStream) pump() {
	defer s.wg.Done()
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		if s.State() != StreamLive {
			continue
		}
		frame, err := s.source.NextFrame()
		if err != nil {
			log.Error().Err(err).Str("module", "media").Msg("capture source failed, muting")
			s.state.CompareAndSwap(int32(StreamLive), int32(StreamMuted))
			continue
		}
		if err := s.track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
			log.Debug().Err(err).Str("module", "media").Msg("write sample")
			continue
		}
		s.sent.Add(1)
	}
}

// Track is attached to every peer link.
func (s *LocalStream) Track() webrtc.TrackLocal { return s.track }

func (s *LocalStream) State() StreamState { return StreamState(s.state.Load()) }

func (s *LocalStream) Enabled() bool { return s.State() == StreamLive }

// FramesSent counts frames handed to the track while live.
func (s *LocalStream) FramesSent() uint64 { return s.sent.Load() }

// SetEnabled toggles mute without renegotiation.
func (s *LocalStream) SetEnabled(enabled bool) error {
	from, to := StreamLive, StreamMuted
	if enabled {
		from, to = StreamMuted, StreamLive
	}
	if !s.state.CompareAndSwap(int32(from), int32(to)) && s.State() == StreamClosed {
		return ErrClosed
	}
	log.Info().Str("module", "media").Bool("enabled", enabled).Msg("local audio toggled")
	return nil
}

func (s *LocalStream) Close() {
	s.once.Do(func() {
		s.state.Store(int32(StreamClosed))
		close(s.stop)
		s.wg.Wait()
	})
}
