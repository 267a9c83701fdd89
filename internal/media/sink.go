package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RemoteTrack is the part of *webrtc.TrackRemote a sink reads from.
type RemoteTrack interface {
	ID() string
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type SinkStats struct {
	Packets uint64
	Bytes   uint64
	Lost    uint64
}

// Sink drains one remote track. Playback is outside this module; the sink
// keeps the receiver flowing and tracks what arrived.
type Sink struct {
	track RemoteTrack

	packets atomic.Uint64
	bytes   atomic.Uint64
	lost    atomic.Uint64
	lastSeq uint16
	started bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newSink(track RemoteTrack, cancel context.CancelFunc) *Sink {
	return &Sink{
		track:  track,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// loop reads RTP packets until the track ends or ctx is canceled.
func (s *Sink) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("sink ctx done")
			return
		default:
		}
		pkt, _, err := s.track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("remote track ended")
			} else {
				logger.Warn().Err(err).Msg("sink read RTP error, stopping")
			}
			return
		}
		s.account(pkt)
	}
}

func (s *Sink) account(pkt *rtp.Packet) {
	if s.started {
		if gap := pkt.SequenceNumber - s.lastSeq; gap > 1 && gap < 1<<15 {
			s.lost.Add(uint64(gap - 1))
		}
	}
	s.started = true
	s.lastSeq = pkt.SequenceNumber
	s.packets.Add(1)
	s.bytes.Add(uint64(len(pkt.Payload)))
}

func (s *Sink) Stats() SinkStats {
	return SinkStats{
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
		Lost:    s.lost.Load(),
	}
}

// Done is closed when the read loop has exited.
func (s *Sink) Done() <-chan struct{} { return s.done }

// SinkSet holds one sink per remote participant.
type SinkSet struct {
	mu    sync.RWMutex
	sinks map[string]*Sink
}

func NewSinkSet() *SinkSet {
	return &SinkSet{sinks: make(map[string]*Sink)}
}

// Start drains track for peer, replacing any previous sink of that peer.
func (m *SinkSet) Start(ctx context.Context, peer string, track RemoteTrack) *Sink {
	logger := log.With().
		Str("module", "media.sink").
		Str("peer", peer).
		Str("track_id", track.ID()).
		Logger()

	sinkCtx, cancel := context.WithCancel(ctx)
	sink := newSink(track, cancel)

	m.mu.Lock()
	if old, ok := m.sinks[peer]; ok {
		logger.Info().Msg("replacing existing sink for peer")
		old.cancel()
	}
	m.sinks[peer] = sink
	m.mu.Unlock()

	go sink.loop(sinkCtx, &logger)
	return sink
}

// Stop cancels the peer's sink. The loop exits on its next read, which the
// closed peer link ends promptly.
func (m *SinkSet) Stop(peer string) {
	m.mu.Lock()
	sink, ok := m.sinks[peer]
	delete(m.sinks, peer)
	m.mu.Unlock()
	if ok {
		sink.cancel()
	}
}

// StopAll cancels every sink and waits up to grace for their loops to exit.
func (m *SinkSet) StopAll(grace time.Duration) {
	m.mu.Lock()
	sinks := m.sinks
	m.sinks = make(map[string]*Sink)
	m.mu.Unlock()
	for _, s := range sinks {
		s.cancel()
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	for peer, s := range sinks {
		select {
		case <-s.Done():
		case <-timer.C:
			log.Warn().Str("module", "media.sink").Str("peer", peer).Msg("sink still reading after stop")
			return
		}
	}
}

func (m *SinkSet) Stats(peer string) (SinkStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sinks[peer]
	if !ok {
		return SinkStats{}, false
	}
	return s.Stats(), true
}
