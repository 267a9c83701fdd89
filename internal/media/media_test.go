package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireDisabledDevice(t *testing.T) {
	s, err := AcquireLocalAudio(AudioOptions{Disabled: true})
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrNoDevice)
}

type countingSource struct {
	mu sync.Mutex
	n  int
}

func (c *countingSource) NextFrame() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return opusSilence, nil
}

func (c *countingSource) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestLocalStreamStartsMutedAndToggles(t *testing.T) {
	src := &countingSource{}
	s, err := AcquireLocalAudio(AudioOptions{Source: src})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, StreamMuted, s.State())
	assert.Equal(t, "audio", s.Track().ID())
	time.Sleep(3 * frameDuration)
	assert.Zero(t, src.count())
	assert.Zero(t, s.FramesSent())

	require.NoError(t, s.SetEnabled(true))
	assert.True(t, s.Enabled())
	assert.Eventually(t, func() bool { return src.count() > 0 }, time.Second, frameDuration)
	assert.Eventually(t, func() bool { return s.FramesSent() > 0 }, time.Second, frameDuration)

	require.NoError(t, s.SetEnabled(false))
	assert.Equal(t, StreamMuted, s.State())
}

type failingSource struct{}

func (failingSource) NextFrame() ([]byte, error) { return nil, errors.New("device unplugged") }

func TestCaptureFailureMutes(t *testing.T) {
	s, err := AcquireLocalAudio(AudioOptions{Source: failingSource{}})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetEnabled(true))
	assert.Eventually(t, func() bool { return s.State() == StreamMuted }, time.Second, frameDuration)
}

func TestClosedStreamRejectsToggle(t *testing.T) {
	s, err := AcquireLocalAudio(AudioOptions{})
	require.NoError(t, err)
	s.Close()
	s.Close()
	assert.ErrorIs(t, s.SetEnabled(true), ErrClosed)
	assert.Equal(t, "closed", s.State().String())
}

type fakeTrack struct {
	pkts chan *rtp.Packet
}

func newFakeTrack() *fakeTrack { return &fakeTrack{pkts: make(chan *rtp.Packet, 16)} }

func (f *fakeTrack) ID() string { return "remote-audio" }

func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-f.pkts
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}, Payload: []byte{1, 2, 3}}
}

func TestSinkCountsPacketsAndGaps(t *testing.T) {
	set := NewSinkSet()
	track := newFakeTrack()
	sink := set.Start(context.Background(), "peer-a", track)

	for _, seq := range []uint16{10, 11, 14, 15} {
		track.pkts <- packet(seq)
	}
	close(track.pkts)

	select {
	case <-sink.Done():
	case <-time.After(time.Second):
		t.Fatal("sink did not stop at end of track")
	}
	stats, ok := set.Stats("peer-a")
	require.True(t, ok)
	assert.Equal(t, SinkStats{Packets: 4, Bytes: 12, Lost: 2}, stats)
}

func TestSinkSetReplaceAndStop(t *testing.T) {
	set := NewSinkSet()
	first := newFakeTrack()
	set.Start(context.Background(), "peer-a", first)
	second := newFakeTrack()
	sink := set.Start(context.Background(), "peer-a", second)

	set.Stop("peer-a")
	_, ok := set.Stats("peer-a")
	assert.False(t, ok)

	// The loop notices cancellation after its pending read returns.
	second.pkts <- packet(1)
	select {
	case <-sink.Done():
	case <-time.After(time.Second):
		t.Fatal("stopped sink kept running")
	}
	close(first.pkts)
	set.StopAll(time.Second)
}

func TestStopAllWaitsForLoops(t *testing.T) {
	set := NewSinkSet()
	ended := newFakeTrack()
	sink := set.Start(context.Background(), "peer-a", ended)
	close(ended.pkts)

	set.StopAll(time.Second)
	select {
	case <-sink.Done():
	default:
		t.Fatal("StopAll returned before the loop exited")
	}
	_, ok := set.Stats("peer-a")
	assert.False(t, ok)

	// This read never returns, so only the grace period ends the wait.
	stuck := newFakeTrack()
	sink = set.Start(context.Background(), "peer-b", stuck)
	start := time.Now()
	set.StopAll(50 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	close(stuck.pkts)
	select {
	case <-sink.Done():
	case <-time.After(time.Second):
		t.Fatal("sink did not stop once its read returned")
	}
}
