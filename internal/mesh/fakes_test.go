package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/media"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// memRelay is the real orchestrator behind in-memory connections.
type memRelay struct {
	orch    *orch.Orchestrator
	signals atomic.Int32

	mu    sync.Mutex
	conns []*memConn
}

func newMemRelay() *memRelay {
	return &memRelay{orch: &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    core.NewRoomManager(),
		Policy:   app.SimplePolicy{},
	}}
}

func (r *memRelay) dialer() Dialer {
	return func(ctx context.Context) (RelayLink, error) {
		return r.connect(), nil
	}
}

func (r *memRelay) connect() *memConn {
	c := &memConn{relay: r, in: make(chan protocol.ServerMessage, 256)}
	c.id = r.orch.Connect(c, func() { c.drop(errors.New("kicked")) })
	r.mu.Lock()
	r.conns = append(r.conns, c)
	r.mu.Unlock()
	return c
}

// dropAll simulates the relay going away under every client.
func (r *memRelay) dropAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = nil
	r.mu.Unlock()
	for _, c := range conns {
		c.drop(errors.New("relay restarted"))
	}
}

type memConn struct {
	relay *memRelay
	id    domain.ParticipantID
	in    chan protocol.ServerMessage

	mu     sync.Mutex
	closed bool
	err    error
}

// TrySend is the relay-side write into this client.
func (c *memConn) TrySend(f core.Frame) error {
	msg, err := protocol.DecodeServer(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.in <- msg:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// Send is the client-side write toward the relay, decoded the way the
// WebSocket adapter decodes it.
func (c *memConn) Send(m protocol.ClientMessage) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("closed")
	}
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	msg, err := protocol.DecodeClient(b)
	if err != nil {
		return err
	}
	switch v := msg.(type) {
	case protocol.JoinRoom:
		return c.relay.orch.Join(c.id, v)
	case protocol.LeaveRoom:
		c.relay.orch.Leave(c.id, v.RoomID)
	case protocol.SignalTo:
		c.relay.signals.Add(1)
		// The relay answers routing errors with an error frame, never a failed write.
		_, _ = c.relay.orch.Signal(c.id, v)
	}
	return nil
}

func (c *memConn) Incoming() <-chan protocol.ServerMessage { return c.in }

func (c *memConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *memConn) Close() { c.drop(nil) }

func (c *memConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *memConn) drop(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	close(c.in)
	c.mu.Unlock()
	c.relay.orch.Disconnect(c.id)
}

// fakeLink is a scripted TransportLink.
type fakeLink struct {
	owner string
	peer  domain.ParticipantID
	local *media.LocalStream

	failRemote bool

	mu         sync.Mutex
	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	applied    []string
	closed     bool
	onCand     func(webrtc.ICECandidateInit)
	onState    func(LinkState)
}

func (l *fakeLink) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer from " + l.owner}, nil
}

func (l *fakeLink) CreateAnswer() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remoteDesc == nil {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer from " + l.owner}, nil
}

func (l *fakeLink) SetLocalDescription(sd webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.localDesc = &sd
	return nil
}

func (l *fakeLink) SetRemoteDescription(sd webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failRemote {
		return errors.New("invalid remote description")
	}
	l.remoteDesc = &sd
	return nil
}

func (l *fakeLink) AddICECandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remoteDesc == nil {
		return errors.New("remote description not set")
	}
	if c.Candidate == "bad" {
		return errors.New("malformed candidate")
	}
	l.applied = append(l.applied, c.Candidate)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCand = fn
}

func (l *fakeLink) OnRemoteTrack(func(media.RemoteTrack)) {}

func (l *fakeLink) OnStateChange(fn func(LinkState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

func (l *fakeLink) emitCandidate(c string) {
	l.mu.Lock()
	fn := l.onCand
	l.mu.Unlock()
	fn(webrtc.ICECandidateInit{Candidate: c})
}

func (l *fakeLink) emitState(s LinkState) {
	l.mu.Lock()
	fn := l.onState
	l.mu.Unlock()
	fn(s)
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) appliedCandidates() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.applied...)
}

// fakeNet hands out fakeLinks and remembers them per owner.
type fakeNet struct {
	mu         sync.Mutex
	links      map[string][]*fakeLink
	failRemote map[string]bool
	opened     atomic.Int32
}

func newFakeNet() *fakeNet {
	return &fakeNet{links: make(map[string][]*fakeLink), failRemote: make(map[string]bool)}
}

func (n *fakeNet) factory(owner string) LinkFactory {
	return func(peer domain.ParticipantID, local *media.LocalStream) (TransportLink, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		l := &fakeLink{owner: owner, peer: peer, local: local, failRemote: n.failRemote[owner]}
		n.links[owner] = append(n.links[owner], l)
		n.opened.Add(1)
		return l, nil
	}
}

// link returns owner's most recent link toward peer.
func (n *fakeNet) link(owner string, peer domain.ParticipantID) (*fakeLink, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	links := n.links[owner]
	for i := len(links) - 1; i >= 0; i-- {
		if links[i].peer == peer {
			return links[i], nil
		}
	}
	return nil, fmt.Errorf("%s has no link to %s", owner, peer)
}

func (n *fakeNet) all(owner string) []*fakeLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*fakeLink(nil), n.links[owner]...)
}
