package mesh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/media"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/randutil"
	"github.com/rs/zerolog/log"
)

type SessionState int32

const (
	SessionUnjoined SessionState = iota
	SessionJoining
	SessionJoined
	SessionLeaving
	SessionLeft
)

func (s SessionState) String() string {
	switch s {
	case SessionUnjoined:
		return "unjoined"
	case SessionJoining:
		return "joining"
	case SessionJoined:
		return "joined"
	case SessionLeaving:
		return "leaving"
	default:
		return "left"
	}
}

const (
	DefaultNegotiationTimeout = 10 * time.Second
	DefaultRejoinMin          = 500 * time.Millisecond
	DefaultRejoinMax          = 15 * time.Second

	// sinkGrace bounds how long leaving waits for remote audio readers.
	sinkGrace = time.Second
)

type Options struct {
	Room               domain.RoomID
	Username           string
	ProfilePic         string
	NegotiationTimeout time.Duration
	Rejoin             bool
	RejoinMin          time.Duration
	RejoinMax          time.Duration
	// OnRoster runs on the event loop after the peer set or a peer's state changed.
	OnRoster func([]PeerInfo)
}

// PeerInfo is a point-in-time view of one remote participant.
type PeerInfo struct {
	Participant domain.Participant
	Role        Role
	State       NegotiationState
	Link        LinkState
	Audio       media.SinkStats
}

// Controller is one participant's room session. All session state is owned
// by a single event loop; other goroutines only post events to it.
type Controller struct {
	opts  Options
	dial  Dialer
	links LinkFactory

	box      *mailbox
	done     chan struct{}
	doneOnce sync.Once
	state    atomic.Int32

	mu       sync.RWMutex
	started  bool
	local    *media.LocalStream
	mediaErr error
	err      error
	roster   []PeerInfo

	// Loop-owned.
	ctx      context.Context
	relay    RelayLink
	relayGen int
	registry *PeerRegistry
	sessions map[domain.ParticipantID]*Negotiation
	sinks    *media.SinkSet
	backoff  time.Duration
	rng      randutil.MathRandomGenerator
	dirty    bool
}

func NewController(opts Options, dial Dialer, links LinkFactory) *Controller {
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if opts.RejoinMin <= 0 {
		opts.RejoinMin = DefaultRejoinMin
	}
	if opts.RejoinMax < opts.RejoinMin {
		opts.RejoinMax = max(DefaultRejoinMax, opts.RejoinMin)
	}
	return &Controller{
		opts:     opts,
		dial:     dial,
		links:    links,
		box:      newMailbox(),
		done:     make(chan struct{}),
		registry: NewPeerRegistry(),
		sessions: make(map[domain.ParticipantID]*Negotiation),
		sinks:    media.NewSinkSet(),
		rng:      randutil.NewMathRandomGenerator(),
	}
}

// Start acquires local audio, connects to the relay and requests the join.
// A failing acquire does not fail Start: the session continues receive-only
// and MediaErr reports why. Start returns once join-room is sent; Joined is
// reached asynchronously.
func (c *Controller) Start(ctx context.Context, acquire func() (*media.LocalStream, error)) error {
	c.mu.Lock()
	if c.started || c.State() == SessionLeft {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.started = true
	if acquire != nil {
		local, err := acquire()
		if err != nil {
			c.mediaErr = err
			log.Warn().Err(err).Str("module", "mesh").Msg("no local audio, joining receive-only")
		} else {
			c.local = local
		}
	}
	c.mu.Unlock()

	relay, err := c.dial(ctx)
	if err != nil {
		c.finish(fmt.Errorf("dial relay: %w", err))
		return c.Err()
	}
	c.ctx = ctx
	c.attachRelay(relay)
	if err := c.sendJoin(); err != nil {
		relay.Close()
		c.finish(err)
		return err
	}
	go c.run(ctx)
	return nil
}

// Leave closes every peer link and the relay connection, then waits for the
// loop to stop. Safe to call in any state, more than once.
func (c *Controller) Leave() {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		c.finish(nil)
		return
	}
	c.box.post(leaveRequest{})
	<-c.done
}

// SetMuted toggles the local audio track without renegotiating.
func (c *Controller) SetMuted(muted bool) error {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		return ErrNotRunning
	}
	reply := make(chan error, 1)
	c.box.post(muteRequest{enabled: !muted, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrNotRunning
	}
}

func (c *Controller) State() SessionState { return SessionState(c.state.Load()) }

// Done is closed once the session reached Left.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Err is the reason the session ended, nil after a requested leave.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// MediaErr is the local audio acquisition failure, if any.
func (c *Controller) MediaErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mediaErr
}

// Degraded reports receive-only mode.
func (c *Controller) Degraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local == nil
}

// Peers returns the roster as of the last processed event.
func (c *Controller) Peers() []PeerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]PeerInfo(nil), c.roster...)
}

func (c *Controller) setState(s SessionState) {
	prev := SessionState(c.state.Swap(int32(s)))
	if prev != s {
		log.Info().Str("module", "mesh").Str("room", string(c.opts.Room)).Str("from", prev.String()).Str("to", s.String()).Msg("session state")
		c.dirty = true
	}
}

func (c *Controller) finish(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		local := c.local
		c.mu.Unlock()
		if local != nil {
			local.Close()
			log.Info().Str("module", "mesh").Uint64("frames_sent", local.FramesSent()).Msg("local audio released")
		}
		c.box.close()
		c.state.Store(int32(SessionLeft))
		close(c.done)
	})
}

func (c *Controller) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.teardown(nil)
			return
		case <-c.box.ready:
		}
		for _, ev := range c.box.drain() {
			if stop, err := c.handle(ev); stop {
				c.teardown(err)
				return
			}
		}
		if c.dirty {
			c.publishRoster()
		}
	}
}

// teardown runs Leaving -> Left: every link is closed before the relay.
func (c *Controller) teardown(err error) {
	wasJoined := c.State() == SessionJoined
	c.setState(SessionLeaving)
	if c.relay != nil && wasJoined {
		if sendErr := c.relay.Send(protocol.LeaveRoom{RoomID: c.opts.Room}); sendErr != nil {
			log.Debug().Err(sendErr).Str("module", "mesh").Msg("leave-room not sent")
		}
	}
	c.closeAllPeers()
	c.sinks.StopAll(sinkGrace)
	if c.relay != nil {
		c.relay.Close()
		c.relay = nil
	}
	c.publishRoster()
	c.finish(err)
	log.Info().Str("module", "mesh").Str("room", string(c.opts.Room)).Msg("left room")
}

func (c *Controller) attachRelay(r RelayLink) {
	c.relayGen++
	gen := c.relayGen
	c.relay = r
	go func() {
		for msg := range r.Incoming() {
			c.box.post(relayMessage{gen: gen, msg: msg})
		}
		c.box.post(relayClosed{gen: gen, err: r.Err()})
	}()
}

func (c *Controller) sendJoin() error {
	c.setState(SessionJoining)
	err := c.relay.Send(protocol.JoinRoom{
		RoomID:     c.opts.Room,
		Username:   c.opts.Username,
		ProfilePic: c.opts.ProfilePic,
	})
	if err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	return nil
}

func (c *Controller) scheduleRejoin() {
	if c.backoff == 0 {
		c.backoff = c.opts.RejoinMin
	} else {
		c.backoff = min(c.backoff*2, c.opts.RejoinMax)
	}
	half := c.backoff / 2
	delay := half + time.Duration(c.rng.Intn(int(half)+1))
	log.Info().Str("module", "mesh").Dur("delay", delay).Msg("rejoin scheduled")
	time.AfterFunc(delay, func() { c.box.post(rejoinTick{}) })
}

func (c *Controller) publishRoster() {
	c.dirty = false
	peers := c.registry.List()
	roster := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		info := PeerInfo{Participant: p}
		if n, ok := c.sessions[p.ID]; ok {
			info.Role = n.Role()
			info.State = n.State()
			info.Link = n.linkState
		}
		info.Audio, _ = c.sinks.Stats(string(p.ID))
		roster = append(roster, info)
	}
	c.mu.Lock()
	c.roster = roster
	c.mu.Unlock()
	if c.opts.OnRoster != nil {
		c.opts.OnRoster(roster)
	}
}
