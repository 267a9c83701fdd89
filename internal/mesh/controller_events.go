package mesh

import (
	"errors"
	"fmt"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/media"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type event any

type relayMessage struct {
	gen int
	msg protocol.ServerMessage
}

type relayClosed struct {
	gen int
	err error
}

type relayDialed struct {
	relay RelayLink
	err   error
}

type rejoinTick struct{}

type localCandidate struct {
	n *Negotiation
	c webrtc.ICECandidateInit
}

type remoteTrack struct {
	n     *Negotiation
	track media.RemoteTrack
}

type linkStateChanged struct {
	n     *Negotiation
	state LinkState
}

type negotiationTimeout struct{ n *Negotiation }

type muteRequest struct {
	enabled bool
	reply   chan error
}

type leaveRequest struct{}

// handle processes one event; stop asks the loop to tear down with err.
func (c *Controller) handle(ev event) (stop bool, err error) {
	switch e := ev.(type) {
	case relayMessage:
		if e.gen == c.relayGen {
			c.onRelayMessage(e.msg)
		}
	case relayClosed:
		if e.gen == c.relayGen && c.relay != nil {
			return c.onRelayLost(e.err)
		}
	case rejoinTick:
		if c.State() == SessionUnjoined {
			go func() {
				if c.ctx.Err() != nil {
					return
				}
				r, err := c.dial(c.ctx)
				// A loop that stopped meanwhile will never attach r.
				if !c.box.post(relayDialed{relay: r, err: err}) && err == nil {
					r.Close()
				}
			}()
		}
	case relayDialed:
		c.onRelayDialed(e)
	case localCandidate:
		if c.current(e.n) {
			if err := e.n.SendLocalCandidate(e.c); err != nil {
				log.Debug().Err(err).Str("module", "mesh").Msg("candidate not sent")
			}
		}
	case remoteTrack:
		if c.current(e.n) {
			log.Info().Str("module", "mesh").Str("peer", string(e.n.peer)).Str("track_id", e.track.ID()).Msg("remote audio")
			c.sinks.Start(c.ctx, string(e.n.peer), e.track)
			c.dirty = true
		}
	case linkStateChanged:
		if c.current(e.n) {
			c.onLinkState(e.n, e.state)
		}
	case negotiationTimeout:
		if c.current(e.n) && e.n.State() != StateConnected {
			c.abandon(e.n, e.n.fail("wait "+e.n.State().String(), ErrTimeout))
		}
	case muteRequest:
		e.reply <- c.setEnabled(e.enabled)
	case leaveRequest:
		return true, nil
	}
	return false, nil
}

func (c *Controller) current(n *Negotiation) bool {
	return n.State() != StateClosed && c.sessions[n.peer] == n
}

func (c *Controller) setEnabled(enabled bool) error {
	c.mu.RLock()
	local := c.local
	c.mu.RUnlock()
	if local == nil {
		return ErrNoLocalAudio
	}
	return local.SetEnabled(enabled)
}

func (c *Controller) onRelayMessage(msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case protocol.RoomUsers:
		if c.State() != SessionJoining {
			log.Warn().Str("module", "mesh").Str("state", c.State().String()).Msg("unexpected room-users ignored")
			return
		}
		c.setState(SessionJoined)
		c.backoff = 0
		for _, p := range m.Users {
			c.addPeer(p, RoleAnswerer)
		}
	case protocol.UserJoined:
		if c.State() != SessionJoined {
			return
		}
		if _, ok := c.sessions[m.ID]; ok {
			log.Debug().Str("module", "mesh").Str("peer", string(m.ID)).Msg("duplicate user-joined ignored")
			return
		}
		n := c.addPeer(m.Participant, RoleOfferer)
		if n == nil {
			return
		}
		if err := n.Start(); err != nil {
			c.abandon(n, err)
			return
		}
		c.armTimeout(n)
	case protocol.UserLeft:
		if c.dropPeer(m.ID) {
			log.Info().Str("module", "mesh").Str("peer", string(m.ID)).Msg("peer left")
		}
	case protocol.SignalFrom:
		if c.State() != SessionJoined {
			return
		}
		c.onSignal(m)
	case protocol.Error:
		log.Warn().Str("module", "mesh").Str("code", m.Code).Str("message", m.Message).Msg("relay error")
	}
}

func (c *Controller) onSignal(m protocol.SignalFrom) {
	kind, err := m.Data.Kind()
	if err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(m.From)).Msg("dropping signal")
		return
	}
	n, ok := c.sessions[m.From]
	switch kind {
	case protocol.KindOffer:
		if !ok {
			if n = c.addPeer(domain.Participant{ID: m.From}, RoleAnswerer); n == nil {
				return
			}
		}
		err = n.HandleOffer(*m.Data.Offer)
	case protocol.KindAnswer:
		if !ok {
			log.Debug().Str("module", "mesh").Str("peer", string(m.From)).Msg("answer from unknown peer dropped")
			return
		}
		err = n.HandleAnswer(*m.Data.Answer)
	case protocol.KindCandidate:
		if !ok {
			log.Debug().Str("module", "mesh").Str("peer", string(m.From)).Msg("candidate from unknown peer dropped")
			return
		}
		if err := n.HandleCandidate(*m.Data.Candidate); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Msg("candidate dropped")
		}
		return
	}

	switch {
	case errors.Is(err, ErrOutOfOrder):
		log.Warn().Err(err).Str("module", "mesh").Str("state", n.State().String()).Msg("signal ignored")
	case err != nil:
		c.abandon(n, err)
	case n.State() == StateConnected:
		n.disarmTimeout()
		c.dirty = true
		log.Info().Str("module", "mesh").Str("peer", string(n.peer)).Str("role", n.role.String()).Msg("negotiation complete")
	}
}

func (c *Controller) onLinkState(n *Negotiation, s LinkState) {
	n.linkState = s
	c.dirty = true
	log.Info().Str("module", "mesh").Str("peer", string(n.peer)).Str("link", s.String()).Msg("link state")
	if s == LinkFailed {
		c.abandon(n, n.fail("link", errors.New("transport failed")))
	}
}

// addPeer opens a link and registers the peer with a fresh Negotiation. On
// failure the peer is not registered at all.
func (c *Controller) addPeer(p domain.Participant, role Role) *Negotiation {
	c.mu.RLock()
	local := c.local
	c.mu.RUnlock()
	link, err := c.links(p.ID, local)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(p.ID)).Msg("open link")
		return nil
	}
	n := newNegotiation(p.ID, role, link, c.sender(p.ID))
	link.OnLocalCandidate(func(cand webrtc.ICECandidateInit) { c.box.post(localCandidate{n: n, c: cand}) })
	link.OnRemoteTrack(func(t media.RemoteTrack) { c.box.post(remoteTrack{n: n, track: t}) })
	link.OnStateChange(func(s LinkState) { c.box.post(linkStateChanged{n: n, state: s}) })

	c.registry.Add(p)
	c.sessions[p.ID] = n
	c.dirty = true
	if role == RoleAnswerer {
		c.armTimeout(n)
	}
	log.Info().Str("module", "mesh").Str("peer", string(p.ID)).Str("username", p.Username).Str("role", role.String()).Msg("peer added")
	return n
}

func (c *Controller) armTimeout(n *Negotiation) {
	n.armTimeout(c.opts.NegotiationTimeout, func() { c.box.post(negotiationTimeout{n: n}) })
}

func (c *Controller) sender(peer domain.ParticipantID) func(protocol.SignalData) error {
	return func(d protocol.SignalData) error {
		if c.relay == nil {
			return ErrRelayLost
		}
		return c.relay.Send(protocol.SignalTo{To: peer, Data: d})
	}
}

func (c *Controller) abandon(n *Negotiation, err error) {
	log.Warn().Err(err).Str("module", "mesh").Str("peer", string(n.peer)).Msg("negotiation abandoned")
	if c.sessions[n.peer] == n {
		c.dropPeer(n.peer)
		return
	}
	n.Close()
}

// dropPeer closes the peer's link and forgets it.
func (c *Controller) dropPeer(id domain.ParticipantID) bool {
	n, ok := c.sessions[id]
	if ok {
		delete(c.sessions, id)
		n.Close()
	}
	c.sinks.Stop(string(id))
	removed := c.registry.Remove(id)
	if ok || removed {
		c.dirty = true
	}
	return ok || removed
}

func (c *Controller) closeAllPeers() {
	for id := range c.sessions {
		c.dropPeer(id)
	}
	c.registry.Clear()
}

func (c *Controller) onRelayLost(err error) (bool, error) {
	log.Warn().Err(err).Str("module", "mesh").Str("room", string(c.opts.Room)).Msg("relay connection lost")
	c.closeAllPeers()
	c.relay.Close()
	c.relay = nil
	c.setState(SessionUnjoined)
	if !c.opts.Rejoin {
		if err == nil {
			return true, ErrRelayLost
		}
		return true, fmt.Errorf("%w: %w", ErrRelayLost, err)
	}
	c.scheduleRejoin()
	return false, nil
}

func (c *Controller) onRelayDialed(e relayDialed) {
	if e.err != nil {
		log.Warn().Err(e.err).Str("module", "mesh").Msg("rejoin dial failed")
		if c.State() == SessionUnjoined {
			c.scheduleRejoin()
		}
		return
	}
	if c.State() != SessionUnjoined || c.relay != nil {
		e.relay.Close()
		return
	}
	c.attachRelay(e.relay)
	if err := c.sendJoin(); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Msg("rejoin failed")
	}
}
