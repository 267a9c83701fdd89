package mesh

import (
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

type NegotiationState int

const (
	StateIdle NegotiationState = iota
	StateOfferCreated
	StateOfferSent
	StateAwaitingAnswer
	StateOfferReceived
	StateAnswerCreated
	StateAnswerSent
	StateConnected
	StateClosed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateOfferCreated:   "offer-created",
	StateOfferSent:      "offer-sent",
	StateAwaitingAnswer: "awaiting-answer",
	StateOfferReceived:  "offer-received",
	StateAnswerCreated:  "answer-created",
	StateAnswerSent:     "answer-sent",
	StateConnected:      "connected",
	StateClosed:         "closed",
}

func (s NegotiationState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Negotiation drives one TransportLink through the offer/answer exchange with
// a single peer. It is not safe for concurrent use.
type Negotiation struct {
	peer  domain.ParticipantID
	role  Role
	state NegotiationState
	link  TransportLink
	send  func(protocol.SignalData) error

	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
	history       []NegotiationState
	timer         *time.Timer
	linkState     LinkState
}

func newNegotiation(peer domain.ParticipantID, role Role, link TransportLink, send func(protocol.SignalData) error) *Negotiation {
	return &Negotiation{
		peer:    peer,
		role:    role,
		link:    link,
		send:    send,
		history: []NegotiationState{StateIdle},
	}
}

func (n *Negotiation) Peer() domain.ParticipantID { return n.peer }
func (n *Negotiation) Role() Role                 { return n.role }
func (n *Negotiation) State() NegotiationState    { return n.state }

// History lists every state entered, starting with Idle.
func (n *Negotiation) History() []NegotiationState {
	return append([]NegotiationState(nil), n.history...)
}

func (n *Negotiation) setState(s NegotiationState) {
	n.state = s
	n.history = append(n.history, s)
	log.Debug().Str("module", "mesh").Str("peer", string(n.peer)).Str("role", n.role.String()).Str("state", s.String()).Msg("negotiation state")
}

func (n *Negotiation) fail(op string, err error) error {
	return &NegotiationError{Peer: n.peer, Op: op, Err: err}
}

// Start sends the offer. Offerer only.
func (n *Negotiation) Start() error {
	if n.role != RoleOfferer || n.state != StateIdle {
		return n.fail("start", ErrOutOfOrder)
	}
	offer, err := n.link.CreateOffer()
	if err != nil {
		return n.fail("create offer", err)
	}
	n.setState(StateOfferCreated)
	if err := n.link.SetLocalDescription(offer); err != nil {
		return n.fail("set local offer", err)
	}
	if err := n.send(protocol.OfferData(offer)); err != nil {
		return n.fail("send offer", err)
	}
	n.setState(StateOfferSent)
	n.setState(StateAwaitingAnswer)
	return nil
}

// HandleOffer answers a remote offer. Answerer only, from Idle.
func (n *Negotiation) HandleOffer(offer webrtc.SessionDescription) error {
	if n.role != RoleAnswerer || n.state != StateIdle {
		return n.fail("offer", ErrOutOfOrder)
	}
	n.setState(StateOfferReceived)
	if err := n.applyRemote(offer); err != nil {
		return n.fail("apply offer", err)
	}
	answer, err := n.link.CreateAnswer()
	if err != nil {
		return n.fail("create answer", err)
	}
	n.setState(StateAnswerCreated)
	if err := n.link.SetLocalDescription(answer); err != nil {
		return n.fail("set local answer", err)
	}
	if err := n.send(protocol.AnswerData(answer)); err != nil {
		return n.fail("send answer", err)
	}
	n.setState(StateAnswerSent)
	n.setState(StateConnected)
	return nil
}

// HandleAnswer completes the exchange. Offerer only, from AwaitingAnswer.
func (n *Negotiation) HandleAnswer(answer webrtc.SessionDescription) error {
	if n.role != RoleOfferer || n.state != StateAwaitingAnswer {
		return n.fail("answer", ErrOutOfOrder)
	}
	if err := n.applyRemote(answer); err != nil {
		return n.fail("apply answer", err)
	}
	n.setState(StateConnected)
	return nil
}

// HandleCandidate applies a remote candidate, or buffers it until the remote
// description is set. Failures are returned for logging only.
func (n *Negotiation) HandleCandidate(c webrtc.ICECandidateInit) error {
	if n.state == StateClosed {
		return nil
	}
	if !n.remoteDescSet {
		n.pending = append(n.pending, c)
		return nil
	}
	if err := n.link.AddICECandidate(c); err != nil {
		return n.fail("add candidate", err)
	}
	return nil
}

// SendLocalCandidate forwards a locally gathered candidate to the peer.
func (n *Negotiation) SendLocalCandidate(c webrtc.ICECandidateInit) error {
	if n.state == StateClosed {
		return nil
	}
	if err := n.send(protocol.CandidateData(c)); err != nil {
		return n.fail("send candidate", err)
	}
	return nil
}

func (n *Negotiation) applyRemote(sd webrtc.SessionDescription) error {
	if err := n.link.SetRemoteDescription(sd); err != nil {
		return err
	}
	n.remoteDescSet = true
	pending := n.pending
	n.pending = nil
	for _, c := range pending {
		if err := n.link.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(n.peer)).Msg("buffered candidate rejected")
		}
	}
	return nil
}

// armTimeout (re)starts the deadline for reaching Connected.
func (n *Negotiation) armTimeout(d time.Duration, fire func()) {
	n.disarmTimeout()
	if d > 0 {
		n.timer = time.AfterFunc(d, fire)
	}
}

func (n *Negotiation) disarmTimeout() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

// Close releases the link. Idempotent.
func (n *Negotiation) Close() {
	if n.state == StateClosed {
		return
	}
	n.disarmTimeout()
	n.pending = nil
	n.setState(StateClosed)
	if err := n.link.Close(); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(n.peer)).Msg("close link")
	}
}
