package mesh

import (
	"errors"
	"testing"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	sent []protocol.SignalData
	err  error
}

func (o *outbox) send(d protocol.SignalData) error {
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, d)
	return nil
}

func candidate(s string) webrtc.ICECandidateInit { return webrtc.ICECandidateInit{Candidate: s} }

// pair wires an offerer and an answerer directly, without a relay.
func pair() (*Negotiation, *fakeLink, *outbox, *Negotiation, *fakeLink, *outbox) {
	aLink, bLink := &fakeLink{owner: "A", peer: "B"}, &fakeLink{owner: "B", peer: "A"}
	aOut, bOut := &outbox{}, &outbox{}
	a := newNegotiation("B", RoleOfferer, aLink, aOut.send)
	b := newNegotiation("A", RoleAnswerer, bLink, bOut.send)
	return a, aLink, aOut, b, bLink, bOut
}

func TestOffererAndAnswererReachConnected(t *testing.T) {
	a, _, aOut, b, _, bOut := pair()

	require.NoError(t, a.Start())
	require.Len(t, aOut.sent, 1)
	require.NotNil(t, aOut.sent[0].Offer)

	require.NoError(t, b.HandleOffer(*aOut.sent[0].Offer))
	require.Len(t, bOut.sent, 1)
	require.NotNil(t, bOut.sent[0].Answer)

	require.NoError(t, a.HandleAnswer(*bOut.sent[0].Answer))

	assert.Equal(t, []NegotiationState{StateIdle, StateOfferCreated, StateOfferSent, StateAwaitingAnswer, StateConnected}, a.History())
	assert.Equal(t, []NegotiationState{StateIdle, StateOfferReceived, StateAnswerCreated, StateAnswerSent, StateConnected}, b.History())
}

func TestCandidateOrderDoesNotMatter(t *testing.T) {
	orders := map[string][]string{
		"before offer":  {"c1", "c2", "offer"},
		"interleaved":   {"c1", "offer", "c2"},
		"after offer":   {"offer", "c2", "c1"},
		"only buffered": {"c2", "c1", "offer"},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			a, _, aOut, b, bLink, bOut := pair()
			require.NoError(t, a.Start())
			for _, step := range order {
				if step == "offer" {
					require.NoError(t, b.HandleOffer(*aOut.sent[0].Offer))
					continue
				}
				require.NoError(t, b.HandleCandidate(candidate(step)))
			}
			require.NoError(t, a.HandleAnswer(*bOut.sent[0].Answer))
			assert.Equal(t, StateConnected, a.State())
			assert.Equal(t, StateConnected, b.State())
			assert.ElementsMatch(t, []string{"c1", "c2"}, bLink.appliedCandidates())
		})
	}
}

func TestBadCandidateIsNotFatal(t *testing.T) {
	a, _, aOut, b, bLink, _ := pair()
	require.NoError(t, a.Start())
	require.NoError(t, b.HandleCandidate(candidate("bad")))
	require.NoError(t, b.HandleOffer(*aOut.sent[0].Offer))

	err := b.HandleCandidate(candidate("bad"))
	var nerr *NegotiationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "add candidate", nerr.Op)
	assert.Equal(t, StateConnected, b.State())

	require.NoError(t, b.HandleCandidate(candidate("good")))
	assert.Equal(t, []string{"good"}, bLink.appliedCandidates())
}

func TestOutOfOrderSignalsAreIgnored(t *testing.T) {
	a, _, aOut, b, _, _ := pair()

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "early"}
	assert.ErrorIs(t, a.HandleAnswer(answer), ErrOutOfOrder)
	assert.Equal(t, StateIdle, a.State())

	require.NoError(t, a.Start())
	assert.ErrorIs(t, a.Start(), ErrOutOfOrder)
	assert.ErrorIs(t, a.HandleOffer(*aOut.sent[0].Offer), ErrOutOfOrder)
	assert.Equal(t, StateAwaitingAnswer, a.State())

	require.NoError(t, b.HandleOffer(*aOut.sent[0].Offer))
	assert.ErrorIs(t, b.HandleOffer(*aOut.sent[0].Offer), ErrOutOfOrder)
	assert.Equal(t, StateConnected, b.State())
}

func TestApplyFailureReportsStep(t *testing.T) {
	link := &fakeLink{owner: "B", peer: "A", failRemote: true}
	out := &outbox{}
	n := newNegotiation("A", RoleAnswerer, link, out.send)

	err := n.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"})
	var nerr *NegotiationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "apply offer", nerr.Op)
	assert.Empty(t, out.sent)
}

func TestSendFailureSurfaces(t *testing.T) {
	link := &fakeLink{owner: "A", peer: "B"}
	relayDown := errors.New("relay down")
	n := newNegotiation("B", RoleOfferer, link, (&outbox{err: relayDown}).send)
	assert.ErrorIs(t, n.Start(), relayDown)
	assert.Equal(t, StateOfferCreated, n.State())
}

func TestCloseStopsEverything(t *testing.T) {
	a, aLink, aOut, _, _, _ := pair()
	require.NoError(t, a.Start())

	a.Close()
	a.Close()
	assert.True(t, aLink.isClosed())
	assert.Equal(t, StateClosed, a.State())

	require.NoError(t, a.SendLocalCandidate(candidate("late")))
	assert.Len(t, aOut.sent, 1, "nothing is sent after close")
	assert.NoError(t, a.HandleCandidate(candidate("late")))
}

func TestPeerRegistry(t *testing.T) {
	r := NewPeerRegistry()
	assert.True(t, r.Add(participantNamed("b", "bob")))
	assert.True(t, r.Add(participantNamed("a", "alice")))
	assert.False(t, r.Add(participantNamed("a", "alice2")))

	p, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alice2", p.Username)
	assert.Equal(t, "alice2", r.List()[0].Username)

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.Equal(t, 1, r.Len())
	r.Clear()
	assert.Empty(t, r.List())
}

func participantNamed(id, name string) domain.Participant {
	return domain.Participant{ID: domain.ParticipantID(id), Username: name}
}
