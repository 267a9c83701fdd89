package orch_test

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	msgs     []protocol.ServerMessage
	full     bool
	canceled bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return core.ErrBackpressure
	}
	msg, err := protocol.DecodeServer(f)
	if err != nil {
		return err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) messages() []protocol.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ServerMessage(nil), c.msgs...)
}

func (c *fakeConn) signals() []protocol.SignalFrom {
	var out []protocol.SignalFrom
	for _, m := range c.messages() {
		if s, ok := m.(protocol.SignalFrom); ok {
			out = append(out, s)
		}
	}
	return out
}

func (c *fakeConn) count(want protocol.ServerMessage) int {
	n := 0
	for _, m := range c.messages() {
		if m == want {
			n++
		}
	}
	return n
}

func newOrchestrator() *orch.Orchestrator {
	return &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    core.NewRoomManager(),
		Policy:   app.SimplePolicy{},
	}
}

func connect(o *orch.Orchestrator) (domain.ParticipantID, *fakeConn) {
	conn := &fakeConn{}
	id := o.Connect(conn, func() {
		conn.mu.Lock()
		conn.canceled = true
		conn.mu.Unlock()
	})
	return id, conn
}

func join(t *testing.T, o *orch.Orchestrator, id domain.ParticipantID, room domain.RoomID) {
	t.Helper()
	require.NoError(t, o.Join(id, protocol.JoinRoom{RoomID: room, Username: "user-" + string(id)}))
}

func ids(ps []domain.Participant) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func offer() protocol.SignalData {
	return protocol.OfferData(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
}

func TestScenarioJoinAndRouteOffer(t *testing.T) {
	o := newOrchestrator()
	a, aConn := connect(o)
	b, bConn := connect(o)

	join(t, o, a, "R1")
	assert.Equal(t, []protocol.ServerMessage{protocol.RoomUsers{Users: []domain.Participant{}}}, aConn.messages())

	join(t, o, b, "R1")
	aMsgs := aConn.messages()
	require.Len(t, aMsgs, 2)
	joined, ok := aMsgs[1].(protocol.UserJoined)
	require.True(t, ok)
	assert.Equal(t, b, joined.ID)

	bMsgs := bConn.messages()
	require.Len(t, bMsgs, 1)
	users, ok := bMsgs[0].(protocol.RoomUsers)
	require.True(t, ok)
	assert.Equal(t, []domain.ParticipantID{a}, ids(users.Users))

	n, err := o.Signal(a, protocol.SignalTo{To: b, Data: offer()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	sigs := bConn.signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, a, sigs[0].From)
	assert.NotNil(t, sigs[0].Data.Offer)
}

func TestSignalToDepartedPeerIsDropped(t *testing.T) {
	o := newOrchestrator()
	a, aConn := connect(o)
	b, bConn := connect(o)
	join(t, o, a, "R1")
	join(t, o, b, "R1")

	o.Disconnect(b)
	assert.Equal(t, 1, aConn.count(protocol.UserLeft{ID: b}))

	n, err := o.Signal(a, protocol.SignalTo{To: b, Data: offer()})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, bConn.signals())
}

func TestSignalRequiresSharedRoom(t *testing.T) {
	o := newOrchestrator()
	a, _ := connect(o)
	b, bConn := connect(o)
	join(t, o, a, "R1")
	join(t, o, b, "R2")

	n, err := o.Signal(a, protocol.SignalTo{To: b, Data: offer()})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, bConn.signals())
}

func TestBroadcastSignalReachesOthersOnce(t *testing.T) {
	o := newOrchestrator()
	a, aConn := connect(o)
	b, bConn := connect(o)
	c, cConn := connect(o)
	join(t, o, a, "R1")
	join(t, o, b, "R1")
	join(t, o, c, "R1")
	// b shares two rooms with a and still gets the envelope once.
	join(t, o, a, "R2")
	join(t, o, b, "R2")

	n, err := o.Signal(a, protocol.SignalTo{Data: offer()})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, aConn.signals())
	for _, conn := range []*fakeConn{bConn, cConn} {
		sigs := conn.signals()
		require.Len(t, sigs, 1)
		assert.Equal(t, a, sigs[0].From)
	}
}

func TestSignalOutsideAnyRoom(t *testing.T) {
	o := newOrchestrator()
	a, _ := connect(o)
	b, bConn := connect(o)
	join(t, o, b, "R1")

	_, err := o.Signal(a, protocol.SignalTo{To: b, Data: offer()})
	assert.ErrorIs(t, err, orch.ErrNotInRoom)
	_, err = o.Signal(a, protocol.SignalTo{Data: offer()})
	assert.ErrorIs(t, err, orch.ErrNotInRoom)
	assert.Empty(t, bConn.signals())
}

func TestDisconnectAnnouncesOncePerRoom(t *testing.T) {
	o := newOrchestrator()
	a, _ := connect(o)
	b, bConn := connect(o)
	c, cConn := connect(o)
	join(t, o, a, "R1")
	join(t, o, a, "R2")
	join(t, o, b, "R1")
	join(t, o, c, "R2")

	o.Disconnect(a)
	o.Disconnect(a)

	assert.Equal(t, 1, bConn.count(protocol.UserLeft{ID: a}))
	assert.Equal(t, 1, cConn.count(protocol.UserLeft{ID: a}))
	members, ok := o.Members("R1")
	require.True(t, ok)
	assert.Equal(t, []domain.ParticipantID{b}, ids(members))
}

func TestLeaveRoomThenEmptyRoomIsReleased(t *testing.T) {
	o := newOrchestrator()
	a, _ := connect(o)
	join(t, o, a, "R1")

	o.Leave(a, "R1")
	o.Leave(a, "R1")
	_, ok := o.Members("R1")
	assert.False(t, ok)

	join(t, o, a, "R1")
	members, ok := o.Members("R1")
	require.True(t, ok)
	assert.Len(t, members, 1)
}

func TestJoinRejectsInvalidUsername(t *testing.T) {
	o := newOrchestrator()
	a, _ := connect(o)
	err := o.Join(a, protocol.JoinRoom{RoomID: "R1"})
	assert.ErrorIs(t, err, orch.ErrInvalidMember)
	assert.ErrorIs(t, err, domain.ErrUsernameEmpty)
}

func TestJoinRateLimited(t *testing.T) {
	o := newOrchestrator()
	o.Limiter = app.NewRoomRateLimiter(2, time.Minute)
	a, _ := connect(o)
	join(t, o, a, "R1")
	join(t, o, a, "R2")
	assert.ErrorIs(t, o.Join(a, protocol.JoinRoom{RoomID: "R3", Username: "a"}), orch.ErrRateLimited)
}

func TestSlowMemberIsKicked(t *testing.T) {
	o := newOrchestrator()
	a, _ := connect(o)
	b, bConn := connect(o)
	join(t, o, a, "R1")
	join(t, o, b, "R1")

	bConn.mu.Lock()
	bConn.full = true
	bConn.mu.Unlock()
	_, _ = o.Signal(a, protocol.SignalTo{To: b, Data: offer()})

	bConn.mu.Lock()
	defer bConn.mu.Unlock()
	assert.True(t, bConn.canceled)
}

func TestKickUnknownParticipant(t *testing.T) {
	o := newOrchestrator()
	assert.False(t, o.Kick("ghost"))
}

// The relay's membership must equal the set of participants whose last
// action was a join.
func TestMembershipMatchesLastAction(t *testing.T) {
	o := newOrchestrator()
	rng := rand.New(rand.NewSource(7))
	var peers []domain.ParticipantID
	for i := 0; i < 8; i++ {
		id, _ := connect(o)
		peers = append(peers, id)
	}

	want := map[domain.ParticipantID]bool{}
	for step := 0; step < 200; step++ {
		id := peers[rng.Intn(len(peers))]
		if rng.Intn(2) == 0 {
			join(t, o, id, "R1")
			want[id] = true
		} else {
			o.Leave(id, "R1")
			delete(want, id)
		}
	}

	members, _ := o.Members("R1")
	got := map[domain.ParticipantID]bool{}
	for _, id := range ids(members) {
		assert.False(t, got[id], "duplicate member %s", id)
		got[id] = true
	}
	assert.Equal(t, want, got)
}
