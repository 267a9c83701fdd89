package mesh

import (
	"slices"
	"strings"

	"github.com/dkeye/voicemesh/internal/domain"
)

// PeerRegistry is the participant's view of the other room members. Only
// the controller loop touches it.
type PeerRegistry struct {
	peers map[domain.ParticipantID]domain.Participant
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[domain.ParticipantID]domain.Participant)}
}

// Add records or refreshes a peer; false if it was already present.
func (r *PeerRegistry) Add(p domain.Participant) bool {
	_, existed := r.peers[p.ID]
	r.peers[p.ID] = p
	return !existed
}

func (r *PeerRegistry) Remove(id domain.ParticipantID) bool {
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

func (r *PeerRegistry) Get(id domain.ParticipantID) (domain.Participant, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// List returns peers ordered by username, then id.
func (r *PeerRegistry) List() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Participant) int {
		if c := strings.Compare(a.Username, b.Username); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}

func (r *PeerRegistry) Len() int { return len(r.peers) }

func (r *PeerRegistry) Clear() {
	clear(r.peers)
}
