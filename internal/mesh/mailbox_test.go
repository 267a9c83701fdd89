package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMailboxKeepsOrderUntilClosed(t *testing.T) {
	m := newMailbox()
	assert.True(t, m.post(rejoinTick{}))
	assert.True(t, m.post(leaveRequest{}))
	assert.Len(t, m.ready, 1)
	assert.Equal(t, []event{rejoinTick{}, leaveRequest{}}, m.drain())
	assert.Empty(t, m.drain())

	m.close()
	assert.False(t, m.post(rejoinTick{}))
	assert.Empty(t, m.drain())
}
