package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antmq/failover/internal/wire"
)

func id(seq int64) wire.MessageId { return wire.MessageId{ProducerId: "p1", Sequence: seq} }

func TestAudit_MarkSeen_DetectsDuplicate(t *testing.T) {
	a := New()
	assert.False(t, a.MarkSeen(id(1)))
	assert.True(t, a.MarkSeen(id(1)))
	assert.True(t, a.IsDuplicate(id(1)))
	assert.False(t, a.IsDuplicate(id(2)))
}

func TestAudit_IsInOrder(t *testing.T) {
	a := New()
	assert.True(t, a.IsInOrder(id(0)))
	a.MarkSeen(id(0))
	assert.True(t, a.IsInOrder(id(1)))
	assert.False(t, a.IsInOrder(id(5)))
}

func TestAudit_WindowWraparound(t *testing.T) {
	a := New()
	for i := int64(0); i < WindowSize+10; i++ {
		a.MarkSeen(id(i))
	}
	// An old sequence far behind the high water mark is outside the window's
	// memory, not a reported duplicate.
	assert.False(t, a.IsDuplicate(id(1)))
	// The most recent sequence is still tracked.
	assert.True(t, a.IsDuplicate(id(WindowSize + 9)))
}

func TestAudit_Rollback(t *testing.T) {
	a := New()
	a.MarkSeen(id(7))
	assert.True(t, a.IsDuplicate(id(7)))
	a.Rollback(id(7))
	assert.False(t, a.IsDuplicate(id(7)))
}

func TestAudit_SeparateProducersIndependent(t *testing.T) {
	a := New()
	a.MarkSeen(wire.MessageId{ProducerId: "p1", Sequence: 1})
	assert.False(t, a.IsDuplicate(wire.MessageId{ProducerId: "p2", Sequence: 1}))
}
