package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_AddTakeReturn(t *testing.T) {
	p := New(false)
	assert.True(t, p.Add("tcp://a:1", false))
	assert.False(t, p.Add("tcp://a:1", false), "duplicate add should report no change")
	assert.True(t, p.Add("tcp://b:1", true))

	uri, ok := p.TakeNext()
	assert.True(t, ok)
	assert.Equal(t, "tcp://a:1", uri)

	// a is now in use; only b is available.
	uri2, ok := p.TakeNext()
	assert.True(t, ok)
	assert.Equal(t, "tcp://b:1", uri2)

	_, ok = p.TakeNext()
	assert.False(t, ok, "pool exhausted")

	p.Return("tcp://a:1")
	uri3, ok := p.TakeNext()
	assert.True(t, ok)
	assert.Equal(t, "tcp://a:1", uri3)
}

func TestPool_TakeNextPriority(t *testing.T) {
	p := New(false)
	p.Add("tcp://a:1", false)
	p.Add("tcp://b:1", true)

	uri, ok := p.TakeNextPriority()
	assert.True(t, ok)
	assert.Equal(t, "tcp://b:1", uri)

	_, ok = p.TakeNextPriority()
	assert.False(t, ok, "no more priority entries available")
}

func TestPool_AddAllRemoveAll(t *testing.T) {
	p := New(false)
	assert.True(t, p.AddAll([]string{"tcp://a:1", "tcp://b:1"}, false))
	assert.False(t, p.AddAll([]string{"tcp://a:1"}, false))

	assert.True(t, p.RemoveAll([]string{"tcp://a:1"}))
	assert.False(t, p.Contains("tcp://a:1"))
	assert.True(t, p.Contains("tcp://b:1"))
}

func TestPool_Normalize_TrimsWhitespace(t *testing.T) {
	p := New(false)
	p.Add("  tcp://a:1  ", false)
	assert.True(t, p.Contains("tcp://a:1"))
}

func TestPool_IsEmptyAndList(t *testing.T) {
	p := New(false)
	assert.True(t, p.IsEmpty())
	p.Add("tcp://a:1", false)
	assert.False(t, p.IsEmpty())
	assert.Equal(t, []string{"tcp://a:1"}, p.List())
}

func TestPool_Randomize_StillCoversAllEntries(t *testing.T) {
	p := New(true)
	p.AddAll([]string{"tcp://a:1", "tcp://b:1", "tcp://c:1"}, false)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		uri, ok := p.TakeNext()
		assert.True(t, ok)
		seen[uri] = true
	}
	assert.Len(t, seen, 3)
}
