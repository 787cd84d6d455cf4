package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureTracker_IncrementAndExhaustion(t *testing.T) {
	ft := NewFailureTracker()
	assert.False(t, ft.IsExhausted("tcp://a:1", 3))

	ft.Increment("tcp://a:1")
	ft.Increment("tcp://a:1")
	assert.False(t, ft.IsExhausted("tcp://a:1", 3))

	ft.Increment("tcp://a:1")
	assert.True(t, ft.IsExhausted("tcp://a:1", 3))
}

func TestFailureTracker_InfiniteNeverExhausts(t *testing.T) {
	ft := NewFailureTracker()
	for i := 0; i < 100; i++ {
		ft.Increment("tcp://a:1")
	}
	assert.False(t, ft.IsExhausted("tcp://a:1", -1))
}

func TestFailureTracker_Reset(t *testing.T) {
	ft := NewFailureTracker()
	ft.Increment("tcp://a:1")
	ft.Reset()
	assert.Equal(t, 0, ft.Count("tcp://a:1"))
}

func TestFailureTracker_AllExhausted(t *testing.T) {
	ft := NewFailureTracker()
	uris := []string{"tcp://a:1", "tcp://b:1"}

	assert.False(t, ft.AllExhausted(uris, 1))

	ft.Increment("tcp://a:1")
	assert.False(t, ft.AllExhausted(uris, 1))

	ft.Increment("tcp://b:1")
	assert.True(t, ft.AllExhausted(uris, 1))

	assert.False(t, ft.AllExhausted(nil, 1), "empty uri set is never exhausted")
}
