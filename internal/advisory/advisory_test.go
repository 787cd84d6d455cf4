package advisory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProducerAdvisoryDestination(t *testing.T) {
	assert.Equal(t, "ActiveMQ.Advisory.Producer.Q", ProducerAdvisoryDestination("Q"))
}

func TestConsumerAdvisoryDestination(t *testing.T) {
	assert.Equal(t, "ActiveMQ.Advisory.Consumer.Q", ConsumerAdvisoryDestination("Q"))
}

func TestDLQDestination(t *testing.T) {
	assert.Equal(t, "ActiveMQ.DLQ.Q", DLQDestination("Q"))
}

func TestIsAdvisory(t *testing.T) {
	assert.True(t, IsAdvisory(ConnectionAdvisoryDestination()))
	assert.True(t, IsAdvisory(ProducerAdvisoryDestination("Q")))
	assert.True(t, IsAdvisory(DLQDestination("Q")))
	assert.False(t, IsAdvisory("Q"))
}
