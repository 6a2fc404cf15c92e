package queue

import (
	"testing"

	"negotiator/app/service/negotiation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDeliversInOrder(t *testing.T) {
	q := NewWithSize(4)

	q.Notify(negotiation.Event{SessionID: "a", Kind: negotiation.EventTurn})
	q.Add(negotiation.Event{SessionID: "a", Kind: negotiation.EventFinished})

	first := <-q.Channel()
	second := <-q.Channel()
	assert.Equal(t, negotiation.EventTurn, first.Kind)
	assert.Equal(t, negotiation.EventFinished, second.Kind)
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewWithSize(1)

	q.Add(negotiation.Event{SessionID: "a", Kind: negotiation.EventTurn})
	q.Add(negotiation.Event{SessionID: "b", Kind: negotiation.EventTurn})

	assert.Len(t, q.Channel(), 1)
	assert.Equal(t, "a", (<-q.Channel()).SessionID)
}

func TestQueueIgnoresEventsAfterShutdown(t *testing.T) {
	q := NewWithSize(1)
	require.NoError(t, q.Shutdown())

	assert.NotPanics(t, func() {
		q.Add(negotiation.Event{SessionID: "late"})
	})

	_, ok := <-q.Channel()
	assert.False(t, ok)
}
