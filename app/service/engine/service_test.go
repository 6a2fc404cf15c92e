package engine

import (
	"context"
	"testing"
	"time"

	"negotiator/app/service/negotiation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive(t *testing.T, ch <-chan negotiation.Event) negotiation.Event {
	t.Helper()

	select {
	case event, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return negotiation.Event{}
	}
}

func TestDispatchBySession(t *testing.T) {
	source := make(chan negotiation.Event, 8)
	svc := NewWithSource(source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	a, cancelA := svc.Subscribe("a")
	defer cancelA()
	b, cancelB := svc.Subscribe("b")
	defer cancelB()

	source <- negotiation.Event{SessionID: "b", Kind: negotiation.EventTurn}
	source <- negotiation.Event{SessionID: "a", Kind: negotiation.EventFinished}

	assert.Equal(t, negotiation.EventFinished, receive(t, a).Kind)
	assert.Equal(t, negotiation.EventTurn, receive(t, b).Kind)

	cancel()
	<-done

	_, ok := <-a
	assert.False(t, ok, "subscriptions close when the dispatcher stops")

	late, _ := svc.Subscribe("a")
	_, ok = <-late
	assert.False(t, ok)
}

func TestCancelSubscription(t *testing.T) {
	source := make(chan negotiation.Event)
	svc := NewWithSource(source)

	ch, cancel := svc.Subscribe("a")
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	close(source)
	svc.Run(context.Background())
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	svc := NewWithSource(nil)
	ch, cancel := svc.Subscribe("a")
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		svc.dispatch(negotiation.Event{SessionID: "a", Attempt: i})
	}

	assert.Len(t, ch, subscriberBuffer)
}
