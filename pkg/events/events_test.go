package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker()
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestPublishReachesSubscriber(t *testing.T) {
	b := startedBroker(t)
	sub := b.Subscribe()

	b.Emit(EventInstanceReady, "", map[string]string{"instance_id": "data-0"})

	select {
	case event := <-sub:
		assert.Equal(t, EventInstanceReady, event.Type)
		assert.Equal(t, "data-0", event.Metadata["instance_id"])
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	b := startedBroker(t)
	first := b.Subscribe()
	second := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Emit(EventPlanStarted, "", nil)

	for _, sub := range []Subscriber{first, second} {
		select {
		case event := <-sub:
			assert.Equal(t, EventPlanStarted, event.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := startedBroker(t)
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := startedBroker(t)
	b.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Emit(EventInstanceLaunch, "", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}
}

func TestRecentKeepsBoundedHistory(t *testing.T) {
	b := startedBroker(t)

	for i := 0; i < 250; i++ {
		b.Emit(EventInstanceLaunch, fmt.Sprintf("launch %d", i), nil)
	}

	// The pump is asynchronous; wait for it to drain.
	require.Eventually(t, func() bool {
		return len(b.Recent()) == 200
	}, 2*time.Second, 10*time.Millisecond)

	recent := b.Recent()
	assert.Equal(t, "launch 249", recent[len(recent)-1].Message)
	assert.Equal(t, "launch 50", recent[0].Message)
}
