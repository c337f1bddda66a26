package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub()

	a := hub.Subscribe()
	b := hub.Subscribe()

	hub.Publish("playlist")

	assert.Equal(t, "playlist", <-a)
	assert.Equal(t, "playlist", <-b)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()

	sub := hub.Subscribe()
	hub.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)

	// Publishing after the unsubscribe must not panic on the closed channel.
	hub.Publish("player")
}

func TestUnsubscribeUnknownChannelIsNoOp(t *testing.T) {
	hub := NewHub()

	stray := make(chan string)
	hub.Unsubscribe(stray)

	sub := hub.Subscribe()
	hub.Publish("mixer")
	assert.Equal(t, "mixer", <-sub)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub()

	sub := hub.Subscribe()

	// Overflow the buffer; the extra events are dropped, not blocked on.
	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish("database")
	}

	for i := 0; i < subscriberBuffer; i++ {
		require.Equal(t, "database", <-sub)
	}

	select {
	case v := <-sub:
		t.Fatalf("expected overflow to be dropped, got %q", v)
	default:
	}
}
