package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub(4, nil)
	a, b := h.Subscribe(), h.Subscribe()

	h.Publish(EventCue, CueJoin)

	for _, s := range []*Subscription{a, b} {
		ev := <-s.Events()
		assert.Equal(t, EventCue, ev.Kind)
		assert.Equal(t, CueJoin, ev.Data)
	}
}

func TestHubPolicyOnSlowSubscriber(t *testing.T) {
	h := NewHub(1, SimplePolicy{})
	s := h.Subscribe()

	h.Publish(EventCue, CueJoin)
	h.Publish(EventCue, CueLeave)

	ev, ok := <-s.Events()
	require.True(t, ok)
	assert.Equal(t, CueJoin, ev.Data, "lossy events are dropped, the subscriber stays")

	h.Publish(EventFeeds, []FeedInfo{})
	h.Publish(EventFeeds, []FeedInfo{})

	<-s.Events()
	_, ok = <-s.Events()
	assert.False(t, ok, "subscriber missing state changes is closed")
}

func TestHubClose(t *testing.T) {
	h := NewHub(1, nil)
	s := h.Subscribe()
	h.Close()
	_, ok := <-s.Events()
	assert.False(t, ok)
	s.Close()
	h.Publish(EventCue, CueJoin)
}
