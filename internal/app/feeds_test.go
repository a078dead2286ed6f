package app

import (
	"sync"
	"testing"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedArenaAppendIsUnique(t *testing.T) {
	a := NewFeedArena(nil)
	require.NoError(t, a.Append(&Feed{ID: 1, Display: "alice"}))
	assert.ErrorIs(t, a.Append(&Feed{ID: 1, Display: "alice again"}), ErrFeedExists)
	assert.Equal(t, 1, a.Len())

	f, ok := a.Get(1)
	require.True(t, ok)
	assert.Equal(t, "alice", f.Display)
}

func TestFeedArenaRemoveUnknownIsNoop(t *testing.T) {
	a := NewFeedArena(nil)
	_, ok := a.Remove(42)
	assert.False(t, ok)

	require.NoError(t, a.Append(&Feed{ID: 42}))
	_, ok = a.Remove(42)
	assert.True(t, ok)
	_, ok = a.Remove(42)
	assert.False(t, ok)
}

func TestFeedArenaReplaceKeepsOrder(t *testing.T) {
	a := NewFeedArena(nil)
	for _, id := range []domain.FeedID{1, 2, 3} {
		require.NoError(t, a.Append(&Feed{ID: id}))
	}
	assert.True(t, a.Replace(&Feed{ID: 2, Display: "new"}))
	assert.False(t, a.Replace(&Feed{ID: 9}))

	assert.Equal(t, []domain.FeedID{1, 2, 3}, a.IDs())
	f, _ := a.Get(2)
	assert.Equal(t, "new", f.Display)
}

func TestFeedArenaAttachTrackRequiresKnownPublisher(t *testing.T) {
	a := NewFeedArena(nil)

	assert.Equal(t, TrackUnknown, a.AttachTrack(7, domain.TrackVideo, "v"))
	assert.Equal(t, 0, a.Len())

	a.Remember(domain.Publisher{ID: 7, Display: "bob"})
	assert.Equal(t, TrackCreated, a.AttachTrack(7, domain.TrackVideo, "v"))
	assert.Equal(t, TrackDuplicate, a.AttachTrack(7, domain.TrackVideo, "v2"))
	assert.Equal(t, TrackAdded, a.AttachTrack(7, domain.TrackAudio, "a"))

	f, ok := a.Get(7)
	require.True(t, ok)
	assert.Equal(t, "bob", f.Display)
	assert.Equal(t, 2, f.Stream.Len())
	assert.Equal(t, "v", f.Stream.TrackID(domain.TrackVideo))

	a.Forget(7)
	a.Remove(7)
	assert.Equal(t, TrackUnknown, a.AttachTrack(7, domain.TrackVideo, "late"))
}

func TestFeedArenaConcurrentJoinLeaveStaysUnique(t *testing.T) {
	a := NewFeedArena(nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := domain.FeedID(i%10 + 1)
				if (i+w)%3 == 0 {
					a.Remove(id)
					continue
				}
				a.Remember(domain.Publisher{ID: id})
				a.AttachTrack(id, domain.TrackVideo, "v")
				_ = a.Append(&Feed{ID: id})
			}
		}()
	}
	wg.Wait()

	seen := make(map[domain.FeedID]bool)
	for _, f := range a.Snapshot() {
		assert.False(t, seen[f.ID], "duplicate feed %d", f.ID)
		seen[f.ID] = true
	}
	assert.Len(t, a.IDs(), len(seen))
}

func TestFeedArenaNotifiesLatestSnapshot(t *testing.T) {
	var mu sync.Mutex
	var last []FeedInfo
	a := NewFeedArena(func(s []FeedInfo) {
		mu.Lock()
		last = s
		mu.Unlock()
	})
	a.Remember(domain.Publisher{ID: 5, Display: "eve"})
	a.AttachTrack(5, domain.TrackAudio, "a")
	require.NoError(t, a.Append(&Feed{ID: 6, Local: true}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, last, 2)
	assert.Equal(t, FeedInfo{ID: 5, Display: "eve", Kind: domain.FeedCamera, Audio: true}, last[0])
	assert.True(t, last[1].Local)
}
