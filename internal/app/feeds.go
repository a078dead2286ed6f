package app

import (
	"slices"
	"sync"

	"github.com/dkeye/Meet/internal/app/media"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Feed is one participant stream shown locally, own or remote.
type Feed struct {
	ID      domain.FeedID
	Display string
	Kind    domain.FeedKind
	Local   bool
	Stream  *media.Stream
}

// FeedInfo is the read-only view of a Feed handed to observers.
type FeedInfo struct {
	ID      domain.FeedID   `json:"id"`
	Display string          `json:"display"`
	Kind    domain.FeedKind `json:"kind"`
	Local   bool            `json:"local"`
	Audio   bool            `json:"audio"`
	Video   bool            `json:"video"`
}

func (f *Feed) Info() FeedInfo {
	info := FeedInfo{ID: f.ID, Display: f.Display, Kind: f.Kind, Local: f.Local}
	if f.Stream != nil {
		info.Audio = f.Stream.Has(domain.TrackAudio)
		info.Video = f.Stream.Has(domain.TrackVideo)
	}
	return info
}

type TrackResult int

const (
	// TrackUnknown: the feed does not exist and its id is not a known publisher.
	TrackUnknown TrackResult = iota
	TrackCreated
	TrackAdded
	TrackDuplicate
)

// FeedArena holds the feed list and the known-publisher set. Append, Remove,
// Replace and AttachTrack are the only mutations; each is one critical section.
type FeedArena struct {
	onChange func([]FeedInfo)

	mu    sync.RWMutex
	order []domain.FeedID
	feeds map[domain.FeedID]*Feed
	known map[domain.FeedID]domain.Publisher

	notifyMu sync.Mutex
}

func NewFeedArena(onChange func([]FeedInfo)) *FeedArena {
	return &FeedArena{
		onChange: onChange,
		feeds:    make(map[domain.FeedID]*Feed),
		known:    make(map[domain.FeedID]domain.Publisher),
	}
}

func (a *FeedArena) Append(f *Feed) error {
	a.mu.Lock()
	if _, ok := a.feeds[f.ID]; ok {
		a.mu.Unlock()
		return ErrFeedExists
	}
	if f.Stream == nil {
		f.Stream = media.NewStream()
	}
	a.feeds[f.ID] = f
	a.order = append(a.order, f.ID)
	a.mu.Unlock()

	log.Info().Str("module", "app.feeds").Str("feed", f.ID.String()).Str("kind", string(f.Kind)).Bool("local", f.Local).Msg("feed added")
	a.changed()
	return nil
}

// Remove deletes the feed. Removing an unknown id is a no-op.
func (a *FeedArena) Remove(id domain.FeedID) (*Feed, bool) {
	a.mu.Lock()
	f, ok := a.feeds[id]
	if ok {
		delete(a.feeds, id)
		a.order = slices.DeleteFunc(a.order, func(x domain.FeedID) bool { return x == id })
	}
	a.mu.Unlock()
	if !ok {
		return nil, false
	}

	log.Info().Str("module", "app.feeds").Str("feed", id.String()).Msg("feed removed")
	a.changed()
	return f, true
}

// Replace swaps the feed with the same id in place, keeping its position.
func (a *FeedArena) Replace(f *Feed) bool {
	a.mu.Lock()
	if _, ok := a.feeds[f.ID]; !ok {
		a.mu.Unlock()
		return false
	}
	if f.Stream == nil {
		f.Stream = media.NewStream()
	}
	a.feeds[f.ID] = f
	a.mu.Unlock()

	log.Debug().Str("module", "app.feeds").Str("feed", f.ID.String()).Msg("feed replaced")
	a.changed()
	return true
}

// AttachTrack adds a remote track to its feed. A missing feed is created only
// when the id is a known publisher; a kind already present is ignored.
func (a *FeedArena) AttachTrack(id domain.FeedID, kind domain.TrackKind, trackID string) TrackResult {
	a.mu.Lock()
	var res TrackResult
	if f, ok := a.feeds[id]; ok {
		if f.Stream.Add(kind, trackID) {
			res = TrackAdded
		} else {
			res = TrackDuplicate
		}
	} else if p, ok := a.known[id]; ok {
		f := &Feed{ID: id, Display: p.Display, Kind: domain.FeedCamera, Stream: media.NewStream()}
		f.Stream.Add(kind, trackID)
		a.feeds[id] = f
		a.order = append(a.order, id)
		res = TrackCreated
	}
	a.mu.Unlock()

	switch res {
	case TrackCreated, TrackAdded:
		log.Info().Str("module", "app.feeds").Str("feed", id.String()).Str("kind", string(kind)).Msg("track attached")
		a.changed()
	case TrackDuplicate:
		log.Debug().Str("module", "app.feeds").Str("feed", id.String()).Str("kind", string(kind)).Msg("duplicate track ignored")
	case TrackUnknown:
		log.Debug().Str("module", "app.feeds").Str("feed", id.String()).Msg("track for unknown publisher dropped")
	}
	return res
}

func (a *FeedArena) Get(id domain.FeedID) (*Feed, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, ok := a.feeds[id]
	return f, ok
}

func (a *FeedArena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

// IDs returns feed ids in display order.
func (a *FeedArena) IDs() []domain.FeedID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.order)
}

func (a *FeedArena) Snapshot() []FeedInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]FeedInfo, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.feeds[id].Info())
	}
	return out
}

// Remember adds a publisher to the known set and reports whether it was new.
func (a *FeedArena) Remember(p domain.Publisher) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.known[p.ID]
	a.known[p.ID] = p
	return !ok
}

func (a *FeedArena) Forget(id domain.FeedID) {
	a.mu.Lock()
	delete(a.known, id)
	a.mu.Unlock()
}

// Reset drops every feed and the known set.
func (a *FeedArena) Reset() {
	a.mu.Lock()
	a.order = nil
	a.feeds = make(map[domain.FeedID]*Feed)
	a.known = make(map[domain.FeedID]domain.Publisher)
	a.mu.Unlock()
	a.changed()
}

// changed reports the latest snapshot; serialized so observers never see an older list last.
func (a *FeedArena) changed() {
	if a.onChange == nil {
		return
	}
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()
	a.onChange(a.Snapshot())
}
