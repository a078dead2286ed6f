package media

import (
	"context"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// DefaultSink names the sink opened by the SinkFactory for every relay.
const DefaultSink = "default"

type relayKey struct {
	feed domain.FeedID
	kind domain.TrackKind
}

// SinkFactory opens a sink for every newly relayed track, e.g. a recorder.
type SinkFactory interface {
	OpenSink(feed domain.FeedID, kind domain.TrackKind) (core.RTPSink, error)
}

type RelayManager struct {
	factory SinkFactory

	mu     sync.RWMutex
	relays map[relayKey]*Relay
}

func NewRelayManager(factory SinkFactory) *RelayManager {
	return &RelayManager{
		factory: factory,
		relays:  make(map[relayKey]*Relay),
	}
}

// StartRelay creates a Relay for the feed track and starts its loop. An
// existing relay for the same feed and kind is replaced.
func (m *RelayManager) StartRelay(ctx context.Context, feed domain.FeedID, kind domain.TrackKind, track core.RemoteTrack) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("feed", feed.String()).
		Str("kind", string(kind)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(track, cancel)
	key := relayKey{feed, kind}

	m.mu.Lock()
	if old, ok := m.relays[key]; ok {
		logger.Info().Msg("replacing existing relay for feed")
		old.closeAll()
		if old.cancel != nil {
			old.cancel()
		}
	}
	m.relays[key] = relay
	m.mu.Unlock()

	if m.factory != nil {
		dst, err := m.factory.OpenSink(feed, kind)
		if err != nil {
			logger.Error().Err(err).Msg("open default sink")
		} else if dst != nil {
			relay.AddSink(DefaultSink, NewSink(dst))
		}
	}

	logger.Info().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger)
	return relay
}

// MuteSink pauses or resumes forwarding to a sink. Unknown relays and sinks
// are ignored.
func (m *RelayManager) MuteSink(feed domain.FeedID, kind domain.TrackKind, name string, muted bool) {
	m.mu.RLock()
	relay, ok := m.relays[relayKey{feed, kind}]
	m.mu.RUnlock()
	if !ok {
		return
	}
	s, ok := relay.sink(name)
	if !ok {
		return
	}
	if muted {
		s.MarkMuted()
	} else {
		s.MarkOk()
	}
}

// StopFeed stops every relay of the feed.
func (m *RelayManager) StopFeed(feed domain.FeedID) {
	m.mu.Lock()
	var stopped []*Relay
	for key, relay := range m.relays {
		if key.feed == feed {
			stopped = append(stopped, relay)
			delete(m.relays, key)
		}
	}
	m.mu.Unlock()
	for _, relay := range stopped {
		relay.closeAll()
		if relay.cancel != nil {
			relay.cancel()
		}
	}
}

// StopAll stops every relay.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[relayKey]*Relay)
	m.mu.Unlock()
	for _, relay := range relays {
		relay.closeAll()
		if relay.cancel != nil {
			relay.cancel()
		}
	}
}

// HasRelay reports whether a relay exists for the feed track.
func (m *RelayManager) HasRelay(feed domain.FeedID, kind domain.TrackKind) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[relayKey{feed, kind}]
	return ok
}
