package app

import (
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

type EventKind string

const (
	EventConnection EventKind = "connection"
	EventFeeds      EventKind = "feeds"
	EventMute       EventKind = "mute"
	EventRoom       EventKind = "room"
	EventCue        EventKind = "cue"
	EventError      EventKind = "error"
	EventTerminated EventKind = "terminated"
)

type Event struct {
	Kind EventKind `json:"kind"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

type ConnectionEvent struct {
	Up    bool   `json:"up"`
	State string `json:"state,omitempty"`
}

type MuteEvent struct {
	Feed    domain.FeedID    `json:"feed"`
	Kind    domain.TrackKind `json:"type"`
	Enabled bool             `json:"enabled"`
}

// RoomInfo is published once the local participant has joined.
type RoomInfo struct {
	Room        domain.RoomID      `json:"room"`
	Name        domain.RoomName    `json:"name"`
	Description string             `json:"description,omitempty"`
	Self        domain.FeedID      `json:"self"`
	Display     string             `json:"display"`
	Publishers  []domain.Publisher `json:"publishers"`
	Attendees   []domain.Attendee  `json:"attendees,omitempty"`
}

// Cue marks a moment where an audible notification belongs.
type Cue string

const (
	CueJoin  Cue = "join"
	CueLeave Cue = "leave"
)

type ErrorEvent struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

type TerminatedEvent struct {
	Reason string `json:"reason"`
}

// Hub fans events out to subscribers. Publish never blocks.
type Hub struct {
	policy Policy
	buffer int

	mu   sync.RWMutex
	next uint64
	subs map[uint64]*Subscription
}

func NewHub(buffer int, policy Policy) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{policy: policy, buffer: buffer, subs: make(map[uint64]*Subscription)}
}

type Subscription struct {
	id   uint64
	hub  *Hub
	ch   chan Event
	once sync.Once
}

func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unsubscribes and closes the event channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	s := &Subscription{id: h.next, hub: h, ch: make(chan Event, h.buffer)}
	h.subs[s.id] = s
	return s
}

func (h *Hub) Publish(kind EventKind, data any) {
	ev := Event{Kind: kind, Data: data, At: time.Now()}

	var slow []*Subscription
	h.mu.RLock()
	for _, s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		switch h.policy.OnBackPressure(s, ev) {
		case CloseSubscriber:
			log.Warn().Str("module", "app.events").Uint64("sub", s.id).Str("kind", string(kind)).Msg("closing slow subscriber")
			s.Close()
		case DropEvent, NoAction:
			log.Debug().Str("module", "app.events").Uint64("sub", s.id).Str("kind", string(kind)).Msg("event dropped")
		}
	}
}

// Close closes every subscription.
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		s.Close()
	}
}
