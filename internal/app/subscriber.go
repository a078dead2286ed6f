package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Meet/internal/app/media"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/gateway"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// SubscriberCoordinator keeps exactly one receive-only channel per remote publisher.
type SubscriberCoordinator struct {
	deps   Deps
	relays *media.RelayManager

	mu     sync.Mutex
	room   domain.RoomID
	skip   map[domain.FeedID]struct{}
	subs   map[domain.FeedID]*subscription
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSubscriberCoordinator(deps Deps, relays *media.RelayManager) *SubscriberCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &SubscriberCoordinator{
		deps:   deps,
		relays: relays,
		skip:   make(map[domain.FeedID]struct{}),
		subs:   make(map[domain.FeedID]*subscription),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Begin targets a room. Own feed ids are never subscribed to.
func (c *SubscriberCoordinator) Begin(room domain.RoomID, own ...domain.FeedID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
	c.skip = make(map[domain.FeedID]struct{}, len(own))
	for _, id := range own {
		c.skip[id] = struct{}{}
	}
}

// Skip excludes another own feed, such as the local screen share.
func (c *SubscriberCoordinator) Skip(id domain.FeedID) {
	c.mu.Lock()
	c.skip[id] = struct{}{}
	c.mu.Unlock()
}

func (c *SubscriberCoordinator) AddPublishers(pubs []domain.Publisher) {
	for _, p := range pubs {
		c.Subscribe(p)
	}
}

// Subscribe remembers the publisher and starts a subscription unless one
// exists. It never blocks.
func (c *SubscriberCoordinator) Subscribe(p domain.Publisher) bool {
	c.mu.Lock()
	if _, own := c.skip[p.ID]; own {
		c.mu.Unlock()
		return false
	}
	c.deps.Feeds.Remember(p)
	if _, ok := c.subs[p.ID]; ok {
		c.mu.Unlock()
		return false
	}
	s := &subscription{c: c, pub: p, room: c.room}
	s.ch = NewChannel(RoleSubscriber, "sub-"+p.ID.String(), c.deps.Session, c.deps.Media, s)
	c.subs[p.ID] = s
	ctx := c.ctx
	c.mu.Unlock()

	log.Info().Str("module", "app.subscriber").Str("feed", p.ID.String()).Str("display", p.Display).Msg("subscribing")
	go s.run(ctx)
	return true
}

// Remove retires the publisher's channel, forgets the publisher and drops its
// feed. A republish comes back through a publishers event. It reports whether
// anything was removed; unknown ids are a no-op.
func (c *SubscriberCoordinator) Remove(id domain.FeedID) bool {
	c.mu.Lock()
	s, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	c.deps.Feeds.Forget(id)
	if ok {
		release := s.ch.Retire()
		go s.release(context.Background(), release)
	}
	c.relays.StopFeed(id)
	_, removed := c.deps.Feeds.Remove(id)
	return ok || removed
}

func (c *SubscriberCoordinator) Channel(id domain.FeedID) (*Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.subs[id]
	if !ok {
		return nil, false
	}
	return s.ch, true
}

func (c *SubscriberCoordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// ReleaseAll detaches every subscription concurrently and waits for them.
func (c *SubscriberCoordinator) ReleaseAll(ctx context.Context) {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[domain.FeedID]*subscription)
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	var wg conc.WaitGroup
	for id, s := range subs {
		wg.Go(func() {
			s.detach(ctx)
			c.relays.StopFeed(id)
			c.deps.Feeds.Remove(id)
		})
	}
	wg.Wait()
}

// drop forgets s if it is still the current subscription of its feed.
func (c *SubscriberCoordinator) drop(s *subscription) {
	c.mu.Lock()
	if c.subs[s.pub.ID] == s {
		delete(c.subs, s.pub.ID)
	}
	c.mu.Unlock()
}

type subscription struct {
	c    *SubscriberCoordinator
	pub  domain.Publisher
	room domain.RoomID
	ch   *Channel

	mu      sync.Mutex
	offered bool
	settle  sync.Once
}

func (s *subscription) run(ctx context.Context) {
	logger := log.With().Str("module", "app.subscriber").Str("feed", s.pub.ID.String()).Logger()
	if err := s.ch.Attach(ctx); err != nil {
		if !errors.Is(err, gateway.ErrDetached) {
			logger.Error().Err(err).Msg("attach subscriber")
			s.c.deps.Hub.Publish(EventError, ErrorEvent{Code: gateway.Code(err), Message: err.Error()})
		}
		s.c.drop(s)
		return
	}
	if err := s.ch.Send(ctx, s.c.deps.Requests.JoinSubscriber(s.room, s.pub.ID), nil); err != nil {
		logger.Error().Err(err).Msg("join subscriber")
		s.c.drop(s)
		s.detach(context.Background())
	}
}

func (s *subscription) detach(ctx context.Context) {
	s.release(ctx, s.ch.Retire())
}

func (s *subscription) release(ctx context.Context, release func(context.Context) error) {
	if err := release(ctx); err != nil {
		log.Warn().Err(err).Str("module", "app.subscriber").Str("feed", s.pub.ID.String()).Msg("detach")
		return
	}
	log.Info().Str("module", "app.subscriber").Str("feed", s.pub.ID.String()).Msg("subscription released")
}

// answer accepts the gateway offer receive-only and starts the subscription.
func (s *subscription) answer(offer webrtc.SessionDescription) {
	logger := log.With().Str("module", "app.subscriber").Str("feed", s.pub.ID.String()).Logger()
	conn := s.ch.Conn()
	if conn == nil {
		return
	}
	ans, err := conn.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		logger.Error().Err(err).Msg("create answer")
		s.c.deps.Hub.Publish(EventError, ErrorEvent{Message: err.Error()})
		return
	}
	s.c.mu.Lock()
	ctx := s.c.ctx
	s.c.mu.Unlock()
	if err := s.ch.Send(ctx, s.c.deps.Requests.Start(s.room), ans); err != nil {
		logger.Error().Err(err).Msg("start")
	}
}

// settled rebroadcasts own mute state once the subscription is up, so the
// new peer learns it without waiting for the next toggle.
func (s *subscription) settled() {
	s.settle.Do(func() {
		log.Debug().Str("module", "app.subscriber").Str("feed", s.pub.ID.String()).Msg("subscription settled")
		s.c.deps.Mute.BroadcastOwn()
	})
}

func (s *subscription) OnMessage(ev *gateway.RoomEvent, jsep *webrtc.SessionDescription) {
	switch ev.VideoRoom {
	case "attached":
		log.Debug().Str("module", "app.subscriber").Str("feed", ev.ID.String()).Str("display", ev.Display).Msg("attached")
	case "event":
		if ev.Started != "" {
			log.Debug().Str("module", "app.subscriber").Str("feed", s.pub.ID.String()).Msg("started")
		}
	}
	if jsep != nil && jsep.Type == webrtc.SDPTypeOffer {
		s.mu.Lock()
		s.offered = true
		s.mu.Unlock()
		go s.answer(*jsep)
	}
}

func (s *subscription) OnTrackAdded(ctx context.Context, track core.RemoteTrack) {
	if s.ch.Detached() {
		return
	}
	kind, ok := media.KindOf(track.Kind())
	if !ok {
		return
	}
	switch s.c.deps.Feeds.AttachTrack(s.pub.ID, kind, track.ID()) {
	case TrackCreated, TrackAdded:
		s.c.relays.StartRelay(ctx, s.pub.ID, kind, track)
		if enabled, ok := s.c.deps.Mute.Registry().Get(kind, s.pub.ID); ok && !enabled {
			s.c.relays.MuteSink(s.pub.ID, kind, media.DefaultSink, true)
		}
	}
}

func (s *subscription) OnDataChannel(dc core.DataChannel) {
	s.c.deps.Mute.BindSubscriber(dc)
	dc.OnOpen(s.settled)
}

func (s *subscription) OnStateChange(st ChannelState) {
	switch st {
	case ChannelWebRTCUp:
		s.settled()
	case ChannelICEFailed, ChannelHangup:
		log.Warn().Str("module", "app.subscriber").Str("feed", s.pub.ID.String()).Str("state", st.String()).Msg("subscription down")
	}
}

// OnError drops a subscription that failed before the gateway offered media.
func (s *subscription) OnError(err error) {
	surface(s.c.deps.Hub, "app.subscriber", err)
	s.mu.Lock()
	offered := s.offered
	s.mu.Unlock()
	if !offered {
		s.c.drop(s)
		go s.detach(context.Background())
	}
}
