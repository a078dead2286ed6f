package app

import (
	"encoding/json"
	"maps"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// DataChannelLabel is the label of the publisher data channel.
const DataChannelLabel = "JanusDataChannel"

// MuteMessage is one data-channel mute notification.
type MuteMessage struct {
	Feed    domain.FeedID    `json:"feed"`
	Type    domain.TrackKind `json:"type"`
	Enabled bool             `json:"enabled"`
}

// MuteRegistry is the local view of per-feed audio and video enabled state.
type MuteRegistry struct {
	mu     sync.RWMutex
	states map[domain.TrackKind]map[domain.FeedID]bool
}

func NewMuteRegistry() *MuteRegistry {
	r := &MuteRegistry{}
	r.Reset()
	return r
}

func (r *MuteRegistry) Set(kind domain.TrackKind, feed domain.FeedID, enabled bool) {
	r.mu.Lock()
	r.states[kind][feed] = enabled
	r.mu.Unlock()
}

func (r *MuteRegistry) Get(kind domain.TrackKind, feed domain.FeedID) (enabled, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	enabled, ok = r.states[kind][feed]
	return enabled, ok
}

func (r *MuteRegistry) Snapshot(kind domain.TrackKind) map[domain.FeedID]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.states[kind])
}

func (r *MuteRegistry) Reset() {
	r.mu.Lock()
	r.states = map[domain.TrackKind]map[domain.FeedID]bool{
		domain.TrackAudio: {},
		domain.TrackVideo: {},
	}
	r.mu.Unlock()
}

// MuteStateChannel runs the mute protocol: it sends own state on the publisher
// data channel and applies messages received on subscriber channels.
type MuteStateChannel struct {
	registry *MuteRegistry
	notify   func(MuteEvent)

	mu       sync.Mutex
	self     domain.FeedID
	screen   domain.FeedID
	audio    bool
	video    bool
	dc       core.DataChannel
	answered bool
}

func NewMuteStateChannel(registry *MuteRegistry, notify func(MuteEvent)) *MuteStateChannel {
	return &MuteStateChannel{registry: registry, notify: notify, audio: true, video: true}
}

func (m *MuteStateChannel) Registry() *MuteRegistry { return m.registry }

// SetLocal sets the local identity and its current state without sending.
func (m *MuteStateChannel) SetLocal(self domain.FeedID, audio, video bool) {
	m.mu.Lock()
	m.self, m.audio, m.video = self, audio, video
	m.mu.Unlock()
	m.apply(domain.TrackAudio, self, audio)
	m.apply(domain.TrackVideo, self, video)
}

func (m *MuteStateChannel) Self() domain.FeedID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

func (m *MuteStateChannel) Own(kind domain.TrackKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == domain.TrackAudio {
		return m.audio
	}
	return m.video
}

// SetOwn records a local toggle and broadcasts it.
func (m *MuteStateChannel) SetOwn(kind domain.TrackKind, enabled bool) {
	m.mu.Lock()
	if kind == domain.TrackAudio {
		m.audio = enabled
	} else {
		m.video = enabled
	}
	m.mu.Unlock()
	m.sendOwn(kind)
}

// BindPublisher installs the publisher data channel; own state is broadcast when it opens.
func (m *MuteStateChannel) BindPublisher(dc core.DataChannel) {
	m.mu.Lock()
	m.dc = dc
	m.mu.Unlock()
	dc.OnOpen(func() {
		log.Info().Str("module", "app.mute").Str("label", dc.Label()).Msg("publisher data channel open")
		m.BroadcastOwn()
	})
}

// BindSubscriber applies mute messages arriving on a subscription channel.
func (m *MuteStateChannel) BindSubscriber(dc core.DataChannel) {
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m.Receive(msg.Data)
	})
}

// SetScreen registers the local screen feed; its video is always advertised enabled.
func (m *MuteStateChannel) SetScreen(id domain.FeedID) {
	m.mu.Lock()
	m.screen = id
	m.mu.Unlock()
	if id != 0 {
		m.apply(domain.TrackVideo, id, true)
	}
}

func (m *MuteStateChannel) Screen() domain.FeedID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen
}

// BroadcastOwn sends own audio and video state.
func (m *MuteStateChannel) BroadcastOwn() {
	m.sendOwn(domain.TrackAudio)
	m.sendOwn(domain.TrackVideo)
}

// BroadcastVideo sends the video state of feed, which is either the local
// participant or the local screen share.
func (m *MuteStateChannel) BroadcastVideo(feed domain.FeedID) {
	m.mu.Lock()
	screen := m.screen
	m.mu.Unlock()
	if feed != 0 && feed == screen {
		m.apply(domain.TrackVideo, screen, true)
		m.send(MuteMessage{Feed: screen, Type: domain.TrackVideo, Enabled: true})
		return
	}
	m.sendOwn(domain.TrackVideo)
}

// Receive applies one inbound payload. Malformed payloads are dropped; video
// state of the local participant is never taken from a peer.
func (m *MuteStateChannel) Receive(data []byte) {
	var msg MuteMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug().Str("module", "app.mute").Msg("non-json data channel message dropped")
		return
	}
	if msg.Feed == 0 || !msg.Type.Valid() {
		return
	}

	m.mu.Lock()
	self := m.self
	first := !m.answered
	m.answered = true
	m.mu.Unlock()

	switch {
	case msg.Type == domain.TrackAudio:
		m.apply(domain.TrackAudio, msg.Feed, msg.Enabled)
	case msg.Feed != self:
		m.apply(domain.TrackVideo, msg.Feed, msg.Enabled)
	default:
		log.Debug().Str("module", "app.mute").Str("feed", msg.Feed.String()).Msg("remote video state for self ignored")
	}

	if first {
		m.BroadcastOwn()
	}
}

// Reset forgets the channel, identities and the first-message flag.
func (m *MuteStateChannel) Reset() {
	m.mu.Lock()
	m.dc = nil
	m.self = 0
	m.screen = 0
	m.answered = false
	m.mu.Unlock()
	m.registry.Reset()
}

func (m *MuteStateChannel) sendOwn(kind domain.TrackKind) {
	m.mu.Lock()
	self := m.self
	enabled := m.video
	if kind == domain.TrackAudio {
		enabled = m.audio
	}
	m.mu.Unlock()
	if self == 0 {
		return
	}
	m.apply(kind, self, enabled)
	m.send(MuteMessage{Feed: self, Type: kind, Enabled: enabled})
}

func (m *MuteStateChannel) apply(kind domain.TrackKind, feed domain.FeedID, enabled bool) {
	m.registry.Set(kind, feed, enabled)
	if m.notify != nil {
		m.notify(MuteEvent{Feed: feed, Kind: kind, Enabled: enabled})
	}
}

// send is a logged no-op while the channel is not open.
func (m *MuteStateChannel) send(msg MuteMessage) {
	m.mu.Lock()
	dc := m.dc
	m.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		state := "none"
		if dc != nil {
			state = dc.ReadyState().String()
		}
		log.Warn().Str("module", "app.mute").Str("type", string(msg.Type)).Str("state", state).Msg("can't send mute state, channel not open")
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.mute").Msg("marshal mute message")
		return
	}
	if err := dc.SendText(string(b)); err != nil {
		log.Warn().Err(err).Str("module", "app.mute").Msg("send mute state")
	}
}
