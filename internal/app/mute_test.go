package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/testutil"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type muteLog struct {
	mu     sync.Mutex
	events []MuteEvent
}

func (l *muteLog) add(e MuteEvent) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func decodeSent(t *testing.T, sent []string) []MuteMessage {
	t.Helper()
	out := make([]MuteMessage, 0, len(sent))
	for _, s := range sent {
		var m MuteMessage
		require.NoError(t, json.Unmarshal([]byte(s), &m))
		out = append(out, m)
	}
	return out
}

func newMute(self domain.FeedID, audio, video bool) (*MuteStateChannel, *testutil.FakeDataChannel, *muteLog) {
	log := &muteLog{}
	m := NewMuteStateChannel(NewMuteRegistry(), log.add)
	m.SetLocal(self, audio, video)
	dc := testutil.NewDataChannel(DataChannelLabel, webrtc.DataChannelStateOpen)
	m.mu.Lock()
	m.dc = dc
	m.mu.Unlock()
	return m, dc, log
}

func TestMuteSelfAuthorityForVideo(t *testing.T) {
	const self domain.FeedID = 1111222233334444
	m, _, _ := newMute(self, true, true)

	for _, enabled := range []bool{false, true, false} {
		b, _ := json.Marshal(MuteMessage{Feed: self, Type: domain.TrackVideo, Enabled: enabled})
		m.Receive(b)
	}

	got, ok := m.Registry().Get(domain.TrackVideo, self)
	require.True(t, ok)
	assert.True(t, got)
}

func TestMuteAudioAppliesToAnyFeed(t *testing.T) {
	const self domain.FeedID = 10
	m, _, log := newMute(self, true, true)

	m.Receive([]byte(`{"feed":10,"type":"audio","enabled":false}`))
	m.Receive([]byte(`{"feed":"20","type":"audio","enabled":false}`))

	v, _ := m.Registry().Get(domain.TrackAudio, self)
	assert.False(t, v)
	v, _ = m.Registry().Get(domain.TrackAudio, 20)
	assert.False(t, v)
	assert.Contains(t, log.events, MuteEvent{Feed: 20, Kind: domain.TrackAudio, Enabled: false})
}

func TestMuteFirstMessageTriggersOneRebroadcast(t *testing.T) {
	m, dc, _ := newMute(2, true, false)

	m.Receive([]byte(`{"feed":1,"type":"audio","enabled":false}`))

	v, ok := m.Registry().Get(domain.TrackAudio, 1)
	require.True(t, ok)
	assert.False(t, v)

	sent := decodeSent(t, dc.Sent())
	require.Len(t, sent, 2)
	assert.Equal(t, MuteMessage{Feed: 2, Type: domain.TrackAudio, Enabled: true}, sent[0])
	assert.Equal(t, MuteMessage{Feed: 2, Type: domain.TrackVideo, Enabled: false}, sent[1])

	m.Receive([]byte(`{"feed":1,"type":"video","enabled":true}`))
	m.Receive([]byte(`{"feed":3,"type":"audio","enabled":true}`))
	assert.Len(t, dc.Sent(), 2)
}

func TestMuteMalformedPayloadsDropped(t *testing.T) {
	m, dc, log := newMute(2, true, true)
	before := len(log.events)

	m.Receive([]byte("hello"))
	m.Receive([]byte(`{"feed":1,"type":"screen","enabled":false}`))
	m.Receive([]byte(`{"type":"audio","enabled":false}`))

	assert.Empty(t, dc.Sent())
	assert.Len(t, log.events, before)

	m.Receive([]byte(`{"feed":1,"type":"video","enabled":false}`))
	assert.Len(t, dc.Sent(), 2, "first valid message still triggers the rebroadcast")
}

func TestMuteSendWhileClosedIsNoop(t *testing.T) {
	m := NewMuteStateChannel(NewMuteRegistry(), nil)
	m.SetLocal(5, true, true)
	m.SetOwn(domain.TrackAudio, false)

	dc := testutil.NewDataChannel(DataChannelLabel, webrtc.DataChannelStateConnecting)
	m.BindPublisher(dc)
	m.SetOwn(domain.TrackVideo, false)
	assert.Empty(t, dc.Sent())

	v, _ := m.Registry().Get(domain.TrackAudio, 5)
	assert.False(t, v)
	assert.False(t, m.Own(domain.TrackAudio))
}

func TestMuteBroadcastOnPublisherOpen(t *testing.T) {
	m := NewMuteStateChannel(NewMuteRegistry(), nil)
	m.SetLocal(5, false, true)

	dc := testutil.NewDataChannel(DataChannelLabel, webrtc.DataChannelStateConnecting)
	m.BindPublisher(dc)
	dc.Open()

	sent := decodeSent(t, dc.Sent())
	require.Len(t, sent, 2)
	assert.Equal(t, MuteMessage{Feed: 5, Type: domain.TrackAudio, Enabled: false}, sent[0])
	assert.Equal(t, MuteMessage{Feed: 5, Type: domain.TrackVideo, Enabled: true}, sent[1])
}

func TestMuteScreenVideoAlwaysEnabled(t *testing.T) {
	m, dc, _ := newMute(5, true, false)
	m.SetScreen(77)

	m.BroadcastVideo(77)
	m.BroadcastVideo(5)

	sent := decodeSent(t, dc.Sent())
	require.Len(t, sent, 2)
	assert.Equal(t, MuteMessage{Feed: 77, Type: domain.TrackVideo, Enabled: true}, sent[0])
	assert.Equal(t, MuteMessage{Feed: 5, Type: domain.TrackVideo, Enabled: false}, sent[1])

	v, _ := m.Registry().Get(domain.TrackVideo, 77)
	assert.True(t, v)
}

func TestMuteSubscriberChannelFeedsReceive(t *testing.T) {
	m, _, _ := newMute(5, true, true)
	sub := testutil.NewDataChannel(DataChannelLabel, webrtc.DataChannelStateOpen)
	m.BindSubscriber(sub)

	sub.Deliver(`{"feed":9,"type":"video","enabled":false}`)

	v, ok := m.Registry().Get(domain.TrackVideo, 9)
	require.True(t, ok)
	assert.False(t, v)
}
