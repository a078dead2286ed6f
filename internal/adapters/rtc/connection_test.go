package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe(t *testing.T) {
	f, err := NewFactory(DefaultWebRTCConfig(nil))
	require.NoError(t, err)
	require.NoError(t, f.Probe())
}

func TestOfferAnswerDataChannel(t *testing.T) {
	f, err := NewFactory(DefaultWebRTCConfig(nil))
	require.NoError(t, err)
	ctx := context.Background()

	pub, err := f.NewConnection("pub")
	require.NoError(t, err)
	defer pub.Close()
	sub, err := f.NewConnection("sub")
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, pub.Start(ctx))
	require.NoError(t, sub.Start(ctx))

	got := make(chan string, 1)
	sub.OnDataChannel(func(dc core.DataChannel) {
		dc.OnMessage(func(m webrtc.DataChannelMessage) { got <- string(m.Data) })
	})

	dc, err := pub.CreateDataChannel("JanusDataChannel")
	require.NoError(t, err)
	dc.OnOpen(func() { _ = dc.SendText(`{"feed":1,"type":"audio","enabled":false}`) })

	offer, err := pub.CreateAndSetOffer()
	require.NoError(t, err)
	answer, err := sub.ApplyOfferAndCreateAnswer(*offer)
	require.NoError(t, err)
	require.NoError(t, pub.ApplyAnswer(*answer))

	select {
	case msg := <-got:
		assert.JSONEq(t, `{"feed":1,"type":"audio","enabled":false}`, msg)
	case <-time.After(10 * time.Second):
		t.Fatal("data channel message not received")
	}

	pub.Close()
	assert.Equal(t, webrtc.PeerConnectionStateClosed, pub.(*WebRTCConnection).pc.ConnectionState())
}

func TestReplaceWithoutSender(t *testing.T) {
	f, err := NewFactory(DefaultWebRTCConfig(nil))
	require.NoError(t, err)
	c, err := f.NewConnection("x")
	require.NoError(t, err)
	defer c.Close()
	assert.ErrorIs(t, c.ReplaceLocalTrack(webrtc.RTPCodecTypeVideo, nil), ErrNoSender)
}
