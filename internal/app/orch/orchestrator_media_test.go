package orch_test

import (
	"context"
	"testing"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/testutil"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreenShareIsSecondPublisher(t *testing.T) {
	net := testutil.NewMediaNet()
	j := testutil.NewJanus(net)
	a := newPeer(t, j, net, nil)
	b := newPeer(t, j, net, nil)
	ctx := context.Background()

	infoA, err := a.o.Join(ctx, "demo-room", "alice")
	require.NoError(t, err)
	_, err = b.o.Join(ctx, "demo-room", "bobby")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return linked(net, infoA.Self) }, waitFor, tick)
	require.NoError(t, a.o.SetMute(domain.TrackVideo, false))

	screen, err := a.o.StartScreenShare(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, infoA.Self, screen)

	local, ok := a.o.Feeds.Get(screen)
	require.True(t, ok)
	assert.True(t, local.Local)
	assert.Equal(t, domain.FeedScreen, local.Kind)
	assert.Equal(t, "alice screen", local.Display)

	require.Eventually(t, func() bool {
		_, ok := b.o.Feeds.Get(screen)
		return ok
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		v, ok := b.o.Mute.Registry().Get(domain.TrackVideo, screen)
		return ok && v
	}, waitFor, tick)

	assert.Equal(t, 0, j.Subscriptions(a.o.Session.ID(), screen))
	assert.False(t, a.o.Mute.Own(domain.TrackVideo), "camera state untouched by the share")

	_, err = a.o.StartScreenShare(ctx)
	assert.ErrorIs(t, err, app.ErrScreenActive)

	require.NoError(t, a.o.StopScreenShare(ctx))
	assert.Zero(t, a.o.Status().Screen)
	_, ok = a.o.Feeds.Get(screen)
	assert.False(t, ok)
	require.Eventually(t, func() bool {
		_, ok := b.o.Feeds.Get(screen)
		return !ok
	}, waitFor, tick)
	assert.True(t, a.o.Joined())
	assert.ErrorIs(t, a.o.StopScreenShare(ctx), app.ErrScreenInactive)
}

func TestScreenShareStopsWhenSourceEnds(t *testing.T) {
	net := testutil.NewMediaNet()
	j := testutil.NewJanus(net)
	p := newPeer(t, j, net, nil)
	ctx := context.Background()

	_, err := p.o.StartScreenShare(ctx)
	assert.ErrorIs(t, err, app.ErrNotJoined)

	_, err = p.o.Join(ctx, "demo-room", "alice")
	require.NoError(t, err)
	screen, err := p.o.StartScreenShare(ctx)
	require.NoError(t, err)
	assert.Len(t, j.Publishers(demoRoom), 2)

	p.capture.LastScreen().End()

	require.Eventually(t, func() bool { return p.o.Status().Screen == 0 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(j.Publishers(demoRoom)) == 1 }, waitFor, tick)
	_, ok := p.o.Feeds.Get(screen)
	assert.False(t, ok)
}

func TestReplaceDevicesKeepsMuteState(t *testing.T) {
	net := testutil.NewMediaNet()
	j := testutil.NewJanus(net)
	p := newPeer(t, j, net, nil)
	ctx := context.Background()

	_, err := p.o.ReplaceDevices(ctx, "default", "usb-cam")
	require.NoError(t, err)
	assert.Empty(t, p.capture.Captured(), "outside a call only the preference is saved")

	info, err := p.o.Join(ctx, "demo-room", "alice")
	require.NoError(t, err)
	old := p.o.Publisher.Stream()
	require.NoError(t, p.o.SetMute(domain.TrackVideo, false))

	settings, err := p.o.ReplaceDevices(ctx, "default", "usb-cam")
	require.NoError(t, err)
	assert.Equal(t, "usb-cam", settings.DeviceID)
	assert.Equal(t, 1280, settings.Width)
	assert.Equal(t, settings, p.o.Status().Settings)

	stream := p.o.Publisher.Stream()
	require.NotSame(t, old, stream)
	assert.True(t, old.Video.(*testutil.LocalTrack).Stopped())
	assert.False(t, stream.Video.Enabled())
	assert.True(t, stream.Audio.Enabled())

	conn := net.Publisher(info.Self)
	require.NotNil(t, conn)
	assert.Equal(t, stream.Video.Track(), conn.Replaced(webrtc.RTPCodecTypeVideo))
	assert.Equal(t, "usb-cam", stored(p.store, orch.KeyVideoDeviceID))

	f, ok := p.o.Feeds.Get(info.Self)
	require.True(t, ok)
	assert.Equal(t, stream.Video.ID(), f.Stream.TrackID(domain.TrackVideo))
}

func TestDevices(t *testing.T) {
	net := testutil.NewMediaNet()
	j := testutil.NewJanus(net)
	p := newPeer(t, j, net, nil)

	devices, err := p.o.Devices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 4)
}
