package gateway_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/gateway"
	"github.com/dkeye/Meet/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type recorder struct {
	mu  sync.Mutex
	all []gateway.Transition
}

func (r *recorder) record(t gateway.Transition) {
	r.mu.Lock()
	r.all = append(r.all, t)
	r.mu.Unlock()
}

func (r *recorder) last() gateway.Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.all) == 0 {
		return gateway.Transition{}
	}
	return r.all[len(r.all)-1]
}

func newSession(t *testing.T, j *testutil.Janus) (*gateway.Session, *recorder) {
	t.Helper()
	s := gateway.NewSession(j, nil, gateway.Options{
		KeepAlive:      time.Hour,
		ReconnectDelay: 5 * time.Millisecond,
	})
	rec := &recorder{}
	s.OnTransition(rec.record)
	t.Cleanup(s.Close)
	return s, rec
}

func TestEnsureReadySharesBringUp(t *testing.T) {
	j := testutil.NewJanus(nil)
	s, _ := newSession(t, j)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.EnsureReady(context.Background())
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, j.Creates())
	assert.Equal(t, gateway.StateReady, s.State())

	require.NoError(t, s.EnsureReady(context.Background()))
	assert.Equal(t, 1, j.Creates())
}

func TestEnsureReadyTransportUnsupported(t *testing.T) {
	j := testutil.NewJanus(nil)
	s := gateway.NewSession(j, func() error { return errors.New("no peer connections") }, gateway.Options{})
	defer s.Close()

	err := s.EnsureReady(context.Background())
	require.ErrorIs(t, err, gateway.ErrTransportUnsupported)
	assert.Equal(t, 0, j.Dials())
	assert.Equal(t, gateway.StateTerminated, s.State())

	require.ErrorIs(t, s.EnsureReady(context.Background()), gateway.ErrTransportUnsupported)
}

func TestAttachAndDetach(t *testing.T) {
	j := testutil.NewJanus(nil)
	s, _ := newSession(t, j)
	ctx := context.Background()

	_, err := s.Attach(ctx, gateway.PluginVideoRoom, nil)
	require.ErrorIs(t, err, gateway.ErrAttachFailed)

	require.NoError(t, s.EnsureReady(ctx))
	h, err := s.Attach(ctx, gateway.PluginVideoRoom, nil)
	require.NoError(t, err)
	assert.Equal(t, gateway.StateActive, s.State())
	assert.Equal(t, 1, j.LiveHandles(s.ID()))

	require.NoError(t, h.Detach(ctx))
	require.NoError(t, h.Detach(ctx))
	assert.True(t, h.Detached())
	assert.Equal(t, 0, j.LiveHandles(s.ID()))

	_, err = h.Request(ctx, map[string]any{"request": "list"})
	assert.ErrorIs(t, err, gateway.ErrDetached)
}

func TestAttachUnknownPlugin(t *testing.T) {
	j := testutil.NewJanus(nil)
	s, _ := newSession(t, j)
	ctx := context.Background()
	require.NoError(t, s.EnsureReady(ctx))

	_, err := s.Attach(ctx, "janus.plugin.nope", nil)
	require.ErrorIs(t, err, gateway.ErrAttachFailed)
	assert.Equal(t, 460, gateway.Code(err))
	assert.Equal(t, gateway.StateReady, s.State())
}

func TestRequestCreateExistingRoom(t *testing.T) {
	j := testutil.NewJanus(nil)
	s, _ := newSession(t, j)
	ctx := context.Background()
	require.NoError(t, s.EnsureReady(ctx))
	h, err := s.Attach(ctx, gateway.PluginVideoRoom, nil)
	require.NoError(t, err)

	req := gateway.Requests{Bitrate: 512000}
	id := domain.ResolveRoomID("demo-room")

	ev, err := h.Request(ctx, req.Exists(id))
	require.NoError(t, err)
	assert.False(t, ev.Exists)

	ev, err = h.Request(ctx, req.Create(id, "demo-room"))
	require.NoError(t, err)
	assert.Equal(t, "created", ev.VideoRoom)
	assert.Equal(t, id, ev.Room)

	_, err = h.Request(ctx, req.Create(id, "demo-room"))
	assert.Equal(t, gateway.CodeRoomExists, gateway.Code(err))

	created := j.Requests("create")[0]
	assert.Equal(t, "h264", created["videocodec"])
	assert.Equal(t, "42e01f", created["h264_profile"])
	assert.Equal(t, true, created["notify_joining"])
	assert.Equal(t, "demo-room", created["description"])
}

func TestReconnectReclaimsSession(t *testing.T) {
	j := testutil.NewJanus(nil)
	s, rec := newSession(t, j)
	ctx := context.Background()
	require.NoError(t, s.EnsureReady(ctx))
	h, err := s.Attach(ctx, gateway.PluginVideoRoom, nil)
	require.NoError(t, err)
	id := s.ID()

	j.FailDials(2)
	j.DropConnections()

	require.Eventually(t, func() bool { return s.State() == gateway.StateActive }, waitFor, tick)
	assert.Equal(t, id, s.ID())
	assert.Equal(t, 0, s.Attempts())
	assert.Equal(t, gateway.StateActive, rec.last().To)

	_, err = h.Request(ctx, gateway.Requests{}.List())
	require.NoError(t, err)
}

func TestReconnectGivesUpAfterCeiling(t *testing.T) {
	j := testutil.NewJanus(nil)
	s, rec := newSession(t, j)
	ctx := context.Background()
	require.NoError(t, s.EnsureReady(ctx))
	_, err := s.Attach(ctx, gateway.PluginVideoRoom, nil)
	require.NoError(t, err)

	before := j.Dials()
	j.FailDials(-1)
	j.DropConnections()

	require.Eventually(t, func() bool { return s.State() == gateway.StateTerminated }, waitFor, tick)
	assert.Equal(t, 6, j.Dials()-before)
	assert.Equal(t, 6, s.Attempts())
	assert.ErrorIs(t, rec.last().Err, gateway.ErrSessionTerminated)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 6, j.Dials()-before, "no attempt after the ceiling")
	assert.ErrorIs(t, s.EnsureReady(ctx), gateway.ErrSessionTerminated)

	j.FailDials(0)
	s.Reset()
	require.NoError(t, s.EnsureReady(ctx))
	assert.Equal(t, 2, j.Creates())
}

func TestReconnectNoSuchSessionIsFatal(t *testing.T) {
	j := testutil.NewJanus(nil)
	s, rec := newSession(t, j)
	ctx := context.Background()
	require.NoError(t, s.EnsureReady(ctx))

	before := j.Dials()
	j.ForgetSessions()
	j.DropConnections()

	require.Eventually(t, func() bool { return s.State() == gateway.StateUninitialized }, waitFor, tick)
	assert.Equal(t, 1, j.Dials()-before)
	assert.ErrorIs(t, rec.last().Err, gateway.ErrNoSuchSession)
	assert.Zero(t, s.ID())

	require.NoError(t, s.EnsureReady(ctx))
	assert.Equal(t, 2, j.Creates())
}

func TestDestroyReleasesHandlesFirst(t *testing.T) {
	j := testutil.NewJanus(nil)
	s, _ := newSession(t, j)
	ctx := context.Background()
	require.NoError(t, s.EnsureReady(ctx))
	h1, err := s.Attach(ctx, gateway.PluginVideoRoom, nil)
	require.NoError(t, err)
	h2, err := s.Attach(ctx, gateway.PluginVideoRoom, nil)
	require.NoError(t, err)
	id := s.ID()

	require.NoError(t, s.Destroy(ctx))
	assert.True(t, h1.Detached())
	assert.True(t, h2.Detached())
	assert.False(t, j.HasSession(id))
	assert.Equal(t, gateway.StateUninitialized, s.State())
}
