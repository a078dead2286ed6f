package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	router "github.com/dkeye/Meet/internal/adapters/http"
	"github.com/dkeye/Meet/internal/adapters/store"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/gateway"
	"github.com/dkeye/Meet/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	t   *testing.T
	url string
	o   *orch.Orchestrator
}

func testConfig() *config.Config {
	return &config.Config{
		Mode:         "test",
		Secret:       "test-secret",
		RateLimit:    100,
		RateInterval: time.Minute,
	}
}

func newServer(t *testing.T, cfg *config.Config) *server {
	t.Helper()
	net := testutil.NewMediaNet()
	j := testutil.NewJanus(net)
	capture := &testutil.Capture{}
	o := orch.New(orch.Config{
		Requests: gateway.Requests{Bitrate: 512000, StringIDs: cfg.StringRoomIDs},
		Session: gateway.Options{
			KeepAlive:      time.Hour,
			ReconnectDelay: 5 * time.Millisecond,
		},
		Video:       core.Constraints{Width: 1280, Height: 720, FrameRate: 30},
		EventBuffer: 256,
	}, orch.Deps{
		Dialer:  j,
		Media:   net,
		Capture: capture,
		Devices: capture,
		Store:   store.NewMemory(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, o))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		cancel()
		o.Close(context.Background())
	})
	return &server{t: t, url: srv.URL, o: o}
}

// client returns an HTTP client that keeps the session cookie.
func (s *server) client() *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(s.t, err)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func (s *server) do(c *http.Client, method, path string, body any, out any) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.url+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRoomIDEndpoint(t *testing.T) {
	s := newServer(t, testConfig())
	c := s.client()

	var got map[string]any
	require.Equal(t, http.StatusOK, s.do(c, http.MethodGet, "/api/room-id?name=demo-room", nil, &got))
	assert.Equal(t, "demo-room", got["name"])
	assert.Equal(t, float64(1870295636), got["room"])

	assert.Equal(t, http.StatusBadRequest, s.do(c, http.MethodGet, "/api/room-id", nil, nil))
}

func TestRoomIDEndpointStringIDs(t *testing.T) {
	cfg := testConfig()
	cfg.StringRoomIDs = true
	s := newServer(t, cfg)

	var got map[string]any
	require.Equal(t, http.StatusOK, s.do(s.client(), http.MethodGet, "/api/room-id?name=demo-room", nil, &got))
	assert.Equal(t, "1870295636", got["room"])
}

func TestJoinMuteLeave(t *testing.T) {
	s := newServer(t, testConfig())
	c := s.client()

	var info app.RoomInfo
	require.Equal(t, http.StatusOK, s.do(c, http.MethodPost, "/api/join",
		router.JoinRequest{Room: "demo-room", Name: "alice"}, &info))
	assert.EqualValues(t, 1870295636, info.Room)
	assert.Equal(t, "alice", info.Display)

	assert.Equal(t, http.StatusConflict, s.do(c, http.MethodPost, "/api/join",
		router.JoinRequest{Room: "demo-room", Name: "alice"}, nil))

	off := false
	assert.Equal(t, http.StatusNoContent, s.do(c, http.MethodPost, "/api/mute",
		map[string]any{"kind": "video", "enabled": off}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(c, http.MethodPost, "/api/mute",
		map[string]any{"kind": "data", "enabled": off}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(c, http.MethodPost, "/api/mute",
		map[string]any{"kind": "audio"}, nil))

	var st orch.Status
	require.Equal(t, http.StatusOK, s.do(c, http.MethodGet, "/api/state", nil, &st))
	assert.True(t, st.Joined)
	assert.True(t, st.Audio)
	assert.False(t, st.Video)
	assert.Equal(t, "alice", st.Display)

	var feeds []app.FeedInfo
	require.Equal(t, http.StatusOK, s.do(c, http.MethodGet, "/api/feeds", nil, &feeds))
	assert.Len(t, feeds, 1)

	assert.Equal(t, http.StatusNoContent, s.do(c, http.MethodPost, "/api/leave", nil, nil))
	assert.Equal(t, http.StatusConflict, s.do(c, http.MethodPost, "/api/leave", nil, nil))
}

func TestJoinRejectsInvalidNames(t *testing.T) {
	s := newServer(t, testConfig())
	c := s.client()

	assert.Equal(t, http.StatusBadRequest, s.do(c, http.MethodPost, "/api/join",
		router.JoinRequest{Room: "demo-room", Name: "al"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(c, http.MethodPost, "/api/join",
		map[string]string{"room": "demo-room"}, nil))
}

func TestJoinIsRateLimitedPerClient(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 1
	s := newServer(t, cfg)
	first := s.client()

	bad := router.JoinRequest{Room: "demo-room", Name: "al"}
	assert.Equal(t, http.StatusBadRequest, s.do(first, http.MethodPost, "/api/join", bad, nil))
	assert.Equal(t, http.StatusTooManyRequests, s.do(first, http.MethodPost, "/api/join", bad, nil))

	assert.Equal(t, http.StatusBadRequest, s.do(s.client(), http.MethodPost, "/api/join", bad, nil))
}

func TestResumeWithoutSavedSession(t *testing.T) {
	s := newServer(t, testConfig())
	assert.Equal(t, http.StatusNotFound, s.do(s.client(), http.MethodPost, "/api/resume", nil, nil))
}

func TestScreenRequiresJoin(t *testing.T) {
	s := newServer(t, testConfig())
	assert.Equal(t, http.StatusConflict, s.do(s.client(), http.MethodPost, "/api/screen",
		map[string]bool{"enabled": true}, nil))
}

func TestDevicesEndpoint(t *testing.T) {
	s := newServer(t, testConfig())
	c := s.client()

	var devices []core.Device
	require.Equal(t, http.StatusOK, s.do(c, http.MethodGet, "/api/devices", nil, &devices))
	assert.Len(t, devices, 4)

	var settings core.TrackSettings
	require.Equal(t, http.StatusOK, s.do(c, http.MethodPost, "/api/devices",
		router.DevicesRequest{VideoDeviceID: "usb-cam"}, &settings))
}

func TestRoomsEndpoint(t *testing.T) {
	s := newServer(t, testConfig())
	c := s.client()

	require.Equal(t, http.StatusOK, s.do(c, http.MethodPost, "/api/join",
		router.JoinRequest{Room: "demo-room", Name: "alice"}, nil))

	var rooms []map[string]any
	require.Equal(t, http.StatusOK, s.do(c, http.MethodGet, "/api/rooms", nil, &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, float64(1870295636), rooms[0]["room"])

	var participants []gateway.Participant
	require.Equal(t, http.StatusOK, s.do(c, http.MethodGet, "/api/rooms/1870295636/participants", nil, &participants))
	assert.Len(t, participants, 1)

	assert.Equal(t, http.StatusBadRequest, s.do(c, http.MethodGet, "/api/rooms/abc/participants", nil, nil))
}

func readEvent(t *testing.T, r *bufio.Reader, name string) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.TrimSpace(line) != "event:"+name {
			continue
		}
		data, err := r.ReadString('\n')
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(data, "data:"))
		return strings.TrimSpace(strings.TrimPrefix(data, "data:"))
	}
}

func TestEventStream(t *testing.T) {
	s := newServer(t, testConfig())

	req, err := http.NewRequest(http.MethodGet, s.url+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	r := bufio.NewReader(resp.Body)
	var st orch.Status
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, r, "state")), &st))
	assert.False(t, st.Joined)

	s.o.Hub.Publish(app.EventCue, app.CueJoin)

	var ev app.Event
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, r, "cue")), &ev))
	assert.Equal(t, app.EventCue, ev.Kind)
	assert.Equal(t, "join", ev.Data)
}
