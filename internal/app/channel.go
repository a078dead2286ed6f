package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/gateway"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Role int

const (
	RolePublisher Role = iota
	RoleSubscriber
	RoleScreen
)

func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	case RoleScreen:
		return "screen"
	}
	return "unknown"
}

// Channel is one videoroom attachment together with its peer connection.
type Channel struct {
	role     Role
	label    string
	session  *gateway.Session
	factory  core.MediaFactory
	listener Listener

	mu       sync.Mutex
	handle   *gateway.Handle
	conn     core.MediaConnection
	detached bool
}

func NewChannel(role Role, label string, session *gateway.Session, factory core.MediaFactory, listener Listener) *Channel {
	return &Channel{role: role, label: label, session: session, factory: factory, listener: listener}
}

func (c *Channel) Role() Role { return c.role }

func (c *Channel) Handle() *gateway.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

func (c *Channel) Conn() core.MediaConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Channel) Detached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

// Attach creates the peer connection and attaches the plugin handle. A Detach
// that races with Attach wins: the late handle is released immediately.
func (c *Channel) Attach(ctx context.Context) error {
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return gateway.ErrDetached
	}
	if c.handle != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.factory.NewConnection(c.label)
	if err != nil {
		return fmt.Errorf("%w: peer connection: %w", gateway.ErrAttachFailed, err)
	}
	if err := conn.Start(context.Background()); err != nil {
		conn.Close()
		return fmt.Errorf("%w: peer connection: %w", gateway.ErrAttachFailed, err)
	}
	conn.OnTrack(c.listener.OnTrackAdded)
	conn.OnICEStateChange(c.onICE)
	if dl, ok := c.listener.(dataChannelListener); ok {
		conn.OnDataChannel(dl.OnDataChannel)
	}

	h, err := c.session.Attach(ctx, gateway.PluginVideoRoom, c.dispatch)
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		conn.Close()
		if err := h.Detach(ctx); err != nil {
			log.Warn().Err(err).Str("module", "app.channel").Str("role", c.role.String()).Msg("detach after cancelled attach")
		}
		return gateway.ErrDetached
	}
	c.handle, c.conn = h, conn
	c.mu.Unlock()

	log.Info().Str("module", "app.channel").Str("role", c.role.String()).Uint64("handle", h.ID()).Msg("channel attached")
	return nil
}

func (c *Channel) live() (*gateway.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return nil, gateway.ErrDetached
	}
	if c.handle == nil {
		return nil, gateway.ErrNotReady
	}
	return c.handle, nil
}

// Request sends a synchronous plugin request.
func (c *Channel) Request(ctx context.Context, body any) (*gateway.RoomEvent, error) {
	h, err := c.live()
	if err != nil {
		return nil, err
	}
	return h.Request(ctx, body)
}

// Send sends an asynchronous plugin request; the outcome reaches the listener.
func (c *Channel) Send(ctx context.Context, body any, jsep *webrtc.SessionDescription) error {
	h, err := c.live()
	if err != nil {
		return err
	}
	return h.Send(ctx, body, jsep)
}

// Hangup closes the gateway side of the peer connection.
func (c *Channel) Hangup(ctx context.Context) error {
	h, err := c.live()
	if err != nil {
		return err
	}
	return h.Hangup(ctx)
}

// Detach releases the handle and the peer connection. It is safe while Attach
// or negotiation is still in flight, and repeated calls are no-ops.
func (c *Channel) Detach(ctx context.Context) error {
	return c.Retire()(ctx)
}

// Retire marks the channel detached right away, so requests and track events
// that arrive later are refused. The returned release closes the peer
// connection and detaches the gateway handle.
func (c *Channel) Retire() func(context.Context) error {
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return func(context.Context) error { return nil }
	}
	c.detached = true
	h, conn := c.handle, c.conn
	c.mu.Unlock()

	return func(ctx context.Context) error {
		if conn != nil {
			conn.Close()
		}
		if h == nil {
			return nil
		}
		return h.Detach(ctx)
	}
}

// dispatch routes gateway events to the listener. A retired channel hears
// nothing more.
func (c *Channel) dispatch(env *gateway.Envelope) {
	if c.Detached() {
		return
	}
	switch env.Janus {
	case "event":
		if env.PluginData == nil {
			return
		}
		ev, err := gateway.DecodeRoomEvent(env)
		if err != nil {
			c.listener.OnError(err)
			return
		}
		if err := ev.Err(); err != nil {
			c.listener.OnError(err)
			return
		}
		c.listener.OnMessage(ev, env.JSEP)
	case "webrtcup":
		c.listener.OnStateChange(ChannelWebRTCUp)
	case "hangup":
		log.Info().Str("module", "app.channel").Str("role", c.role.String()).Str("reason", env.Reason).Msg("hangup")
		c.listener.OnStateChange(ChannelHangup)
	case "detached":
		c.listener.OnStateChange(ChannelDetached)
	case "trickle":
		conn := c.Conn()
		if conn == nil || env.Candidate == nil || env.Candidate.Completed {
			return
		}
		if err := conn.AddICECandidate(env.Candidate.Init()); err != nil {
			log.Warn().Err(err).Str("module", "app.channel").Msg("remote candidate")
		}
	case "media", "slowlink":
		log.Debug().Str("module", "app.channel").Str("role", c.role.String()).Str("janus", env.Janus).Str("type", env.Type).Msg("media report")
	}
}

func (c *Channel) onICE(s webrtc.ICEConnectionState) {
	switch s {
	case webrtc.ICEConnectionStateConnected:
		c.listener.OnStateChange(ChannelICEConnected)
	case webrtc.ICEConnectionStateDisconnected:
		c.listener.OnStateChange(ChannelICEDisconnected)
	case webrtc.ICEConnectionStateFailed:
		c.listener.OnStateChange(ChannelICEFailed)
	}
}
