package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Handle is one plugin attachment on the session.
//
// The handler passed to Attach runs on the session read goroutine; it must not
// block on requests of the same session.
type Handle struct {
	session *Session
	id      uint64
	plugin  string
	handler func(*Envelope)

	mu       sync.Mutex
	detached bool
}

func (h *Handle) ID() uint64 { return h.id }

func (h *Handle) Detached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detached
}

func (h *Handle) dispatch(env *Envelope) {
	if env.Janus == "detached" {
		h.markDetached()
	}
	if h.handler != nil {
		h.handler(env)
	}
}

func (h *Handle) markDetached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detached {
		return false
	}
	h.detached = true
	h.session.forget(h.id)
	return true
}

func (h *Handle) message(ctx context.Context, body any, jsep *webrtc.SessionDescription) (*Envelope, error) {
	if h.Detached() {
		return nil, ErrDetached
	}
	l, sid, err := h.session.current()
	if err != nil {
		return nil, err
	}
	return h.session.call(ctx, l, &Envelope{
		Janus:     "message",
		SessionID: sid,
		HandleID:  h.id,
		Body:      body,
		JSEP:      jsep,
	})
}

// Request sends a synchronous plugin request and returns its payload.
// Plugin-level errors are returned as *GatewayError.
func (h *Handle) Request(ctx context.Context, body any) (*RoomEvent, error) {
	reply, err := h.message(ctx, body, nil)
	if err != nil {
		return nil, err
	}
	ev, err := DecodeRoomEvent(reply)
	if err != nil {
		return nil, err
	}
	if err := ev.Err(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Send sends an asynchronous plugin request. The outcome arrives later as an
// event on the handle.
func (h *Handle) Send(ctx context.Context, body any, jsep *webrtc.SessionDescription) error {
	reply, err := h.message(ctx, body, jsep)
	if err != nil {
		return err
	}
	if reply.Janus == "success" && reply.PluginData != nil {
		ev, err := DecodeRoomEvent(reply)
		if err != nil {
			return err
		}
		return ev.Err()
	}
	return nil
}

func (h *Handle) Trickle(ctx context.Context, c *Candidate) error {
	l, sid, err := h.session.current()
	if err != nil {
		return err
	}
	_, err = h.session.call(ctx, l, &Envelope{Janus: "trickle", SessionID: sid, HandleID: h.id, Candidate: c})
	return err
}

// Hangup closes the gateway side of the handle's peer connection; the handle stays attached.
func (h *Handle) Hangup(ctx context.Context) error {
	if h.Detached() {
		return nil
	}
	l, sid, err := h.session.current()
	if err != nil {
		return err
	}
	_, err = h.session.call(ctx, l, &Envelope{Janus: "hangup", SessionID: sid, HandleID: h.id})
	return err
}

// Detach releases the handle. Repeated calls are no-ops.
func (h *Handle) Detach(ctx context.Context) error {
	if !h.markDetached() {
		return nil
	}
	l, sid, err := h.session.current()
	if err != nil {
		log.Debug().Str("module", "gateway.handle").Uint64("handle", h.id).Msg("detached locally, no live session")
		return nil
	}
	if _, err := h.session.call(ctx, l, &Envelope{Janus: "detach", SessionID: sid, HandleID: h.id}); err != nil {
		return fmt.Errorf("gateway: detach %d: %w", h.id, err)
	}
	log.Info().Str("module", "gateway.handle").Uint64("handle", h.id).Msg("detached")
	return nil
}
