package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"
)

// Reconnect reclaims the current session over a fresh transport. It is a
// no-op while a reconnection is already running or no session exists.
func (s *Session) Reconnect() {
	s.mu.Lock()
	if s.reconnecting || s.id == 0 || s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	old := s.link
	s.link = nil
	s.beginReconnectLocked()
	s.mu.Unlock()
	s.flush()
	if old != nil {
		old.close()
	}
}

func (s *Session) onLinkLost(l *link) {
	s.mu.Lock()
	if s.link != l || s.id == 0 {
		s.mu.Unlock()
		return
	}
	s.link = nil
	s.setStateLocked(StateDisconnected, ErrClosed)
	s.beginReconnectLocked()
	s.mu.Unlock()
	s.flush()
}

// lost handles a gateway-side loss of the session on the live link.
func (s *Session) lost(l *link, cause error) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.reset(StateUninitialized, cause)
}

func (s *Session) beginReconnectLocked() {
	if s.reconnecting {
		return
	}
	s.reconnecting = true
	s.setStateLocked(StateReconnecting, nil)
	go s.reconnectLoop(s.life)
}

// reconnectLoop waits the fixed delay before every attempt. After the
// ceiling is exceeded the session is terminated and nothing more is scheduled.
func (s *Session) reconnectLoop(ctx context.Context) {
	logger := log.With().Str("module", "gateway.reconnect").Uint64("session", s.ID()).Logger()

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.opts.ReconnectDelay):
	}

	// A vanished session ends the retries early by cancelling the policy context.
	policyCtx, stop := context.WithCancel(ctx)
	defer stop()

	op := func() error {
		s.mu.Lock()
		s.attempts++
		n := s.attempts
		s.mu.Unlock()

		err := s.claim(ctx)
		if err == nil {
			return nil
		}
		logger.Warn().Err(err).Int("attempt", n).Msg("reconnect failed")
		if errors.Is(err, ErrNoSuchSession) {
			stop()
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.ReconnectDelay), uint64(s.opts.ReconnectCeiling)),
		policyCtx,
	)
	err := backoff.Retry(op, policy)
	if ctx.Err() != nil {
		return
	}

	switch {
	case err == nil:
		s.mu.Lock()
		s.attempts = 0
		s.reconnecting = false
		if len(s.handles) > 0 {
			s.setStateLocked(StateActive, nil)
		} else {
			s.setStateLocked(StateReady, nil)
		}
		s.mu.Unlock()
		s.flush()
		logger.Info().Msg("session reclaimed")
	case errors.Is(err, ErrNoSuchSession):
		logger.Warn().Msg("session gone on gateway, fresh bring-up required")
		s.reset(StateUninitialized, ErrNoSuchSession)
	default:
		logger.Error().Err(err).Int("attempts", s.Attempts()).Msg("reconnect ceiling exceeded")
		s.mu.Lock()
		s.cancel()
		l := s.link
		s.link = nil
		s.handles = make(map[uint64]*Handle)
		s.reconnecting = false
		s.setStateLocked(StateTerminated, fmt.Errorf("%w: %w", ErrSessionTerminated, err))
		s.mu.Unlock()
		s.flush()
		if l != nil {
			l.close()
		}
	}
}

func (s *Session) claim(ctx context.Context) error {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()
	if id == 0 {
		return ErrNoSuchSession
	}

	l, err := s.open(ctx)
	if err != nil {
		return err
	}
	if _, err := s.call(ctx, l, &Envelope{Janus: "claim", SessionID: id}); err != nil {
		l.close()
		return err
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		l.close()
		return ctx.Err()
	}
	s.link = l
	s.mu.Unlock()
	go s.keepAlive(l)
	return nil
}
