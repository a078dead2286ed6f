package media

import (
	"context"
	"io"
	"maps"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

type Relay struct {
	Src core.RemoteTrack

	mu    sync.RWMutex
	sinks map[string]*Sink

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(src core.RemoteTrack, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:    src,
		sinks:  make(map[string]*Sink),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// loop reads RTP packets from the source track and forwards them to all sinks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all sinks for delete")
			r.closeAll()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			if err == io.EOF {
				logger.Info().Msg("relay source ended")
			} else {
				logger.Error().Err(err).Msg("relay read RTP error, stopping")
			}
			r.closeAll()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.sinks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for name, s := range snapshot {
		switch s.State() {
		case SinkDelete:
			dirty = append(dirty, name)
		case SinkMuted:
		case SinkOk:
			if err := s.Dst.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("sink", name).
					Msg("relay write RTP error, marking sink as delete")
				s.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	removed := make([]*Sink, 0, len(dirty))
	for _, name := range dirty {
		if s, ok := r.sinks[name]; ok {
			removed = append(removed, s)
			delete(r.sinks, name)
		}
	}
	r.mu.Unlock()
	for _, s := range removed {
		closeSink(s)
	}
}

// closeAll drops every sink and closes those that hold resources.
func (r *Relay) closeAll() {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = make(map[string]*Sink)
	r.mu.Unlock()
	for _, s := range sinks {
		s.MarkDelete()
		closeSink(s)
	}
}

func (r *Relay) AddSink(name string, s *Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sinks[name]; ok && old != s {
		old.MarkDelete()
	}
	r.sinks[name] = s
}

func (r *Relay) sink(name string) (*Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[name]
	return s, ok
}

// Done is closed when the relay loop has exited.
func (r *Relay) Done() <-chan struct{} { return r.done }

func closeSink(s *Sink) {
	if c, ok := s.Dst.(io.Closer); ok {
		_ = c.Close()
	}
}
