package media

import (
	"sync/atomic"

	"github.com/dkeye/Meet/internal/core"
)

type SinkState int32

const (
	SinkOk SinkState = iota
	SinkMuted
	SinkDelete
)

// Sink is one consumer of a relayed track.
type Sink struct {
	Dst   core.RTPSink
	state atomic.Int32 // Zero by default (SinkOk)
}

func NewSink(dst core.RTPSink) *Sink {
	return &Sink{Dst: dst}
}

func (s *Sink) State() SinkState {
	return SinkState(s.state.Load())
}

func (s *Sink) MarkOk() {
	s.state.Store(int32(SinkOk))
}

func (s *Sink) MarkMuted() {
	s.state.Store(int32(SinkMuted))
}

func (s *Sink) MarkDelete() {
	s.state.Store(int32(SinkDelete))
}
