package media

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/testutil"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	mu     sync.Mutex
	pkts   []uint16
	closed bool
}

func (s *recordSink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	s.pkts = append(s.pkts, p.SequenceNumber)
	s.mu.Unlock()
	return nil
}

func (s *recordSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pkts)
}

func (s *recordSink) seqs() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.pkts...)
}

func (s *recordSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type sinkFactory struct{ sink *recordSink }

func (f sinkFactory) OpenSink(domain.FeedID, domain.TrackKind) (core.RTPSink, error) {
	return f.sink, nil
}

func TestStreamAddIsIdempotentPerKind(t *testing.T) {
	s := NewStream()
	assert.True(t, s.Add(domain.TrackVideo, "v1"))
	assert.False(t, s.Add(domain.TrackVideo, "v2"))
	assert.True(t, s.Add(domain.TrackAudio, "a1"))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "v1", s.TrackID(domain.TrackVideo))
}

func TestKindOf(t *testing.T) {
	k, ok := KindOf(webrtc.RTPCodecTypeAudio)
	assert.True(t, ok)
	assert.Equal(t, domain.TrackAudio, k)
	_, ok = KindOf(webrtc.RTPCodecType(0))
	assert.False(t, ok)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, CodecType(domain.TrackVideo))
}

func TestRelayForwardsToSinks(t *testing.T) {
	def := &recordSink{}
	m := NewRelayManager(sinkFactory{sink: def})
	src := testutil.NewRemoteTrack("v", webrtc.RTPCodecTypeVideo)

	m.StartRelay(context.Background(), 1, domain.TrackVideo, src)
	require.True(t, m.HasRelay(1, domain.TrackVideo))

	src.Push(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1}})
	require.Eventually(t, func() bool { return def.count() == 1 }, time.Second, 5*time.Millisecond)

	m.MuteSink(1, domain.TrackVideo, DefaultSink, true)
	m.MuteSink(2, domain.TrackVideo, DefaultSink, true)
	m.MuteSink(1, domain.TrackVideo, "missing", true)
	src.Push(&rtp.Packet{Header: rtp.Header{SequenceNumber: 2}})
	assert.Never(t, func() bool { return def.count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	m.MuteSink(1, domain.TrackVideo, DefaultSink, false)
	src.Push(&rtp.Packet{Header: rtp.Header{SequenceNumber: 3}})
	require.Eventually(t, func() bool { return def.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint16{1, 3}, def.seqs())

	m.StopFeed(1)
	assert.False(t, m.HasRelay(1, domain.TrackVideo))
	assert.True(t, def.isClosed())
	src.Close()
}

func TestRelayStopsWhenSourceEnds(t *testing.T) {
	def := &recordSink{}
	m := NewRelayManager(sinkFactory{sink: def})
	src := testutil.NewRemoteTrack("a", webrtc.RTPCodecTypeAudio)
	r := m.StartRelay(context.Background(), 3, domain.TrackAudio, src)

	src.Close()
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
	assert.True(t, def.isClosed())
}
