// Package media keeps per-feed track aggregates and relays inbound RTP to sinks.
package media

import (
	"sync"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/webrtc/v4"
)

// KindOf maps a codec type to a track kind.
func KindOf(t webrtc.RTPCodecType) (domain.TrackKind, bool) {
	switch t {
	case webrtc.RTPCodecTypeAudio:
		return domain.TrackAudio, true
	case webrtc.RTPCodecTypeVideo:
		return domain.TrackVideo, true
	}
	return "", false
}

// CodecType is the inverse of KindOf.
func CodecType(k domain.TrackKind) webrtc.RTPCodecType {
	if k == domain.TrackAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// Stream is the media aggregate of one feed: at most one track per kind.
type Stream struct {
	mu     sync.RWMutex
	tracks map[domain.TrackKind]string
}

func NewStream() *Stream {
	return &Stream{tracks: make(map[domain.TrackKind]string)}
}

// Add records a track of the given kind. It reports false when the kind is
// already present; the first track wins.
func (s *Stream) Add(kind domain.TrackKind, trackID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tracks[kind]; ok {
		return false
	}
	s.tracks[kind] = trackID
	return true
}

func (s *Stream) Has(kind domain.TrackKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tracks[kind]
	return ok
}

func (s *Stream) TrackID(kind domain.TrackKind) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracks[kind]
}

func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}
