package domain

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
)

// FeedID identifies a publisher in a room. Local ids are random 16-digit numbers.
type FeedID uint64

const (
	minFeedID = 1_000_000_000_000_000
	feedSpan  = 9_000_000_000_000_000
)

func NewFeedID() FeedID {
	return FeedID(minFeedID + rand.Uint64N(feedSpan))
}

func (id FeedID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Wire returns the value placed in "id"/"feed" fields of gateway requests.
func (id FeedID) Wire(stringIDs bool) any {
	if stringIDs {
		return id.String()
	}
	return uint64(id)
}

func (id *FeedID) UnmarshalJSON(b []byte) error {
	v, err := parseNumeric(b, 64)
	if err != nil {
		return fmt.Errorf("feed id: %w", err)
	}
	*id = FeedID(v)
	return nil
}

func (id FeedID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint64(id))
}

type FeedKind string

const (
	FeedCamera FeedKind = "camera"
	FeedScreen FeedKind = "screen"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

func (k TrackKind) Valid() bool {
	return k == TrackAudio || k == TrackVideo
}

// Publisher is a participant advertised by the gateway as publishing media.
type Publisher struct {
	ID         FeedID `json:"id"`
	Display    string `json:"display"`
	AudioCodec string `json:"audio_codec,omitempty"`
	VideoCodec string `json:"video_codec,omitempty"`
	Talking    bool   `json:"talking,omitempty"`
}

// Attendee is a participant that joined without publishing.
type Attendee struct {
	ID      FeedID `json:"id"`
	Display string `json:"display"`
}
