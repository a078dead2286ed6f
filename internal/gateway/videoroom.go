package gateway

import "github.com/dkeye/Meet/internal/domain"

// Room creation parameters shared by every client of a deployment.
const (
	DefaultPublishers  = 30
	AudioCodec         = "opus"
	VideoCodec         = "h264"
	H264Profile        = "42e01f"
	AudioActivePackets = 100
	AudioLevelAverage  = 40
	FIRFrequency       = 1
)

// Requests builds videoroom request bodies.
type Requests struct {
	StringIDs  bool
	Bitrate    int
	Publishers int
}

func (r Requests) Exists(room domain.RoomID) map[string]any {
	return map[string]any{"request": "exists", "room": room.Wire(r.StringIDs)}
}

func (r Requests) Create(room domain.RoomID, name domain.RoomName) map[string]any {
	publishers := r.Publishers
	if publishers == 0 {
		publishers = DefaultPublishers
	}
	return map[string]any{
		"request":              "create",
		"room":                 room.Wire(r.StringIDs),
		"description":          string(name),
		"publishers":           publishers,
		"audiocodec":           AudioCodec,
		"videocodec":           VideoCodec,
		"h264_profile":         H264Profile,
		"bitrate":              r.Bitrate,
		"bitrate_cap":          true,
		"audiolevel_ext":       true,
		"audiolevel_event":     true,
		"audio_active_packets": AudioActivePackets,
		"audio_level_average":  AudioLevelAverage,
		"notify_joining":       true,
		"videoorient_ext":      true,
		"fir_freq":             FIRFrequency,
	}
}

func (r Requests) List() map[string]any {
	return map[string]any{"request": "list"}
}

func (r Requests) ListParticipants(room domain.RoomID) map[string]any {
	return map[string]any{"request": "listparticipants", "room": room.Wire(r.StringIDs)}
}

func (r Requests) JoinPublisher(room domain.RoomID, display string, id domain.FeedID) map[string]any {
	return map[string]any{
		"request":  "join",
		"ptype":    "publisher",
		"room":     room.Wire(r.StringIDs),
		"display":  display,
		"id":       id.Wire(r.StringIDs),
		"keyframe": true,
	}
}

// Configure forces audio and video on; muting is applied to tracks locally.
func (r Requests) Configure() map[string]any {
	return map[string]any{"request": "configure", "audio": true, "video": true}
}

func (r Requests) Publish(display string) map[string]any {
	return map[string]any{
		"request":    "publish",
		"display":    display,
		"audiocodec": AudioCodec,
		"videocodec": VideoCodec,
		"audio":      true,
		"video":      true,
		"data":       true,
		"keyframe":   true,
	}
}

func (r Requests) JoinSubscriber(room domain.RoomID, feed domain.FeedID) map[string]any {
	return map[string]any{
		"request":     "join",
		"ptype":       "subscriber",
		"room":        room.Wire(r.StringIDs),
		"feed":        feed.Wire(r.StringIDs),
		"keyframe":    true,
		"offer_video": true,
	}
}

func (r Requests) Start(room domain.RoomID) map[string]any {
	return map[string]any{"request": "start", "room": room.Wire(r.StringIDs)}
}

func (r Requests) Leave() map[string]any {
	return map[string]any{"request": "leave"}
}
