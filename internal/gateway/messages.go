package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	Protocol        = "janus-protocol"
	PluginVideoRoom = "janus.plugin.videoroom"
)

// Envelope is the top-level gateway message in both directions.
type Envelope struct {
	Janus       string                     `json:"janus"`
	Transaction string                     `json:"transaction,omitempty"`
	SessionID   uint64                     `json:"session_id,omitempty"`
	HandleID    uint64                     `json:"handle_id,omitempty"`
	Sender      uint64                     `json:"sender,omitempty"`
	Plugin      string                     `json:"plugin,omitempty"`
	Body        any                        `json:"body,omitempty"`
	JSEP        *webrtc.SessionDescription `json:"jsep,omitempty"`
	Candidate   *Candidate                 `json:"candidate,omitempty"`
	Data        *IDData                    `json:"data,omitempty"`
	PluginData  *PluginData                `json:"plugindata,omitempty"`
	Error       *ErrorInfo                 `json:"error,omitempty"`
	Reason      string                     `json:"reason,omitempty"`
	Type        string                     `json:"type,omitempty"`
	Receiving   *bool                      `json:"receiving,omitempty"`
	Uplink      *bool                      `json:"uplink,omitempty"`
}

type IDData struct {
	ID uint64 `json:"id"`
}

type PluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data"`
}

type ErrorInfo struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type Candidate struct {
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Completed     bool    `json:"completed,omitempty"`
}

func (c *Candidate) Init() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

// FeedRef is the value of "leaving"/"unpublished": a feed id, or "ok" when it
// acknowledges the receiver's own request.
type FeedRef struct {
	ID   domain.FeedID
	Self bool
}

func (r *FeedRef) UnmarshalJSON(b []byte) error {
	if string(b) == `"ok"` {
		r.Self = true
		return nil
	}
	return r.ID.UnmarshalJSON(b)
}

func (r FeedRef) MarshalJSON() ([]byte, error) {
	if r.Self {
		return []byte(`"ok"`), nil
	}
	return json.Marshal(r.ID)
}

type Participant struct {
	ID        domain.FeedID `json:"id"`
	Display   string        `json:"display,omitempty"`
	Publisher bool          `json:"publisher"`
	Talking   bool          `json:"talking,omitempty"`
}

// RoomEvent is the videoroom plugin payload.
type RoomEvent struct {
	VideoRoom    string             `json:"videoroom"`
	Room         domain.RoomID      `json:"room,omitempty"`
	ID           domain.FeedID      `json:"id,omitempty"`
	PrivateID    uint64             `json:"private_id,omitempty"`
	Display      string             `json:"display,omitempty"`
	Description  string             `json:"description,omitempty"`
	Publishers   []domain.Publisher `json:"publishers,omitempty"`
	Attendees    []domain.Attendee  `json:"attendees,omitempty"`
	Joining      *domain.Attendee   `json:"joining,omitempty"`
	Leaving      *FeedRef           `json:"leaving,omitempty"`
	Unpublished  *FeedRef           `json:"unpublished,omitempty"`
	Configured   string             `json:"configured,omitempty"`
	Started      string             `json:"started,omitempty"`
	Exists       bool               `json:"exists,omitempty"`
	Rooms        []domain.Room      `json:"list,omitempty"`
	Participants []Participant      `json:"participants,omitempty"`
	ErrorCode    int                `json:"error_code,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Err returns the plugin-level error carried by the event, if any.
func (e *RoomEvent) Err() error {
	if e.ErrorCode == 0 && e.Error == "" {
		return nil
	}
	return &GatewayError{Code: e.ErrorCode, Message: e.Error}
}

// DecodeRoomEvent parses the plugin payload of env.
func DecodeRoomEvent(env *Envelope) (*RoomEvent, error) {
	if env.PluginData == nil {
		return nil, fmt.Errorf("gateway: %s without plugindata", env.Janus)
	}
	var ev RoomEvent
	if err := json.Unmarshal(env.PluginData.Data, &ev); err != nil {
		return nil, fmt.Errorf("gateway: decode plugindata: %w", err)
	}
	return &ev, nil
}
