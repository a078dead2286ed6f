package core

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICEStateChange sets a callback for ICE connection state transitions.
	OnICEStateChange(func(webrtc.ICEConnectionState))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track RemoteTrack))
	// OnDataChannel sets a callback for data channels opened by the remote side.
	OnDataChannel(func(DataChannel))

	AddLocalTrack(track webrtc.TrackLocal) error
	// ReplaceLocalTrack swaps the outgoing track of the given kind without renegotiation.
	ReplaceLocalTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
	CreateDataChannel(label string) (DataChannel, error)

	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
}

// RemoteTrack is the inbound side of a subscription. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// DataChannel is the subset of *webrtc.DataChannel the mute protocol uses.
type DataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	SendText(s string) error
	OnOpen(func())
	OnClose(func())
	OnMessage(func(webrtc.DataChannelMessage))
	Close() error
}

// MediaFactory creates peer connections, one per plugin channel.
type MediaFactory interface {
	// Probe reports whether peer connections can be created at all.
	Probe() error
	NewConnection(label string) (MediaConnection, error)
}

// RTPSink consumes relayed inbound packets of one feed track.
type RTPSink interface {
	WriteRTP(*rtp.Packet) error
}
