package app

import (
	"context"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/gateway"
	"github.com/pion/webrtc/v4"
)

type ChannelState int

const (
	ChannelWebRTCUp ChannelState = iota
	ChannelHangup
	ChannelDetached
	ChannelICEConnected
	ChannelICEDisconnected
	ChannelICEFailed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelWebRTCUp:
		return "webrtcup"
	case ChannelHangup:
		return "hangup"
	case ChannelDetached:
		return "detached"
	case ChannelICEConnected:
		return "ice-connected"
	case ChannelICEDisconnected:
		return "ice-disconnected"
	case ChannelICEFailed:
		return "ice-failed"
	}
	return "unknown"
}

// Listener receives the events of one channel. Gateway events arrive on the
// session read goroutine in transport order, so implementations must not wait
// on gateway replies inline.
type Listener interface {
	OnMessage(ev *gateway.RoomEvent, jsep *webrtc.SessionDescription)
	OnTrackAdded(ctx context.Context, track core.RemoteTrack)
	OnStateChange(state ChannelState)
	OnError(err error)
}

// dataChannelListener is implemented by listeners that consume remote data channels.
type dataChannelListener interface {
	OnDataChannel(dc core.DataChannel)
}
