package app

import (
	"context"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/gateway"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// NewScreenPublisher returns a publisher for a screen share. It joins the room
// as its own participant and ignores room membership events.
func NewScreenPublisher(deps Deps) *Publisher {
	p := &Publisher{kind: domain.FeedScreen, deps: deps}
	p.listener = &screenListener{p: p}
	return p
}

type screenListener struct {
	p *Publisher
}

func (l *screenListener) OnMessage(ev *gateway.RoomEvent, jsep *webrtc.SessionDescription) {
	if ev.VideoRoom == "joined" {
		l.p.onJoined(ev)
	}
	if jsep != nil && jsep.Type == webrtc.SDPTypeAnswer {
		l.p.onAnswer(jsep)
	}
}

func (l *screenListener) OnTrackAdded(context.Context, core.RemoteTrack) {}

func (l *screenListener) OnStateChange(s ChannelState) {
	log.Debug().Str("module", "app.screen").Str("state", s.String()).Msg("screen channel state")
	l.p.notifyState(s)
}

func (l *screenListener) OnError(err error) { l.p.onError(err) }
