package app

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	CloseSubscriber
)

// Policy decides what happens to an event subscriber whose buffer is full.
type Policy interface {
	OnBackPressure(sub *Subscription, ev Event) BackpressureAction
}

// SimplePolicy drops lossy events and closes subscribers that miss state changes.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ *Subscription, ev Event) BackpressureAction {
	switch ev.Kind {
	case EventCue, EventMute:
		return DropEvent
	}
	return CloseSubscriber
}
