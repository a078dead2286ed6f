package app

import "errors"

var (
	ErrNotJoined      = errors.New("app: not joined")
	ErrAlreadyJoined  = errors.New("app: already joined")
	ErrNoLocalStream  = errors.New("app: no local stream")
	ErrFeedExists     = errors.New("app: feed already exists")
	ErrScreenActive   = errors.New("app: screen share already active")
	ErrScreenInactive = errors.New("app: screen share not active")
)
