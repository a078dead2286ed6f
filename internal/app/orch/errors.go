package orch

import "errors"

var (
	ErrNothingToResume = errors.New("orch: no saved session to resume")
	ErrUnknownKind     = errors.New("orch: unknown track kind")
)
