package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrTransportUnsupported = errors.New("gateway: peer transport unsupported")
	ErrAttachFailed         = errors.New("gateway: attach failed")
	ErrNoSuchSession        = errors.New("gateway: no such session")
	ErrSessionTerminated    = errors.New("gateway: session terminated")
	ErrNotReady             = errors.New("gateway: session not ready")
	ErrDetached             = errors.New("gateway: handle detached")
	ErrClosed               = errors.New("gateway: connection closed")
)

// Gateway core and videoroom plugin error codes.
const (
	CodeNoSuchSession    = 458
	CodeAlreadyJoined    = 425
	CodeNoSuchRoom       = 426
	CodeRoomExists       = 427
	CodeNoSuchFeed       = 428
	CodeAlreadyPublished = 434
	CodeIDExists         = 436
)

// GatewayError is an error reported by the gateway or one of its plugins.
type GatewayError struct {
	Code    int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message)
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrNoSuchSession && e.Code == CodeNoSuchSession
}

// IsBenign reports codes that are normal outcomes of concurrent clients racing on one room.
func IsBenign(code int) bool {
	switch code {
	case CodeAlreadyJoined, CodeNoSuchRoom, CodeAlreadyPublished:
		return true
	}
	return false
}

// Code extracts the gateway code from err, or 0.
func Code(err error) int {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
