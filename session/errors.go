package session

import (
	"errors"
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp"
)

var (
	ErrCallTimeout    = errors.New("call timed out")
	ErrSessionClosed  = errors.New("session closed")
	ErrConnectionLost = errors.New("connection lost")
	ErrNotConnected   = errors.New("charge point not connected")
	ErrUnknownKey     = errors.New("unknown configuration key")
)

// CallError is a CallError frame sent by the charge point in answer to one of our calls.
type CallError struct {
	Action      string
	Code        ocpp.ErrorCode
	Description string
	Details     interface{}
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s rejected by charge point: %s %s", e.Action, e.Code, e.Description)
}
