package codec

import (
	"errors"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocppj"
)

// MessageType is the first element of every OCPP-J frame.
type MessageType int

const (
	CALL        = MessageType(ocppj.CALL)
	CALL_RESULT = MessageType(ocppj.CALL_RESULT)
	CALL_ERROR  = MessageType(ocppj.CALL_ERROR)
)

func (t MessageType) String() string {
	switch t {
	case CALL:
		return "Call"
	case CALL_RESULT:
		return "CallResult"
	case CALL_ERROR:
		return "CallError"
	}
	return "Unknown"
}

// OCPP 1.6-J error codes. OccurenceConstraintViolation keeps the misspelling of the 1.6 specification.
const (
	NotImplemented               = ocppj.NotImplemented
	NotSupported                 = ocppj.NotSupported
	InternalError                = ocppj.InternalError
	ProtocolError                = ocppj.ProtocolError
	SecurityError                = ocppj.SecurityError
	FormationViolation           = ocppj.FormatViolationV16
	PropertyConstraintViolation  = ocppj.PropertyConstraintViolation
	TypeConstraintViolation      = ocppj.TypeConstraintViolation
	GenericError                 = ocppj.GenericError
	OccurenceConstraintViolation ocpp.ErrorCode = "OccurenceConstraintViolation"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownAction  = errors.New("unknown action")
)

// Frame is a decoded OCPP-J message. Which fields are set depends on Type:
// Call carries Action and Payload, CallResult carries Payload, and CallError
// carries ErrorCode, ErrorDescription and ErrorDetails. Payload and
// ErrorDetails hold the generic JSON value of the element.
type Frame struct {
	Type             MessageType
	UniqueID         string
	Action           string
	Payload          interface{}
	ErrorCode        ocpp.ErrorCode
	ErrorDescription string
	ErrorDetails     interface{}
}
