package actions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"ha_ocpp/common"
	"ha_ocpp/session"
)

// Function handles one host command for a charge point and sends exactly one
// response on the channel.
type Function func(string, []byte, chan common.Response)

var validate = validator.New()

// decodePayload fills v from payload and validates it. An empty payload
// leaves v at its defaults.
func decodePayload(payload []byte, v interface{}, code string) *common.Error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, v); err != nil {
			return &common.Error{
				Code:    code,
				Message: fmt.Sprintf("payload is not valid json: %v", err),
			}
		}
	}
	if err := validate.Struct(v); err != nil {
		return &common.Error{
			Code:    code,
			Message: fmt.Sprintf("payload is not valid: %v", err),
		}
	}
	return nil
}

// commandError maps a facade error onto the error codes the host understands.
func commandError(err error) *common.Error {
	var callErr *session.CallError
	code := "command.message.not.send"
	switch {
	case errors.Is(err, ErrNoSuchSession):
		code = "command.charge.point.not.found"
	case errors.Is(err, ErrChargerFaulted):
		code = "command.charge.point.faulted"
	case errors.Is(err, ErrFeatureNotSupported):
		code = "command.feature.not.supported"
	case errors.Is(err, session.ErrCallTimeout):
		code = "command.timeout"
	case errors.Is(err, session.ErrUnknownKey):
		code = "command.configuration.key.unknown"
	case errors.As(err, &callErr):
		code = "command.call.error"
	}
	return &common.Error{Code: code, Message: err.Error()}
}

func reply(responseChannel chan common.Response, payload interface{}, err error) {
	if err != nil {
		responseChannel <- common.Response{Err: commandError(err)}
		return
	}
	responseChannel <- common.Response{Payload: payload}
}

func accepted(ok bool) map[string]interface{} {
	return map[string]interface{}{"accepted": ok}
}
