// Package codec converts OCPP 1.6-J frames to and from typed ocpp-go payloads.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/localauth"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/reservation"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/security"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/smartcharging"
	"github.com/lorenzodonini/ocpp-go/ocppj"
	"gopkg.in/go-playground/validator.v9"
)

// DefaultProfiles lists every OCPP 1.6 feature profile whose payload shapes the codec knows.
func DefaultProfiles() []*ocpp.Profile {
	return []*ocpp.Profile{
		core.Profile,
		firmware.Profile,
		smartcharging.Profile,
		remotetrigger.Profile,
		reservation.Profile,
		localauth.Profile,
		security.Profile,
	}
}

// Codec is stateless after construction and safe for concurrent use.
type Codec struct {
	endpoint *ocppj.Endpoint
	validate bool
}

// New builds a codec over the given profiles (DefaultProfiles when none are given).
// When validate is true, payloads are checked against the ocpp-go struct tags in
// both directions.
func New(validate bool, profiles ...*ocpp.Profile) *Codec {
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	endpoint := &ocppj.Endpoint{}
	endpoint.SetDialect(ocpp.V16)
	for _, profile := range profiles {
		endpoint.AddProfile(profile)
	}
	return &Codec{endpoint: endpoint, validate: validate}
}

// Supports reports whether action has a registered payload shape.
func (c *Codec) Supports(action string) bool {
	_, ok := c.endpoint.GetProfileForFeature(action)
	return ok
}

func (c *Codec) EncodeCall(uniqueID string, request ocpp.Request) ([]byte, error) {
	if request == nil {
		return nil, errors.New("request is required")
	}
	action := request.GetFeatureName()
	if !c.Supports(action) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	if err := c.check(request); err != nil {
		return nil, err
	}
	call := &ocppj.Call{
		MessageTypeId: ocppj.CALL,
		UniqueId:      uniqueID,
		Action:        action,
		Payload:       request,
	}
	return call.MarshalJSON()
}

func (c *Codec) EncodeResult(uniqueID string, response ocpp.Response) ([]byte, error) {
	if response == nil {
		return nil, errors.New("response is required")
	}
	if err := c.check(response); err != nil {
		return nil, err
	}
	result := &ocppj.CallResult{
		MessageTypeId: ocppj.CALL_RESULT,
		UniqueId:      uniqueID,
		Payload:       response,
	}
	return result.MarshalJSON()
}

// EncodeError builds a CallError frame. A nil details value is sent as an empty object.
func (c *Codec) EncodeError(uniqueID string, code ocpp.ErrorCode, description string, details interface{}) ([]byte, error) {
	callError := &ocppj.CallError{
		MessageTypeId:    ocppj.CALL_ERROR,
		UniqueId:         uniqueID,
		ErrorCode:        code,
		ErrorDescription: description,
		ErrorDetails:     details,
	}
	return callError.MarshalJSON()
}

// Decode parses the frame envelope. When the unique id could be read, the returned
// frame is non-nil even if err is set, so the caller can still answer with a CallError.
func (c *Codec) Decode(data []byte) (*Frame, error) {
	fields, err := ocppj.ParseRawJsonMessage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(fields) < 3 {
		return nil, fmt.Errorf("%w: expected at least 3 elements, got %d", ErrMalformedFrame, len(fields))
	}
	typ, ok := fields[0].(float64)
	if !ok || typ != float64(int(typ)) {
		return nil, fmt.Errorf("%w: invalid message type %v", ErrMalformedFrame, fields[0])
	}
	uniqueID, ok := fields[1].(string)
	if !ok || uniqueID == "" {
		return nil, fmt.Errorf("%w: invalid unique id %v", ErrMalformedFrame, fields[1])
	}

	frame := &Frame{Type: MessageType(typ), UniqueID: uniqueID}
	switch frame.Type {
	case CALL:
		if len(fields) != 4 {
			return frame, fmt.Errorf("%w: call expects 4 elements, got %d", ErrMalformedFrame, len(fields))
		}
		if frame.Action, ok = fields[2].(string); !ok || frame.Action == "" {
			return frame, fmt.Errorf("%w: invalid action %v", ErrMalformedFrame, fields[2])
		}
		frame.Payload = fields[3]
		if !c.Supports(frame.Action) {
			return frame, fmt.Errorf("%w: %s", ErrUnknownAction, frame.Action)
		}
	case CALL_RESULT:
		if len(fields) != 3 {
			return frame, fmt.Errorf("%w: call result expects 3 elements, got %d", ErrMalformedFrame, len(fields))
		}
		frame.Payload = fields[2]
	case CALL_ERROR:
		if len(fields) < 4 || len(fields) > 5 {
			return frame, fmt.Errorf("%w: call error expects 5 elements, got %d", ErrMalformedFrame, len(fields))
		}
		code, ok := fields[2].(string)
		if !ok {
			return frame, fmt.Errorf("%w: invalid error code %v", ErrMalformedFrame, fields[2])
		}
		frame.ErrorCode = ocpp.ErrorCode(code)
		if frame.ErrorDescription, ok = fields[3].(string); !ok {
			return frame, fmt.Errorf("%w: invalid error description %v", ErrMalformedFrame, fields[3])
		}
		if len(fields) == 5 {
			frame.ErrorDetails = fields[4]
		}
	default:
		return frame, fmt.Errorf("%w: unsupported message type %v", ErrMalformedFrame, fields[0])
	}
	return frame, nil
}

// DecodeRequest turns the payload of an inbound Call into its typed request.
// raw is either the generic value of Frame.Payload or a json.RawMessage.
// Payload problems are reported as *ocpp.Error carrying the matching OCPP error code.
func (c *Codec) DecodeRequest(action string, raw interface{}) (ocpp.Request, error) {
	profile, ok := c.endpoint.GetProfileForFeature(action)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return profile.ParseRequest(action, raw, func(raw interface{}, t reflect.Type) (ocpp.Request, error) {
		v, err := c.decodeInto(t, raw)
		if err != nil {
			return nil, err
		}
		request, ok := v.(ocpp.Request)
		if !ok {
			return nil, ocpp.NewError(InternalError, fmt.Sprintf("%s is not a request type", action), "")
		}
		return request, nil
	})
}

// DecodeResponse turns the payload of a CallResult into the response type of action.
func (c *Codec) DecodeResponse(action string, raw interface{}) (ocpp.Response, error) {
	profile, ok := c.endpoint.GetProfileForFeature(action)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return profile.ParseResponse(action, raw, func(raw interface{}, t reflect.Type) (ocpp.Response, error) {
		v, err := c.decodeInto(t, raw)
		if err != nil {
			return nil, err
		}
		response, ok := v.(ocpp.Response)
		if !ok {
			return nil, ocpp.NewError(InternalError, fmt.Sprintf("%s is not a response type", action), "")
		}
		return response, nil
	})
}

func (c *Codec) decodeInto(t reflect.Type, raw interface{}) (interface{}, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	data, err := rawBytes(raw)
	if err != nil {
		return nil, ocpp.NewError(FormationViolation, err.Error(), "")
	}
	v := reflect.New(t).Interface()
	if err := json.Unmarshal(data, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, ocpp.NewError(TypeConstraintViolation, err.Error(), "")
		}
		return nil, ocpp.NewError(FormationViolation, err.Error(), "")
	}
	if err := c.check(v); err != nil {
		return nil, err
	}
	return v, nil
}

// rawBytes returns the JSON text of a payload element. A missing or null
// payload reads as an empty object.
func rawBytes(raw interface{}) ([]byte, error) {
	var data []byte
	switch v := raw.(type) {
	case nil:
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil, err
		}
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []byte("{}"), nil
	}
	return data, nil
}

// check validates v with the ocpp-go validator and maps the first violation to
// its OCPP error code.
func (c *Codec) check(v interface{}) error {
	if !c.validate {
		return nil
	}
	err := ocppj.Validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return ocpp.NewError(FormationViolation, err.Error(), "")
	}
	for _, fe := range fieldErrors {
		if emptySample(fe) {
			continue
		}
		description := fmt.Sprintf("field %s violated %s", fe.Namespace(), fe.ActualTag())
		switch fe.ActualTag() {
		case "required", "required_with", "required_without":
			return ocpp.NewError(OccurenceConstraintViolation, description, "")
		case "min", "max", "len", "gt", "gte", "lt", "lte":
			return ocpp.NewError(PropertyConstraintViolation, description, "")
		default:
			return ocpp.NewError(TypeConstraintViolation, description, "")
		}
	}
	return nil
}

// emptySample matches an empty sampled value, which chargers send for
// readings they cannot take and which is read as 0.
func emptySample(fe validator.FieldError) bool {
	return fe.ActualTag() == "required" &&
		fe.StructField() == "Value" &&
		strings.Contains(fe.StructNamespace(), ".SampledValue[")
}
