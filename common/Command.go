// Package common holds the DTOs exchanged with the host over NATS.
package common

// Command is a host request addressed to one charge point.
type Command struct {
	Action        string      `json:"action" validate:"required"`
	ChargePointId string      `json:"chargePointId" validate:"required"`
	Payload       interface{} `json:"payload"`
}

type Response struct {
	Payload interface{} `json:"payload,omitempty"`
	Err     *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// MetricEvent is published every time a measurand of a charge point changes.
type MetricEvent struct {
	ChargePointId string                 `json:"chargePointId"`
	Measurand     string                 `json:"measurand"`
	Value         interface{}            `json:"value"`
	Unit          string                 `json:"unit,omitempty"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
	Timestamp     string                 `json:"timestamp,omitempty"`
}
