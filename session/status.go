package session

// Status is the availability of a charge point as seen by the host.
type Status string

const (
	StatusAvailable   Status = "Available"
	StatusUnavailable Status = "Unavailable"
	StatusFaulted     Status = "Faulted"
)
