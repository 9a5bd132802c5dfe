package session

import (
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

// Settings are the per-charger knobs a session runs with. They are copied at
// construction and never change afterwards.
type Settings struct {
	CallTimeout     time.Duration
	MaxPendingCalls int

	// HeartbeatInterval is offered to the charger in the BootNotification answer, in seconds.
	HeartbeatInterval int
	// MeterInterval and IdleInterval are written to MeterValueSampleInterval and
	// ClockAlignedDataInterval during discovery, in seconds.
	MeterInterval int
	IdleInterval  int

	MonitoredVariables           []string
	MonitoredVariablesAutoconfig bool
	ForceSmartCharging           bool

	RemoteIDTag       string
	DefaultAuthStatus types.AuthorizationStatus
	AuthList          map[string]types.AuthorizationStatus
}

func DefaultSettings() Settings {
	return Settings{
		CallTimeout:                  60 * time.Second,
		MaxPendingCalls:              16,
		HeartbeatInterval:            3600,
		MeterInterval:                60,
		IdleInterval:                 900,
		MonitoredVariables:           append([]string(nil), Measurands...),
		MonitoredVariablesAutoconfig: true,
		DefaultAuthStatus:            types.AuthorizationStatusAccepted,
		AuthList:                     map[string]types.AuthorizationStatus{},
	}
}

// authorizationStatus resolves an id tag against the auth list. The remote id
// tag used for RemoteStartTransaction is always accepted.
func (s Settings) authorizationStatus(idTag string) types.AuthorizationStatus {
	if s.RemoteIDTag != "" && idTag == s.RemoteIDTag {
		return types.AuthorizationStatusAccepted
	}
	if status, ok := s.AuthList[idTag]; ok {
		return status
	}
	if s.DefaultAuthStatus == "" {
		return types.AuthorizationStatusAccepted
	}
	return s.DefaultAuthStatus
}
