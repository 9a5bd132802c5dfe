// Package actions exposes typed commands that drive a charge point session,
// plus the NATS adapters the host uses to invoke them.
package actions

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"ha_ocpp/session"
)

var (
	ErrNoSuchSession       = errors.New("no connected charge point")
	ErrChargerFaulted      = errors.New("charge point is faulted")
	ErrFeatureNotSupported = errors.New("feature not supported by charge point")
)

// Sessions resolves identities to live sessions. *centralsystem.Registry implements it.
type Sessions interface {
	Get(identity string) (*session.ChargePoint, bool)
}

// Facade runs commands against sessions. Every command answers false when the
// charger refuses it and an error when it could not be carried out at all.
type Facade struct {
	sessions Sessions
	log      logrus.FieldLogger
}

func New(sessions Sessions, logger logrus.FieldLogger) *Facade {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Facade{sessions: sessions, log: logger}
}

func (f *Facade) logDefault(chargePointID string, feature string) logrus.FieldLogger {
	return f.log.WithFields(logrus.Fields{"client": chargePointID, "message": feature})
}

// session returns the connected, non faulted session of chargePointID.
func (f *Facade) session(chargePointID string) (*session.ChargePoint, error) {
	cp, ok := f.sessions.Get(chargePointID)
	if !ok || !cp.Connected() {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchSession, chargePointID)
	}
	if cp.Status() == session.StatusFaulted {
		return nil, fmt.Errorf("%w: %s", ErrChargerFaulted, chargePointID)
	}
	return cp, nil
}

// sessionWith is session plus a check that the charger advertised profile.
func (f *Facade) sessionWith(chargePointID string, profile session.Profiles) (*session.ChargePoint, error) {
	cp, err := f.session(chargePointID)
	if err != nil {
		return nil, err
	}
	if !cp.SupportedFeatures().Has(profile) {
		return nil, fmt.Errorf("%w: %s does not support %s", ErrFeatureNotSupported, chargePointID, profile)
	}
	return cp, nil
}
