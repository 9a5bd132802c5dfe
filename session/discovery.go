package session

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"github.com/sirupsen/logrus"
)

// startDiscovery runs discover in its own goroutine, so that the receive loop
// stays free to deliver the answers discovery waits for.
func (cp *ChargePoint) startDiscovery(ctx context.Context) {
	discoveryCtx, cancel := context.WithCancel(ctx)
	cp.mu.Lock()
	if cp.cancelDiscovery != nil {
		cp.cancelDiscovery()
	}
	cp.cancelDiscovery = cancel
	cp.mu.Unlock()

	go func() {
		defer cancel()
		if err := cp.discover(discoveryCtx); err != nil {
			cp.log.WithError(err).Warn("capability discovery aborted")
		}
	}()
}

// discover learns what the charger supports and configures its metering.
// Failing steps are logged and skipped; losing the connection ends it.
func (cp *ChargePoint) discover(ctx context.Context) error {
	log := cp.log.WithField("message", "discovery")

	value, err := cp.GetConfiguration(ctx, KeySupportedFeatureProfiles)
	if aborted(ctx, err) {
		return err
	}
	if err != nil {
		log.WithError(err).Warn("could not read supported feature profiles")
	}
	features, unknown := ParseProfiles(value)
	for _, name := range unknown {
		log.Warnf("ignoring unknown feature profile %s", name)
	}
	if features == 0 {
		log.Warn("no feature profiles reported, assuming Core")
		features = ProfileCore
	}
	if cp.settings.ForceSmartCharging {
		features |= ProfileSmartCharging
	}
	cp.setFeatures(features)

	value, err = cp.GetConfiguration(ctx, KeyNumberOfConnectors)
	if aborted(ctx, err) {
		return err
	}
	if n, convErr := strconv.Atoi(strings.TrimSpace(value)); err == nil && convErr == nil {
		cp.metrics.Set(0, MetricConnectors, n, "", cp.now())
		cp.notify(MetricConnectors)
	}

	if _, err := cp.GetConfiguration(ctx, KeyHeartbeatInterval); aborted(ctx, err) {
		return err
	}

	if _, err := cp.configureMeasurands(ctx, log); aborted(ctx, err) {
		return err
	}
	if _, err := cp.Configure(ctx, KeyMeterValueSampleInterval, strconv.Itoa(cp.settings.MeterInterval)); aborted(ctx, err) {
		return err
	}
	if _, err := cp.Configure(ctx, KeyClockAlignedDataInterval, strconv.Itoa(cp.settings.IdleInterval)); aborted(ctx, err) {
		return err
	}

	if features.Has(ProfileRemoteTrigger) {
		cp.TriggerStatusNotifications(ctx)
	}
	log.Infof("discovery complete, features %s", features)
	return nil
}

// aborted tells whether err means the connection or the session went away.
func aborted(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return ctx.Err() != nil ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrNotConnected)
}

func (cp *ChargePoint) setFeatures(features Profiles) {
	cp.mu.Lock()
	cp.features = features
	cp.mu.Unlock()
	cp.metrics.Set(0, MetricFeatures, features.String(), "", cp.now())
	cp.notify(MetricFeatures)
}

// configureMeasurands selects the measurands the charger samples. With
// autoconfig each monitored measurand is offered alone and the accepted ones
// are written back as the final list; otherwise the configured list is set
// as is. When nothing is accepted the charger's own list is kept.
func (cp *ChargePoint) configureMeasurands(ctx context.Context, log logrus.FieldLogger) ([]string, error) {
	wanted := cp.settings.MonitoredVariables
	if len(wanted) == 0 {
		wanted = Measurands
	}
	applied := func(status core.ConfigurationStatus) bool {
		return status == core.ConfigurationStatusAccepted || status == core.ConfigurationStatusRebootRequired
	}

	var accepted []string
	if cp.settings.MonitoredVariablesAutoconfig {
		for _, measurand := range wanted {
			status, err := cp.ChangeConfiguration(ctx, KeyMeterValuesSampledData, measurand)
			if aborted(ctx, err) {
				return nil, err
			}
			if err == nil && applied(status) {
				accepted = append(accepted, measurand)
			}
		}
		if len(accepted) > 0 {
			if _, err := cp.ChangeConfiguration(ctx, KeyMeterValuesSampledData, strings.Join(accepted, ",")); aborted(ctx, err) {
				return nil, err
			}
		}
	} else {
		status, err := cp.ChangeConfiguration(ctx, KeyMeterValuesSampledData, strings.Join(wanted, ","))
		if aborted(ctx, err) {
			return nil, err
		}
		if err == nil && applied(status) {
			accepted = append(accepted, wanted...)
		}
	}

	if len(accepted) == 0 {
		value, err := cp.GetConfiguration(ctx, KeyMeterValuesSampledData)
		if aborted(ctx, err) {
			return nil, err
		}
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				accepted = append(accepted, item)
			}
		}
	}

	cp.mu.Lock()
	cp.measurands = accepted
	cp.mu.Unlock()
	log.Infof("charger samples %s", strings.Join(accepted, ","))
	return accepted, nil
}

// SampledMeasurands lists the measurands discovery settled on.
func (cp *ChargePoint) SampledMeasurands() []string {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return append([]string(nil), cp.measurands...)
}

// TriggerStatusNotifications asks for a StatusNotification of the charge
// point and of every connector. When the charger refuses a connector, the
// connector count is corrected to what it accepted.
func (cp *ChargePoint) TriggerStatusNotifications(ctx context.Context) bool {
	log := cp.logAction(remotetrigger.TriggerMessageFeatureName)
	connectors := 1
	if m, ok := cp.metrics.Get(0, MetricConnectors); ok {
		if n, ok := m.Value.(int); ok && n > 0 {
			connectors = n
		}
	}
	for id := 0; id <= connectors; id++ {
		var connectorID *int
		if id > 0 {
			connectorID = &id
		}
		ok, err := cp.TriggerMessage(ctx, remotetrigger.MessageTrigger(core.StatusNotificationFeatureName), connectorID)
		if aborted(ctx, err) {
			return false
		}
		if err != nil || !ok {
			forced := max(1, id-1)
			log.Warnf("forcing number of connectors to %d, charger reported %d", forced, connectors)
			cp.metrics.Set(0, MetricConnectors, forced, "", cp.now())
			cp.notify(MetricConnectors)
			return id > 1
		}
	}
	return true
}
