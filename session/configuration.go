package session

import (
	"context"
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
)

// Configuration keys of OCPP 1.6 the session reads or writes.
const (
	KeySupportedFeatureProfiles                = "SupportedFeatureProfiles"
	KeyNumberOfConnectors                      = "NumberOfConnectors"
	KeyHeartbeatInterval                       = "HeartbeatInterval"
	KeyMeterValuesSampledData                  = "MeterValuesSampledData"
	KeyMeterValueSampleInterval                = "MeterValueSampleInterval"
	KeyClockAlignedDataInterval                = "ClockAlignedDataInterval"
	KeyChargingScheduleAllowedChargingRateUnit = "ChargingScheduleAllowedChargingRateUnit"
	KeyChargeProfileMaxStackLevel              = "ChargeProfileMaxStackLevel"
)

// GetConfiguration reads a single configuration key. A key the charger does
// not know yields ErrUnknownKey.
func (cp *ChargePoint) GetConfiguration(ctx context.Context, key string) (string, error) {
	conf, err := Invoke[*core.GetConfigurationConfirmation](ctx, cp, &core.GetConfigurationRequest{Key: []string{key}})
	if err != nil {
		return "", err
	}
	for _, ck := range conf.ConfigurationKey {
		if ck.Key != key {
			continue
		}
		value := ""
		if ck.Value != nil {
			value = *ck.Value
		}
		now := cp.now()
		cp.metrics.Update(0, MetricConfigResponse, func(m *Metric) {
			m.Value = now
			m.Timestamp = now
			m.Attributes = map[string]interface{}{key: value}
		})
		cp.notify(MetricConfigResponse)
		return value, nil
	}
	cp.logAction(core.GetConfigurationFeatureName).Warnf("charger reports %s as unknown", key)
	return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
}

// Configure sets key to value. The key is read first and left alone when it
// already holds value.
func (cp *ChargePoint) Configure(ctx context.Context, key, value string) (core.ConfigurationStatus, error) {
	log := cp.logAction(core.ChangeConfigurationFeatureName)
	conf, err := Invoke[*core.GetConfigurationConfirmation](ctx, cp, &core.GetConfigurationRequest{Key: []string{key}})
	if err != nil {
		return "", err
	}
	for _, unknown := range conf.UnknownKey {
		if unknown == key {
			log.Warnf("%s is unknown (not supported)", key)
			return core.ConfigurationStatusNotSupported, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
	}
	for _, ck := range conf.ConfigurationKey {
		if ck.Key != key {
			continue
		}
		if ck.Value != nil && *ck.Value == value {
			return core.ConfigurationStatusAccepted, nil
		}
		if ck.Readonly {
			log.Warnf("%s is a read only setting", key)
		}
	}
	return cp.ChangeConfiguration(ctx, key, value)
}

// ChangeConfiguration writes key unconditionally and returns the charger's verdict.
func (cp *ChargePoint) ChangeConfiguration(ctx context.Context, key, value string) (core.ConfigurationStatus, error) {
	log := cp.logAction(core.ChangeConfigurationFeatureName)
	conf, err := Invoke[*core.ChangeConfigurationConfirmation](ctx, cp, &core.ChangeConfigurationRequest{Key: key, Value: value})
	if err != nil {
		return "", err
	}
	switch conf.Status {
	case core.ConfigurationStatusRejected, core.ConfigurationStatusNotSupported:
		log.Warnf("%s while setting %s to %s", conf.Status, key, value)
	case core.ConfigurationStatusRebootRequired:
		cp.mu.Lock()
		cp.requiresReboot = true
		cp.mu.Unlock()
		log.Infof("a reboot is required to apply %s=%s", key, value)
	}
	return conf.Status, nil
}

// TriggerMessage asks the charger to send message. A nil connectorID targets
// the charge point as a whole.
func (cp *ChargePoint) TriggerMessage(ctx context.Context, message remotetrigger.MessageTrigger, connectorID *int) (bool, error) {
	conf, err := Invoke[*remotetrigger.TriggerMessageConfirmation](ctx, cp, &remotetrigger.TriggerMessageRequest{
		RequestedMessage: message,
		ConnectorId:      connectorID,
	})
	if err != nil {
		return false, err
	}
	if conf.Status != remotetrigger.TriggerMessageStatusAccepted {
		cp.logAction(remotetrigger.TriggerMessageFeatureName).Warnf("trigger of %s answered with %s", message, conf.Status)
		return false, nil
	}
	return true, nil
}

// DataTransfer sends a vendor specific message. An accepted answer is kept
// under Data.Response, keyed by messageID.
func (cp *ChargePoint) DataTransfer(ctx context.Context, vendorID, messageID string, data interface{}) (bool, error) {
	log := cp.logAction(core.DataTransferFeatureName)
	request := core.NewDataTransferRequest(vendorID)
	request.MessageId = messageID
	request.Data = data
	conf, err := Invoke[*core.DataTransferConfirmation](ctx, cp, request)
	if err != nil {
		return false, err
	}
	if conf.Status != core.DataTransferStatusAccepted {
		log.Warnf("data transfer answered with %s", conf.Status)
		return false, nil
	}
	log.Infof("data transfer [vendorId(%s), messageId(%s)] response: %v", vendorID, messageID, conf.Data)
	now := cp.now()
	cp.metrics.Update(0, MetricDataResponse, func(m *Metric) {
		m.Value = now
		m.Timestamp = now
		m.Attributes = map[string]interface{}{messageID: conf.Data}
	})
	cp.notify(MetricDataResponse)
	return true, nil
}
