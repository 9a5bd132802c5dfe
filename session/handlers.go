package session

import (
	"context"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/security"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

// ------------- Core profile callbacks -------------

func (cp *ChargePoint) onBootNotification(ctx context.Context, request *core.BootNotificationRequest) (*core.BootNotificationConfirmation, error) {
	now := cp.now()
	cp.logAction(request.GetFeatureName()).Infof("boot confirmed for %s %s", request.ChargePointVendor, request.ChargePointModel)

	cp.metrics.Set(0, MetricVendor, request.ChargePointVendor, "", now)
	cp.metrics.Set(0, MetricModel, request.ChargePointModel, "", now)
	cp.metrics.Set(0, MetricSerial, request.ChargePointSerialNumber, "", now)
	cp.metrics.Set(0, MetricFirmwareVersion, request.FirmwareVersion, "", now)

	cp.mu.Lock()
	cp.booted = true
	cp.mu.Unlock()

	cp.notify(MetricVendor, MetricModel, MetricSerial, MetricFirmwareVersion)
	return core.NewBootNotificationConfirmation(types.NewDateTime(now), cp.settings.HeartbeatInterval, core.RegistrationStatusAccepted), nil
}

func (cp *ChargePoint) onHeartbeat(ctx context.Context, request *core.HeartbeatRequest) (*core.HeartbeatConfirmation, error) {
	now := cp.now()
	cp.logAction(request.GetFeatureName()).Debug("heartbeat handled")
	cp.metrics.Set(0, MetricHeartbeat, now, "", now)
	cp.notify(MetricHeartbeat)
	return core.NewHeartbeatConfirmation(types.NewDateTime(now)), nil
}

func (cp *ChargePoint) onStatusNotification(ctx context.Context, request *core.StatusNotificationRequest) (*core.StatusNotificationConfirmation, error) {
	now := cp.now()
	cp.logAction(request.GetFeatureName()).Infof("connector %d is %s (%s)", request.ConnectorId, request.Status, request.ErrorCode)

	cp.mu.Lock()
	c := cp.getConnector(request.ConnectorId)
	c.status = request.Status
	c.errorCode = request.ErrorCode
	cp.mu.Unlock()

	changed := []string{}
	if request.ConnectorId == 0 {
		cp.metrics.Set(0, MetricStatus, string(request.Status), "", now)
		cp.metrics.Set(0, MetricErrorCode, string(request.ErrorCode), "", now)
		changed = append(changed, MetricStatus, MetricErrorCode)
	} else {
		cp.metrics.Set(request.ConnectorId, MetricStatusConnector, string(request.Status), "", now)
		cp.metrics.Set(request.ConnectorId, MetricErrorCodeConnector, string(request.ErrorCode), "", now)
		changed = append(changed, MetricStatusConnector, MetricErrorCodeConnector)
		if request.Status == core.ChargePointStatusSuspendedEV || request.Status == core.ChargePointStatusSuspendedEVSE {
			changed = append(changed, cp.zeroFlow(request.ConnectorId, now)...)
		}
	}
	cp.notify(changed...)
	return core.NewStatusNotificationConfirmation(), nil
}

func (cp *ChargePoint) onAuthorize(ctx context.Context, request *core.AuthorizeRequest) (*core.AuthorizeConfirmation, error) {
	status := cp.settings.authorizationStatus(request.IdTag)
	cp.logAction(request.GetFeatureName()).Infof("id tag %s: %s", request.IdTag, status)
	cp.metrics.Set(0, MetricIDTag, request.IdTag, "", cp.now())
	cp.notify(MetricIDTag)
	return core.NewAuthorizationConfirmation(types.NewIdTagInfo(status)), nil
}

func (cp *ChargePoint) onStartTransaction(ctx context.Context, request *core.StartTransactionRequest) (*core.StartTransactionConfirmation, error) {
	log := cp.logAction(request.GetFeatureName())
	status := cp.settings.authorizationStatus(request.IdTag)
	if status != types.AuthorizationStatusAccepted {
		log.Warnf("transaction refused for id tag %s: %s", request.IdTag, status)
		return core.NewStartTransactionConfirmation(types.NewIdTagInfo(status), 0), nil
	}

	now := cp.now()
	tx := &Transaction{
		ID:          cp.newTransactionID(),
		ConnectorID: request.ConnectorId,
		IDTag:       request.IdTag,
		MeterStart:  request.MeterStart,
		StartedAt:   now,
	}
	if request.Timestamp != nil && !request.Timestamp.IsZero() {
		tx.StartedAt = request.Timestamp.Time
	}

	cp.mu.Lock()
	c := cp.getConnector(tx.ConnectorID)
	if c.hasTransactionInProgress() {
		log.Warnf("connector %d still had transaction %d open, replacing it", tx.ConnectorID, c.currentTransaction)
	}
	c.currentTransaction = tx.ID
	cp.activeTx = tx
	cp.mu.Unlock()

	connectorID := tx.ConnectorID
	cp.metrics.Set(connectorID, MetricIDTag, tx.IDTag, "", now)
	cp.metrics.Set(connectorID, MetricStopReason, "", "", now)
	cp.metrics.Set(connectorID, MetricTransactionID, tx.ID, "", now)
	cp.metrics.Set(connectorID, MetricMeterStart, float64(tx.MeterStart)/1000, UnitKWh, now)

	if cp.store != nil {
		if err := cp.store.SaveTransaction(ctx, cp.id, tx.record()); err != nil {
			log.WithError(err).Warn("failed to persist transaction")
		}
	}
	log.Infof("started transaction %d on connector %d", tx.ID, connectorID)
	cp.notify(MetricIDTag, MetricStopReason, MetricTransactionID, MetricMeterStart)
	return core.NewStartTransactionConfirmation(types.NewIdTagInfo(types.AuthorizationStatusAccepted), tx.ID), nil
}

func (cp *ChargePoint) onStopTransaction(ctx context.Context, request *core.StopTransactionRequest) (*core.StopTransactionConfirmation, error) {
	log := cp.logAction(request.GetFeatureName())
	now := cp.now()
	confirmation := core.NewStopTransactionConfirmation()
	confirmation.IdTagInfo = types.NewIdTagInfo(types.AuthorizationStatusAccepted)

	cp.mu.Lock()
	tx := cp.activeTx
	if tx == nil || tx.ID != request.TransactionId {
		cp.mu.Unlock()
		log.Errorf("stop transaction received for unknown transaction id %d", request.TransactionId)
		return confirmation, nil
	}
	cp.activeTx = nil
	cp.getConnector(tx.ConnectorID).currentTransaction = -1
	cp.mu.Unlock()

	connectorID := tx.ConnectorID
	cp.metrics.Set(connectorID, MetricStopReason, string(request.Reason), "", now)
	sessionEnergy := float64(request.MeterStop)/1000 - float64(tx.MeterStart)/1000
	cp.metrics.Update(connectorID, MetricSessionEnergy, func(m *Metric) {
		m.Value = sessionEnergy
		m.Unit = UnitKWh
		m.Timestamp = now
		m.Attributes["id_tag"] = tx.IDTag
	})
	changed := append([]string{MetricStopReason, MetricSessionEnergy}, cp.zeroFlow(connectorID, now)...)

	if cp.store != nil {
		if err := cp.store.DeleteTransaction(ctx, cp.id, connectorID); err != nil {
			log.WithError(err).Warn("failed to forget transaction")
		}
	}
	log.Infof("stopped transaction %d on connector %d: %s", tx.ID, connectorID, request.Reason)
	cp.notify(changed...)
	return confirmation, nil
}

func (cp *ChargePoint) onDataTransfer(ctx context.Context, request *core.DataTransferRequest) (*core.DataTransferConfirmation, error) {
	now := cp.now()
	cp.logAction(request.GetFeatureName()).Debugf("received data from vendor %s", request.VendorId)
	cp.metrics.Update(0, MetricDataTransfer, func(m *Metric) {
		m.Value = now
		m.Timestamp = now
		m.Attributes = map[string]interface{}{
			request.VendorId: map[string]interface{}{
				"messageId": request.MessageId,
				"data":      request.Data,
			},
		}
	})
	cp.notify(MetricDataTransfer)
	return core.NewDataTransferConfirmation(core.DataTransferStatusAccepted), nil
}

// ------------- Firmware management profile callbacks -------------

func (cp *ChargePoint) onFirmwareStatusNotification(ctx context.Context, request *firmware.FirmwareStatusNotificationRequest) (*firmware.FirmwareStatusNotificationConfirmation, error) {
	cp.logAction(request.GetFeatureName()).Infof("updated firmware status to %v", request.Status)
	cp.metrics.Set(0, MetricFirmwareStatus, string(request.Status), "", cp.now())
	cp.notify(MetricFirmwareStatus)
	return &firmware.FirmwareStatusNotificationConfirmation{}, nil
}

func (cp *ChargePoint) onDiagnosticsStatusNotification(ctx context.Context, request *firmware.DiagnosticsStatusNotificationRequest) (*firmware.DiagnosticsStatusNotificationConfirmation, error) {
	cp.logAction(request.GetFeatureName()).Infof("updated diagnostics status to %v", request.Status)
	cp.metrics.Set(0, MetricDiagnosticsStatus, string(request.Status), "", cp.now())
	cp.notify(MetricDiagnosticsStatus)
	return firmware.NewDiagnosticsStatusNotificationConfirmation(), nil
}

// ------------- Security callbacks -------------

func (cp *ChargePoint) onSecurityEventNotification(ctx context.Context, request *security.SecurityEventNotificationRequest) (*security.SecurityEventNotificationResponse, error) {
	at := cp.now()
	if request.Timestamp != nil && !request.Timestamp.IsZero() {
		at = request.Timestamp.Time
	}
	cp.logAction(request.GetFeatureName()).Warnf("security event %s at %v: %s", request.Type, at, request.TechInfo)
	cp.metrics.Update(0, MetricSecurityEvent, func(m *Metric) {
		m.Value = request.Type
		m.Timestamp = at
		m.Attributes = map[string]interface{}{"techInfo": request.TechInfo}
	})
	cp.notify(MetricSecurityEvent)
	return security.NewSecurityEventNotificationResponse(), nil
}

// zeroFlow zeroes the current and power measurands recorded for connectorID.
func (cp *ChargePoint) zeroFlow(connectorID int, now time.Time) []string {
	var changed []string
	for _, measurand := range flowMeasurands {
		if cp.metrics.Zero(connectorID, measurand, now) {
			changed = append(changed, measurand)
		}
	}
	return changed
}
