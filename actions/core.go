package actions

import (
	"context"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	"ha_ocpp/common"
	"ha_ocpp/session"
)

// Reset restarts the charger, hard unless hard is false. The reconnect
// counter starts over.
func (f *Facade) Reset(ctx context.Context, chargePointID string, hard bool) (bool, error) {
	cp, err := f.session(chargePointID)
	if err != nil {
		return false, err
	}
	resetType := core.ResetTypeHard
	if !hard {
		resetType = core.ResetTypeSoft
	}
	confirmation, err := session.Invoke[*core.ResetConfirmation](ctx, cp, core.NewResetRequest(resetType))
	if err != nil {
		return false, err
	}
	if confirmation.Status != core.ResetStatusAccepted {
		f.logDefault(chargePointID, core.ResetFeatureName).Warnf("%v reset answered with %v", resetType, confirmation.Status)
		return false, nil
	}
	// the reconnect that follows is deliberate
	cp.ResetReconnects()
	return true, nil
}

func (f *Facade) UnlockConnector(ctx context.Context, chargePointID string, connectorID int) (bool, error) {
	cp, err := f.session(chargePointID)
	if err != nil {
		return false, err
	}
	confirmation, err := session.Invoke[*core.UnlockConnectorConfirmation](ctx, cp, core.NewUnlockConnectorRequest(connectorID))
	if err != nil {
		return false, err
	}
	if confirmation.Status != core.UnlockStatusUnlocked {
		f.logDefault(chargePointID, core.UnlockConnectorFeatureName).Warnf("unlock of connector %d answered with %v", connectorID, confirmation.Status)
		return false, nil
	}
	return true, nil
}

// ChangeAvailability switches the whole charge point (connector 0) to
// operative or inoperative. A scheduled change counts as accepted.
func (f *Facade) ChangeAvailability(ctx context.Context, chargePointID string, operative bool) (bool, error) {
	cp, err := f.session(chargePointID)
	if err != nil {
		return false, err
	}
	availability := core.AvailabilityTypeOperative
	if !operative {
		availability = core.AvailabilityTypeInoperative
	}
	confirmation, err := session.Invoke[*core.ChangeAvailabilityConfirmation](ctx, cp, core.NewChangeAvailabilityRequest(0, availability))
	if err != nil {
		return false, err
	}
	switch confirmation.Status {
	case core.AvailabilityStatusAccepted, core.AvailabilityStatusScheduled:
		return true, nil
	}
	f.logDefault(chargePointID, core.ChangeAvailabilityFeatureName).Warnf("change to %v answered with %v", availability, confirmation.Status)
	return false, nil
}

// RemoteStartTransaction starts charging on connectorID with the remote id
// tag of the session settings.
func (f *Facade) RemoteStartTransaction(ctx context.Context, chargePointID string, connectorID int) (bool, error) {
	cp, err := f.session(chargePointID)
	if err != nil {
		return false, err
	}
	idTag := cp.Settings().RemoteIDTag
	request := core.NewRemoteStartTransactionRequest(idTag)
	if connectorID > 0 {
		request.ConnectorId = &connectorID
	}
	f.logDefault(chargePointID, core.RemoteStartTransactionFeatureName).Infof("starting transaction with remote id tag %s", idTag)
	confirmation, err := session.Invoke[*core.RemoteStartTransactionConfirmation](ctx, cp, request)
	if err != nil {
		return false, err
	}
	if confirmation.Status != types.RemoteStartStopStatusAccepted {
		f.logDefault(chargePointID, core.RemoteStartTransactionFeatureName).Warnf("remote start answered with %v", confirmation.Status)
		return false, nil
	}
	return true, nil
}

// RemoteStopTransaction stops the active transaction. Without one there is
// nothing to stop and the answer is true.
func (f *Facade) RemoteStopTransaction(ctx context.Context, chargePointID string) (bool, error) {
	cp, err := f.session(chargePointID)
	if err != nil {
		return false, err
	}
	tx := cp.ActiveTransaction()
	if tx == nil || tx.ID == 0 {
		return true, nil
	}
	confirmation, err := session.Invoke[*core.RemoteStopTransactionConfirmation](ctx, cp, core.NewRemoteStopTransactionRequest(tx.ID))
	if err != nil {
		return false, err
	}
	if confirmation.Status != types.RemoteStartStopStatusAccepted {
		f.logDefault(chargePointID, core.RemoteStopTransactionFeatureName).Warnf("remote stop of %d answered with %v", tx.ID, confirmation.Status)
		return false, nil
	}
	return true, nil
}

func (f *Facade) DataTransfer(ctx context.Context, chargePointID, vendorID, messageID string, data interface{}) (bool, error) {
	cp, err := f.session(chargePointID)
	if err != nil {
		return false, err
	}
	return cp.DataTransfer(ctx, vendorID, messageID, data)
}

// GetConfiguration reads one configuration key. Unknown keys yield session.ErrUnknownKey.
func (f *Facade) GetConfiguration(ctx context.Context, chargePointID, key string) (string, error) {
	cp, err := f.session(chargePointID)
	if err != nil {
		return "", err
	}
	return cp.GetConfiguration(ctx, key)
}

// ChangeConfiguration sets key to value. A change that needs a reboot is
// accepted; the session remembers that a reboot is pending.
func (f *Facade) ChangeConfiguration(ctx context.Context, chargePointID, key, value string) (bool, error) {
	cp, err := f.session(chargePointID)
	if err != nil {
		return false, err
	}
	status, err := cp.Configure(ctx, key, value)
	if err != nil {
		return false, err
	}
	switch status {
	case core.ConfigurationStatusAccepted, core.ConfigurationStatusRebootRequired:
		return true, nil
	}
	return false, nil
}

func (f *Facade) ClearCache(ctx context.Context, chargePointID string) (bool, error) {
	cp, err := f.session(chargePointID)
	if err != nil {
		return false, err
	}
	confirmation, err := session.Invoke[*core.ClearCacheConfirmation](ctx, cp, core.NewClearCacheRequest())
	if err != nil {
		return false, err
	}
	return confirmation.Status == core.ClearCacheStatusAccepted, nil
}

// ------------- NATS adapters -------------

type CoreProfileActions struct {
	facade *Facade
}

func InitializeCoreProfileActions(facade *Facade) CoreProfileActions {
	return CoreProfileActions{
		facade: facade,
	}
}

func (this *CoreProfileActions) Reset(chargePointID string, payload []byte, responseChannel chan common.Response) {
	var request struct {
		Type core.ResetType `json:"type" validate:"omitempty,oneof=Hard Soft"`
	}
	if err := decodePayload(payload, &request, "command.reset.payload.not.valid"); err != nil {
		responseChannel <- common.Response{Err: err}
		return
	}
	ok, err := this.facade.Reset(context.Background(), chargePointID, request.Type != core.ResetTypeSoft)
	reply(responseChannel, accepted(ok), err)
}

func (this *CoreProfileActions) UnlockConnector(chargePointID string, payload []byte, responseChannel chan common.Response) {
	request := struct {
		ConnectorId int `json:"connectorId" validate:"gt=0"`
	}{ConnectorId: 1}
	if err := decodePayload(payload, &request, "command.unlock.connector.payload.not.valid"); err != nil {
		responseChannel <- common.Response{Err: err}
		return
	}
	ok, err := this.facade.UnlockConnector(context.Background(), chargePointID, request.ConnectorId)
	reply(responseChannel, accepted(ok), err)
}

func (this *CoreProfileActions) ChangeAvailability(chargePointID string, payload []byte, responseChannel chan common.Response) {
	request := struct {
		Type core.AvailabilityType `json:"type" validate:"required,oneof=Operative Inoperative"`
	}{Type: core.AvailabilityTypeOperative}
	if err := decodePayload(payload, &request, "command.change.availability.payload.not.valid"); err != nil {
		responseChannel <- common.Response{Err: err}
		return
	}
	ok, err := this.facade.ChangeAvailability(context.Background(), chargePointID, request.Type == core.AvailabilityTypeOperative)
	reply(responseChannel, accepted(ok), err)
}

func (this *CoreProfileActions) RemoteStartTransaction(chargePointID string, payload []byte, responseChannel chan common.Response) {
	request := struct {
		ConnectorId int `json:"connectorId" validate:"gte=0"`
	}{ConnectorId: 1}
	if err := decodePayload(payload, &request, "command.remote.start.transaction.payload.not.valid"); err != nil {
		responseChannel <- common.Response{Err: err}
		return
	}
	ok, err := this.facade.RemoteStartTransaction(context.Background(), chargePointID, request.ConnectorId)
	reply(responseChannel, accepted(ok), err)
}

func (this *CoreProfileActions) RemoteStopTransaction(chargePointID string, payload []byte, responseChannel chan common.Response) {
	ok, err := this.facade.RemoteStopTransaction(context.Background(), chargePointID)
	reply(responseChannel, accepted(ok), err)
}

func (this *CoreProfileActions) DataTransfer(chargePointID string, payload []byte, responseChannel chan common.Response) {
	var request struct {
		VendorId  string      `json:"vendorId" validate:"required,max=255"`
		MessageId string      `json:"messageId" validate:"max=50"`
		Data      interface{} `json:"data"`
	}
	if err := decodePayload(payload, &request, "command.data.transfer.payload.not.valid"); err != nil {
		responseChannel <- common.Response{Err: err}
		return
	}
	ok, err := this.facade.DataTransfer(context.Background(), chargePointID, request.VendorId, request.MessageId, request.Data)
	reply(responseChannel, accepted(ok), err)
}

func (this *CoreProfileActions) GetConfiguration(chargePointID string, payload []byte, responseChannel chan common.Response) {
	var request struct {
		Key string `json:"key" validate:"required,max=50"`
	}
	if err := decodePayload(payload, &request, "command.get.configuration.payload.not.valid"); err != nil {
		responseChannel <- common.Response{Err: err}
		return
	}
	value, err := this.facade.GetConfiguration(context.Background(), chargePointID, request.Key)
	reply(responseChannel, map[string]interface{}{request.Key: value}, err)
}

func (this *CoreProfileActions) ChangeConfiguration(chargePointID string, payload []byte, responseChannel chan common.Response) {
	var request struct {
		Key   string `json:"key" validate:"required,max=50"`
		Value string `json:"value" validate:"required,max=500"`
	}
	if err := decodePayload(payload, &request, "command.change.configuration.payload.not.valid"); err != nil {
		responseChannel <- common.Response{Err: err}
		return
	}
	ok, err := this.facade.ChangeConfiguration(context.Background(), chargePointID, request.Key, request.Value)
	reply(responseChannel, accepted(ok), err)
}

func (this *CoreProfileActions) ClearCache(chargePointID string, payload []byte, responseChannel chan common.Response) {
	ok, err := this.facade.ClearCache(context.Background(), chargePointID)
	reply(responseChannel, accepted(ok), err)
}
