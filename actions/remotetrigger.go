package actions

import (
	"context"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"

	"ha_ocpp/common"
	"ha_ocpp/session"
)

// TriggerMessage asks the charger to send message now. A nil connectorID
// addresses the charge point as a whole.
func (f *Facade) TriggerMessage(ctx context.Context, chargePointID string, message remotetrigger.MessageTrigger, connectorID *int) (bool, error) {
	cp, err := f.sessionWith(chargePointID, session.ProfileRemoteTrigger)
	if err != nil {
		return false, err
	}
	return cp.TriggerMessage(ctx, message, connectorID)
}

type RemoteTriggerProfileActions struct {
	facade *Facade
}

func InitializeRemoteTriggerProfileActions(facade *Facade) RemoteTriggerProfileActions {
	return RemoteTriggerProfileActions{
		facade: facade,
	}
}

func (this *RemoteTriggerProfileActions) TriggerMessage(chargePointID string, payload []byte, responseChannel chan common.Response) {
	var request struct {
		RequestedMessage remotetrigger.MessageTrigger `json:"requestedMessage" validate:"required,oneof=BootNotification DiagnosticsStatusNotification FirmwareStatusNotification Heartbeat MeterValues StatusNotification"`
		ConnectorId      *int                         `json:"connectorId" validate:"omitempty,gt=0"`
	}
	if err := decodePayload(payload, &request, "command.trigger.message.payload.not.valid"); err != nil {
		responseChannel <- common.Response{Err: err}
		return
	}
	ok, err := this.facade.TriggerMessage(context.Background(), chargePointID, request.RequestedMessage, request.ConnectorId)
	reply(responseChannel, accepted(ok), err)
}
