package actions

import (
	"context"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/localauth"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	"ha_ocpp/common"
	"ha_ocpp/session"
)

func (f *Facade) GetLocalListVersion(ctx context.Context, chargePointID string) (int, error) {
	cp, err := f.sessionWith(chargePointID, session.ProfileLocalAuthListManagement)
	if err != nil {
		return 0, err
	}
	confirmation, err := session.Invoke[*localauth.GetLocalListVersionConfirmation](ctx, cp, localauth.NewGetLocalListVersionRequest())
	if err != nil {
		return 0, err
	}
	return confirmation.ListVersion, nil
}

// SendLocalList replaces the local authorization list of the charger with
// idTags, all of them accepted.
func (f *Facade) SendLocalList(ctx context.Context, chargePointID string, listVersion int, idTags []string) (bool, error) {
	cp, err := f.sessionWith(chargePointID, session.ProfileLocalAuthListManagement)
	if err != nil {
		return false, err
	}
	request := localauth.NewSendLocalListRequest(listVersion, localauth.UpdateTypeFull)
	for _, idTag := range idTags {
		request.LocalAuthorizationList = append(request.LocalAuthorizationList, localauth.AuthorizationData{
			IdTag:     idTag,
			IdTagInfo: &types.IdTagInfo{Status: types.AuthorizationStatusAccepted},
		})
	}
	confirmation, err := session.Invoke[*localauth.SendLocalListConfirmation](ctx, cp, request)
	if err != nil {
		return false, err
	}
	if confirmation.Status != localauth.UpdateStatusAccepted {
		f.logDefault(chargePointID, localauth.SendLocalListFeatureName).Warnf("local list version %d answered with %v", listVersion, confirmation.Status)
		return false, nil
	}
	return true, nil
}

type LocalAuthProfileActions struct {
	facade *Facade
}

func InitializeLocalAuthProfileActions(facade *Facade) LocalAuthProfileActions {
	return LocalAuthProfileActions{
		facade: facade,
	}
}

func (this *LocalAuthProfileActions) SendLocalList(chargePointID string, payload []byte, responseChannel chan common.Response) {
	var request struct {
		ListVersion            int      `json:"listVersion" validate:"gte=0"`
		LocalAuthorizationList []string `json:"localAuthorizationList" validate:"dive,required,max=20"`
	}
	if err := decodePayload(payload, &request, "command.send.local.list.payload.not.valid"); err != nil {
		responseChannel <- common.Response{Err: err}
		return
	}
	ok, err := this.facade.SendLocalList(context.Background(), chargePointID, request.ListVersion, request.LocalAuthorizationList)
	reply(responseChannel, accepted(ok), err)
}

func (this *LocalAuthProfileActions) GetLocalListVersion(chargePointID string, payload []byte, responseChannel chan common.Response) {
	version, err := this.facade.GetLocalListVersion(context.Background(), chargePointID)
	reply(responseChannel, map[string]interface{}{"listVersion": version}, err)
}
