package actions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/smartcharging"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	"ha_ocpp/common"
	"ha_ocpp/session"
)

// chargeRateProfileID is the profile id SetChargeRate installs and replaces.
const chargeRateProfileID = 8

// SetChargeRate limits the charging rate of connectorID (0 is the whole
// charge point). A non nil profile is sent as is. Otherwise a relative
// ChargePointMaxProfile at the highest stack level is built, in amps when the
// charger accepts current limits and in watts when it does not. Chargers that
// refuse it get a TxDefaultProfile one stack level lower.
func (f *Facade) SetChargeRate(ctx context.Context, chargePointID string, limitAmps, limitWatts float64, connectorID int, profile *types.ChargingProfile) (bool, error) {
	log := f.logDefault(chargePointID, smartcharging.SetChargingProfileFeatureName)
	if profile != nil {
		cp, err := f.session(chargePointID)
		if err != nil {
			return false, err
		}
		return f.setChargingProfile(ctx, cp, connectorID, profile)
	}

	cp, err := f.sessionWith(chargePointID, session.ProfileSmartCharging)
	if err != nil {
		log.Info("smart charging is not supported by this charger")
		return false, err
	}

	units, err := cp.GetConfiguration(ctx, session.KeyChargingScheduleAllowedChargingRateUnit)
	var callErr *session.CallError
	switch {
	case errors.Is(err, session.ErrUnknownKey), errors.As(err, &callErr):
		log.Warn("failed to query charging rate unit, assuming Amps")
		units = "Current"
	case err != nil:
		return false, err
	}
	log.Infof("charger supports setting the following units: %s", units)

	unit, limit := types.ChargingRateUnitWatts, limitWatts
	if strings.Contains(units, "Current") {
		unit, limit = types.ChargingRateUnitAmperes, limitAmps
	}

	value, err := cp.GetConfiguration(ctx, session.KeyChargeProfileMaxStackLevel)
	if err != nil {
		return false, err
	}
	stackLevel, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", session.KeyChargeProfileMaxStackLevel, value, err)
	}

	ok, err := f.setChargingProfile(ctx, cp, connectorID, chargeRateProfile(types.ChargingProfilePurposeChargePointMaxProfile, stackLevel, unit, limit))
	if err != nil && !errors.As(err, &callErr) {
		return false, err
	}
	if ok {
		return true, nil
	}
	log.Debug("ChargePointMaxProfile is not supported by this charger, trying TxDefaultProfile instead")
	// some chargers want the level strictly below the maximum
	return f.setChargingProfile(ctx, cp, connectorID, chargeRateProfile(types.ChargingProfilePurposeTxDefaultProfile, max(stackLevel-1, 0), unit, limit))
}

func chargeRateProfile(purpose types.ChargingProfilePurposeType, stackLevel int, unit types.ChargingRateUnitType, limit float64) *types.ChargingProfile {
	return &types.ChargingProfile{
		ChargingProfileId:      chargeRateProfileID,
		StackLevel:             stackLevel,
		ChargingProfilePurpose: purpose,
		ChargingProfileKind:    types.ChargingProfileKindRelative,
		ChargingSchedule:       types.NewChargingSchedule(unit, types.NewChargingSchedulePeriod(0, limit)),
	}
}

func (f *Facade) setChargingProfile(ctx context.Context, cp *session.ChargePoint, connectorID int, profile *types.ChargingProfile) (bool, error) {
	confirmation, err := session.Invoke[*smartcharging.SetChargingProfileConfirmation](ctx, cp, smartcharging.NewSetChargingProfileRequest(connectorID, profile))
	if err != nil {
		return false, err
	}
	if confirmation.Status != smartcharging.ChargingProfileStatusAccepted {
		f.logDefault(cp.ID(), smartcharging.SetChargingProfileFeatureName).Warnf("%v answered with %v", profile.ChargingProfilePurpose, confirmation.Status)
		return false, nil
	}
	return true, nil
}

// ClearChargingProfile removes every charging profile installed on the charger.
func (f *Facade) ClearChargingProfile(ctx context.Context, chargePointID string) (bool, error) {
	cp, err := f.session(chargePointID)
	if err != nil {
		return false, err
	}
	confirmation, err := session.Invoke[*smartcharging.ClearChargingProfileConfirmation](ctx, cp, smartcharging.NewClearChargingProfileRequest())
	if err != nil {
		return false, err
	}
	if confirmation.Status != smartcharging.ClearChargingProfileStatusAccepted {
		f.logDefault(chargePointID, smartcharging.ClearChargingProfileFeatureName).Warnf("clear profile answered with %v", confirmation.Status)
		return false, nil
	}
	return true, nil
}

// ------------- NATS adapters -------------

type SmartChargingProfileActions struct {
	facade *Facade
}

func InitializeSmartChargingProfileActions(facade *Facade) SmartChargingProfileActions {
	return SmartChargingProfileActions{
		facade: facade,
	}
}

func (this *SmartChargingProfileActions) SetChargeRate(chargePointID string, payload []byte, responseChannel chan common.Response) {
	request := struct {
		LimitAmps   float64                `json:"limitAmps" validate:"gte=0"`
		LimitWatts  float64                `json:"limitWatts" validate:"gte=0"`
		ConnectorId int                    `json:"connectorId" validate:"gte=0"`
		Profile     *types.ChargingProfile `json:"profile" validate:"-"`
	}{LimitAmps: 32, LimitWatts: 22000}
	if err := decodePayload(payload, &request, "command.set.charge.rate.payload.not.valid"); err != nil {
		responseChannel <- common.Response{Err: err}
		return
	}
	ok, err := this.facade.SetChargeRate(context.Background(), chargePointID, request.LimitAmps, request.LimitWatts, request.ConnectorId, request.Profile)
	reply(responseChannel, accepted(ok), err)
}

func (this *SmartChargingProfileActions) ClearChargingProfile(chargePointID string, payload []byte, responseChannel chan common.Response) {
	ok, err := this.facade.ClearChargingProfile(context.Background(), chargePointID)
	reply(responseChannel, accepted(ok), err)
}
