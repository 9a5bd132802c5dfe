package actions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/localauth"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/reservation"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/smartcharging"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ha_ocpp/session"
)

var smartConfig = map[string]string{
	session.KeySupportedFeatureProfiles:                "Core,SmartCharging,RemoteTrigger,Reservation,LocalAuthListManagement",
	session.KeyNumberOfConnectors:                      "1",
	session.KeyChargingScheduleAllowedChargingRateUnit: "Current,Power",
	session.KeyChargeProfileMaxStackLevel:              "3",
}

var coreConfig = map[string]string{
	session.KeySupportedFeatureProfiles: "Core",
	session.KeyNumberOfConnectors:       "1",
}

func TestUnknownChargePoint(t *testing.T) {
	f := New(sessionMap{}, quietLogger())
	_, err := f.Reset(context.Background(), "nope", true)
	assert.ErrorIs(t, err, ErrNoSuchSession)
	_, err = f.GetConfiguration(context.Background(), "nope", "HeartbeatInterval")
	assert.ErrorIs(t, err, ErrNoSuchSession)
}

func TestDisconnectedChargePoint(t *testing.T) {
	cp := session.New("CP1", session.Config{Settings: session.DefaultSettings(), Logger: quietLogger()})
	f := newFacade(cp)
	_, err := f.UnlockConnector(context.Background(), "CP1", 1)
	assert.ErrorIs(t, err, ErrNoSuchSession)
}

func TestFaultedChargePoint(t *testing.T) {
	cp, ch := connectCharger(t, coreConfig)
	f := newFacade(cp)

	ch.call(core.StatusNotificationFeatureName, `{"connectorId":1,"errorCode":"GroundFailure","status":"Faulted"}`)
	require.Equal(t, session.StatusFaulted, cp.Status())

	_, err := f.Reset(context.Background(), "CP1", true)
	assert.ErrorIs(t, err, ErrChargerFaulted)
	assert.Empty(t, ch.sent(core.ResetFeatureName))
}

func TestReset(t *testing.T) {
	cp, ch := connectCharger(t, coreConfig)
	f := newFacade(cp)
	ch.answer(core.ResetFeatureName, `{"status":"Accepted"}`, `{"status":"Rejected"}`)

	ok, err := f.Reset(context.Background(), "CP1", true)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.Reset(context.Background(), "CP1", false)
	require.NoError(t, err)
	assert.False(t, ok)

	sent := ch.sent(core.ResetFeatureName)
	require.Len(t, sent, 2)
	assert.JSONEq(t, `{"type":"Hard"}`, string(sent[0]))
	assert.JSONEq(t, `{"type":"Soft"}`, string(sent[1]))
}

func TestResetClearsReconnectsOnlyWhenAccepted(t *testing.T) {
	cp, _ := connectCharger(t, coreConfig)
	f := newFacade(cp)

	ch := serveCharger(t, cp, coreConfig)
	require.Eventually(t, func() bool { return cp.Reconnects() == 1 && cp.Connected() }, waitFor, 5*time.Millisecond)
	ch.answer(core.ResetFeatureName, `{"status":"Rejected"}`, `{"status":"Accepted"}`)

	ok, err := f.Reset(context.Background(), "CP1", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, cp.Reconnects())

	ok, err = f.Reset(context.Background(), "CP1", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, cp.Reconnects())
}

func TestCommandTimeout(t *testing.T) {
	cp, _ := connectCharger(t, coreConfig)
	f := newFacade(cp)

	// no canned answer for UnlockConnector, the charger stays silent
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.UnlockConnector(ctx, "CP1", 1)
	assert.ErrorIs(t, err, session.ErrCallTimeout)
}

func TestCallErrorIsSurfaced(t *testing.T) {
	cp, ch := connectCharger(t, coreConfig)
	f := newFacade(cp)
	ch.answer(core.ClearCacheFeatureName, "!NotSupported")

	_, err := f.ClearCache(context.Background(), "CP1")
	var callErr *session.CallError
	require.ErrorAs(t, err, &callErr)
	assert.EqualValues(t, "NotSupported", callErr.Code)
}

func TestUnlockAndAvailability(t *testing.T) {
	cp, ch := connectCharger(t, coreConfig)
	f := newFacade(cp)
	ch.answer(core.UnlockConnectorFeatureName, `{"status":"Unlocked"}`, `{"status":"UnlockFailed"}`)
	ch.answer(core.ChangeAvailabilityFeatureName, `{"status":"Scheduled"}`, `{"status":"Rejected"}`)

	ok, err := f.UnlockConnector(context.Background(), "CP1", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"connectorId":2}`, string(ch.sent(core.UnlockConnectorFeatureName)[0]))
	ok, _ = f.UnlockConnector(context.Background(), "CP1", 1)
	assert.False(t, ok)

	ok, err = f.ChangeAvailability(context.Background(), "CP1", false)
	require.NoError(t, err)
	assert.True(t, ok, "scheduled counts as accepted")
	assert.JSONEq(t, `{"connectorId":0,"type":"Inoperative"}`, string(ch.sent(core.ChangeAvailabilityFeatureName)[0]))
	ok, _ = f.ChangeAvailability(context.Background(), "CP1", true)
	assert.False(t, ok)
}

func TestRemoteStartAndStop(t *testing.T) {
	cp, ch := connectCharger(t, coreConfig)
	f := newFacade(cp)
	ch.answer(core.RemoteStartTransactionFeatureName, `{"status":"Accepted"}`)
	ch.answer(core.RemoteStopTransactionFeatureName, `{"status":"Accepted"}`)

	// nothing to stop yet
	ok, err := f.RemoteStopTransaction(context.Background(), "CP1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, ch.sent(core.RemoteStopTransactionFeatureName))

	ok, err = f.RemoteStartTransaction(context.Background(), "CP1", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"connectorId":1,"idTag":"remote-tag"}`, string(ch.sent(core.RemoteStartTransactionFeatureName)[0]))

	fields := ch.call(core.StartTransactionFeatureName, `{"connectorId":1,"idTag":"remote-tag","meterStart":1000,"timestamp":"2024-01-01T10:00:00Z"}`)
	var conf core.StartTransactionConfirmation
	require.NoError(t, json.Unmarshal(fields[2], &conf))
	require.NotZero(t, conf.TransactionId)

	ok, err = f.RemoteStopTransaction(context.Background(), "CP1")
	require.NoError(t, err)
	assert.True(t, ok)
	sent := ch.sent(core.RemoteStopTransactionFeatureName)
	require.Len(t, sent, 1)
	var stop core.RemoteStopTransactionRequest
	require.NoError(t, json.Unmarshal(sent[0], &stop))
	assert.Equal(t, conf.TransactionId, stop.TransactionId)
}

func TestConfiguration(t *testing.T) {
	config := map[string]string{
		session.KeySupportedFeatureProfiles: "Core",
		"WebSocketPingInterval":             "60",
	}
	cp, ch := connectCharger(t, config)
	f := newFacade(cp)

	value, err := f.GetConfiguration(context.Background(), "CP1", "WebSocketPingInterval")
	require.NoError(t, err)
	assert.Equal(t, "60", value)

	_, err = f.GetConfiguration(context.Background(), "CP1", "Bogus")
	assert.ErrorIs(t, err, session.ErrUnknownKey)

	before := len(ch.sent(core.ChangeConfigurationFeatureName))
	ok, err := f.ChangeConfiguration(context.Background(), "CP1", "WebSocketPingInterval", "60")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, ch.sent(core.ChangeConfigurationFeatureName), before, "unchanged value is not written")

	ch.answer(core.ChangeConfigurationFeatureName, `{"status":"RebootRequired"}`)
	ok, err = f.ChangeConfiguration(context.Background(), "CP1", "WebSocketPingInterval", "30")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, cp.RequiresReboot())
}

func TestDataTransfer(t *testing.T) {
	cp, ch := connectCharger(t, coreConfig)
	f := newFacade(cp)
	ch.answer(core.DataTransferFeatureName, `{"status":"Accepted","data":"pong"}`)

	ok, err := f.DataTransfer(context.Background(), "CP1", "VendorX", "ping", "hello")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"vendorId":"VendorX","messageId":"ping","data":"hello"}`, string(ch.sent(core.DataTransferFeatureName)[0]))

	m, found := cp.Metrics().Get(0, session.MetricDataResponse)
	require.True(t, found)
	assert.Equal(t, "pong", m.Attributes["ping"])
}

func TestSetChargeRateRequiresSmartCharging(t *testing.T) {
	cp, ch := connectCharger(t, coreConfig)
	f := newFacade(cp)

	_, err := f.SetChargeRate(context.Background(), "CP1", 16, 11000, 0, nil)
	assert.ErrorIs(t, err, ErrFeatureNotSupported)
	assert.Empty(t, ch.sent(smartcharging.SetChargingProfileFeatureName))
}

func TestSetChargeRate(t *testing.T) {
	cp, ch := connectCharger(t, smartConfig)
	f := newFacade(cp)
	ch.answer(smartcharging.SetChargingProfileFeatureName, `{"status":"Accepted"}`)

	ok, err := f.SetChargeRate(context.Background(), "CP1", 16, 11000, 0, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	sent := ch.sent(smartcharging.SetChargingProfileFeatureName)
	require.Len(t, sent, 1)
	var request smartcharging.SetChargingProfileRequest
	require.NoError(t, json.Unmarshal(sent[0], &request))
	assert.Equal(t, 0, request.ConnectorId)
	profile := request.ChargingProfile
	require.NotNil(t, profile)
	assert.Equal(t, 3, profile.StackLevel)
	assert.Equal(t, types.ChargingProfilePurposeChargePointMaxProfile, profile.ChargingProfilePurpose)
	assert.Equal(t, types.ChargingProfileKindRelative, profile.ChargingProfileKind)
	require.NotNil(t, profile.ChargingSchedule)
	assert.Equal(t, types.ChargingRateUnitAmperes, profile.ChargingSchedule.ChargingRateUnit)
	require.Len(t, profile.ChargingSchedule.ChargingSchedulePeriod, 1)
	assert.Equal(t, 16.0, profile.ChargingSchedule.ChargingSchedulePeriod[0].Limit)
}

func TestSetChargeRateFallsBackToTxDefaultProfile(t *testing.T) {
	config := map[string]string{}
	for k, v := range smartConfig {
		config[k] = v
	}
	config[session.KeyChargingScheduleAllowedChargingRateUnit] = "Power"
	cp, ch := connectCharger(t, config)
	f := newFacade(cp)
	ch.answer(smartcharging.SetChargingProfileFeatureName, `{"status":"Rejected"}`, `{"status":"Accepted"}`)

	ok, err := f.SetChargeRate(context.Background(), "CP1", 16, 11000, 1, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	sent := ch.sent(smartcharging.SetChargingProfileFeatureName)
	require.Len(t, sent, 2)
	var second smartcharging.SetChargingProfileRequest
	require.NoError(t, json.Unmarshal(sent[1], &second))
	assert.Equal(t, types.ChargingProfilePurposeTxDefaultProfile, second.ChargingProfile.ChargingProfilePurpose)
	assert.Equal(t, 2, second.ChargingProfile.StackLevel)
	assert.Equal(t, types.ChargingRateUnitWatts, second.ChargingProfile.ChargingSchedule.ChargingRateUnit)
	assert.Equal(t, 11000.0, second.ChargingProfile.ChargingSchedule.ChargingSchedulePeriod[0].Limit)
}

func TestClearChargingProfile(t *testing.T) {
	cp, ch := connectCharger(t, smartConfig)
	f := newFacade(cp)
	ch.answer(smartcharging.ClearChargingProfileFeatureName, `{"status":"Unknown"}`)

	ok, err := f.ClearChargingProfile(context.Background(), "CP1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTriggerMessage(t *testing.T) {
	cp, ch := connectCharger(t, smartConfig)
	f := newFacade(cp)

	ok, err := f.TriggerMessage(context.Background(), "CP1", remotetrigger.MessageTrigger(core.HeartbeatFeatureName), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	found := false
	for _, payload := range ch.sent(remotetrigger.TriggerMessageFeatureName) {
		var request remotetrigger.TriggerMessageRequest
		require.NoError(t, json.Unmarshal(payload, &request))
		if request.RequestedMessage == remotetrigger.MessageTrigger(core.HeartbeatFeatureName) {
			found = true
			assert.Nil(t, request.ConnectorId)
		}
	}
	assert.True(t, found)

	coreOnly, _ := connectCharger(t, coreConfig)
	_, err = newFacade(coreOnly).TriggerMessage(context.Background(), "CP1", remotetrigger.MessageTrigger(core.HeartbeatFeatureName), nil)
	assert.ErrorIs(t, err, ErrFeatureNotSupported)
}

func TestReservation(t *testing.T) {
	cp, ch := connectCharger(t, smartConfig)
	f := newFacade(cp)
	ch.answer(reservation.ReserveNowFeatureName, `{"status":"Accepted"}`)
	ch.answer(reservation.CancelReservationFeatureName, `{"status":"Accepted"}`)

	expiry := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	id, ok, err := f.ReserveNow(context.Background(), "CP1", 1, "TAG1", expiry, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotZero(t, id)

	var request reservation.ReserveNowRequest
	require.NoError(t, json.Unmarshal(ch.sent(reservation.ReserveNowFeatureName)[0], &request))
	assert.Equal(t, id, request.ReservationId)
	assert.Equal(t, "TAG1", request.IdTag)
	assert.True(t, expiry.Equal(request.ExpiryDate.Time))

	ok, err = f.CancelReservation(context.Background(), "CP1", id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalAuthList(t *testing.T) {
	cp, ch := connectCharger(t, smartConfig)
	f := newFacade(cp)
	ch.answer(localauth.GetLocalListVersionFeatureName, `{"listVersion":4}`)
	ch.answer(localauth.SendLocalListFeatureName, `{"status":"Accepted"}`)

	version, err := f.GetLocalListVersion(context.Background(), "CP1")
	require.NoError(t, err)
	assert.Equal(t, 4, version)

	ok, err := f.SendLocalList(context.Background(), "CP1", 5, []string{"A", "B"})
	require.NoError(t, err)
	assert.True(t, ok)
	var request localauth.SendLocalListRequest
	require.NoError(t, json.Unmarshal(ch.sent(localauth.SendLocalListFeatureName)[0], &request))
	assert.Equal(t, 5, request.ListVersion)
	assert.Equal(t, localauth.UpdateTypeFull, request.UpdateType)
	require.Len(t, request.LocalAuthorizationList, 2)
	assert.Equal(t, "B", request.LocalAuthorizationList[1].IdTag)
}
