package actions

// Command names the host sends in common.Command.Action.
const (
	RESET                    = "reset"
	UNLOCK_CONNECTOR         = "unlock.connector"
	CHANGE_AVAILABILITY      = "change.availability"
	REMOTE_START_TRANSACTION = "remote.start.transaction"
	REMOTE_STOP_TRANSACTION  = "remote.stop.transaction"
	DATA_TRANSFER            = "data.transfer"
	GET_CONFIGURATION        = "get.configuration"
	CHANGE_CONFIGURATION     = "change.configuration"
	CLEAR_CACHE              = "clear.cache"
	SET_CHARGE_RATE          = "set.charge.rate"
	CLEAR_CHARGING_PROFILE   = "clear.charging.profile"
	TRIGGER_MESSAGE          = "trigger.message"
	RESERVE_NOW              = "reserve.now"
	CANCEL_RESERVATION       = "cancel.reservation"
	SEND_LOCAL_LIST          = "send.local.list"
	GET_LOCAL_LIST_VERSION   = "get.local.list.version"
)

// Handlers maps every command name to its adapter.
func (f *Facade) Handlers() map[string]Function {
	coreProfileActions := InitializeCoreProfileActions(f)
	smartChargingProfileActions := InitializeSmartChargingProfileActions(f)
	remoteTriggerProfileActions := InitializeRemoteTriggerProfileActions(f)
	reservationProfileActions := InitializeReservationProfileActions(f)
	localAuthProfileActions := InitializeLocalAuthProfileActions(f)

	return map[string]Function{
		RESET:                    coreProfileActions.Reset,
		UNLOCK_CONNECTOR:         coreProfileActions.UnlockConnector,
		CHANGE_AVAILABILITY:      coreProfileActions.ChangeAvailability,
		REMOTE_START_TRANSACTION: coreProfileActions.RemoteStartTransaction,
		REMOTE_STOP_TRANSACTION:  coreProfileActions.RemoteStopTransaction,
		DATA_TRANSFER:            coreProfileActions.DataTransfer,
		GET_CONFIGURATION:        coreProfileActions.GetConfiguration,
		CHANGE_CONFIGURATION:     coreProfileActions.ChangeConfiguration,
		CLEAR_CACHE:              coreProfileActions.ClearCache,
		SET_CHARGE_RATE:          smartChargingProfileActions.SetChargeRate,
		CLEAR_CHARGING_PROFILE:   smartChargingProfileActions.ClearChargingProfile,
		TRIGGER_MESSAGE:          remoteTriggerProfileActions.TriggerMessage,
		RESERVE_NOW:              reservationProfileActions.ReserveNow,
		CANCEL_RESERVATION:       reservationProfileActions.CancelReservation,
		SEND_LOCAL_LIST:          localAuthProfileActions.SendLocalList,
		GET_LOCAL_LIST_VERSION:   localAuthProfileActions.GetLocalListVersion,
	}
}
