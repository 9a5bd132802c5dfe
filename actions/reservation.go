package actions

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/reservation"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	"ha_ocpp/common"
	"ha_ocpp/session"
)

var reservationId atomic.Int64

// nextReservationID hands out reservation ids unique for the process lifetime.
func nextReservationID() int {
	return int(reservationId.Add(1))
}

// ReserveNow reserves connectorID for idTag until expiry and returns the
// reservation id used. A zero reservationID picks the next free one.
func (f *Facade) ReserveNow(ctx context.Context, chargePointID string, connectorID int, idTag string, expiry time.Time, reservationID int) (int, bool, error) {
	cp, err := f.sessionWith(chargePointID, session.ProfileReservation)
	if err != nil {
		return 0, false, err
	}
	if reservationID == 0 {
		reservationID = nextReservationID()
	}
	request := reservation.NewReserveNowRequest(connectorID, types.NewDateTime(expiry), idTag, reservationID)
	confirmation, err := session.Invoke[*reservation.ReserveNowConfirmation](ctx, cp, request)
	if err != nil {
		return reservationID, false, err
	}
	if confirmation.Status != reservation.ReservationStatusAccepted {
		f.logDefault(chargePointID, reservation.ReserveNowFeatureName).Infof("couldn't reserve connector %d: %v", connectorID, confirmation.Status)
		return reservationID, false, nil
	}
	f.logDefault(chargePointID, reservation.ReserveNowFeatureName).Infof("connector %d reserved for %s until %v (reservation %d)", connectorID, idTag, expiry, reservationID)
	return reservationID, true, nil
}

func (f *Facade) CancelReservation(ctx context.Context, chargePointID string, reservationID int) (bool, error) {
	cp, err := f.sessionWith(chargePointID, session.ProfileReservation)
	if err != nil {
		return false, err
	}
	confirmation, err := session.Invoke[*reservation.CancelReservationConfirmation](ctx, cp, reservation.NewCancelReservationRequest(reservationID))
	if err != nil {
		return false, err
	}
	if confirmation.Status != reservation.CancelReservationStatusAccepted {
		f.logDefault(chargePointID, reservation.CancelReservationFeatureName).Infof("couldn't cancel reservation %d", reservationID)
		return false, nil
	}
	return true, nil
}

type ReservationProfileActions struct {
	facade *Facade
}

func InitializeReservationProfileActions(facade *Facade) ReservationProfileActions {
	return ReservationProfileActions{
		facade: facade,
	}
}

func (this *ReservationProfileActions) ReserveNow(chargePointID string, payload []byte, responseChannel chan common.Response) {
	var request struct {
		ConnectorId   int    `json:"connectorId" validate:"gte=0"`
		IdTag         string `json:"idTag" validate:"required,max=20"`
		ExpiryDate    int64  `json:"expiryDate" validate:"required,gt=0"`
		ReservationId int    `json:"reservationId" validate:"gte=0"`
	}
	if err := decodePayload(payload, &request, "command.reserve.now.payload.not.valid"); err != nil {
		responseChannel <- common.Response{Err: err}
		return
	}
	id, ok, err := this.facade.ReserveNow(context.Background(), chargePointID, request.ConnectorId, request.IdTag, time.Unix(request.ExpiryDate, 0), request.ReservationId)
	reply(responseChannel, map[string]interface{}{"accepted": ok, "reservationId": id}, err)
}

func (this *ReservationProfileActions) CancelReservation(chargePointID string, payload []byte, responseChannel chan common.Response) {
	var request struct {
		ReservationId int `json:"reservationId" validate:"required"`
	}
	if err := decodePayload(payload, &request, "command.cancel.reservation.payload.not.valid"); err != nil {
		responseChannel <- common.Response{Err: err}
		return
	}
	ok, err := this.facade.CancelReservation(context.Background(), chargePointID, request.ReservationId)
	reply(responseChannel, accepted(ok), err)
}
