package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/security"

	"ha_ocpp/codec"
)

type handlerFunc func(ctx context.Context, request ocpp.Request) (ocpp.Response, error)

type handler struct {
	handle handlerFunc
	// after runs on the receive loop once the answer has been written.
	after func(ctx context.Context)
}

func on[Req ocpp.Request, Resp ocpp.Response](fn func(context.Context, Req) (Resp, error)) handlerFunc {
	return func(ctx context.Context, request ocpp.Request) (ocpp.Response, error) {
		typed, ok := request.(Req)
		if !ok {
			return nil, fmt.Errorf("unexpected request type %T", request)
		}
		response, err := fn(ctx, typed)
		if err != nil {
			return nil, err
		}
		return response, nil
	}
}

func (cp *ChargePoint) dispatchTable() map[string]handler {
	return map[string]handler{
		core.BootNotificationFeatureName:                  {handle: on(cp.onBootNotification), after: cp.startDiscovery},
		core.HeartbeatFeatureName:                         {handle: on(cp.onHeartbeat)},
		core.StatusNotificationFeatureName:                {handle: on(cp.onStatusNotification)},
		core.MeterValuesFeatureName:                       {handle: on(cp.onMeterValues)},
		core.AuthorizeFeatureName:                         {handle: on(cp.onAuthorize)},
		core.StartTransactionFeatureName:                  {handle: on(cp.onStartTransaction)},
		core.StopTransactionFeatureName:                   {handle: on(cp.onStopTransaction)},
		core.DataTransferFeatureName:                      {handle: on(cp.onDataTransfer)},
		firmware.FirmwareStatusNotificationFeatureName:    {handle: on(cp.onFirmwareStatusNotification)},
		firmware.DiagnosticsStatusNotificationFeatureName: {handle: on(cp.onDiagnosticsStatusNotification)},
		security.SecurityEventNotificationFeatureName:     {handle: on(cp.onSecurityEventNotification)},
	}
}

func (cp *ChargePoint) handleMessage(ctx context.Context, conn Connection, data []byte) {
	frame, err := cp.codec.Decode(data)
	if err != nil {
		cp.rejectFrame(conn, frame, err)
		return
	}
	if frame.Type == codec.CALL {
		cp.handleCall(ctx, conn, frame)
		return
	}
	cp.handleResult(frame)
}

func (cp *ChargePoint) rejectFrame(conn Connection, frame *codec.Frame, err error) {
	if frame == nil || frame.Type != codec.CALL {
		cp.log.WithError(err).Warn("dropping malformed frame")
		return
	}
	if errors.Is(err, codec.ErrUnknownAction) {
		cp.logAction(frame.Action).Warn("action not implemented")
		cp.sendError(conn, frame.UniqueID, codec.NotImplemented, fmt.Sprintf("action %s is not implemented", frame.Action))
		return
	}
	cp.logAction(frame.Action).WithError(err).Warn("malformed call")
	cp.sendError(conn, frame.UniqueID, codec.FormationViolation, err.Error())
}

func (cp *ChargePoint) handleCall(ctx context.Context, conn Connection, frame *codec.Frame) {
	log := cp.logAction(frame.Action)
	h, ok := cp.handlers[frame.Action]
	if !ok {
		log.Warn("no handler for action")
		cp.sendError(conn, frame.UniqueID, codec.NotImplemented, fmt.Sprintf("action %s is not implemented", frame.Action))
		return
	}

	request, err := cp.codec.DecodeRequest(frame.Action, frame.Payload)
	if err != nil {
		code, description := codec.FormationViolation, err.Error()
		var ocppErr *ocpp.Error
		if errors.As(err, &ocppErr) {
			code, description = ocppErr.Code, ocppErr.Description
		}
		log.WithError(err).Warn("invalid payload")
		cp.sendError(conn, frame.UniqueID, code, description)
		return
	}

	response, err := cp.invoke(ctx, h, request)
	if err != nil {
		log.WithError(err).Error("handler failed")
		cp.sendError(conn, frame.UniqueID, codec.InternalError, err.Error())
		cp.refreshStatus()
		return
	}
	cp.refreshStatus()
	data, err := cp.codec.EncodeResult(frame.UniqueID, response)
	if err != nil {
		log.WithError(err).Error("failed to encode response")
		cp.sendError(conn, frame.UniqueID, codec.InternalError, "response could not be encoded")
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.WithError(err).Warn("failed to send response")
		return
	}
	if h.after != nil {
		h.after(ctx)
	}
}

func (cp *ChargePoint) invoke(ctx context.Context, h handler, request ocpp.Request) (response ocpp.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			response = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.handle(ctx, request)
}

func (cp *ChargePoint) sendError(conn Connection, uniqueID string, code ocpp.ErrorCode, description string) {
	data, err := cp.codec.EncodeError(uniqueID, code, description, nil)
	if err != nil {
		cp.log.WithError(err).Error("failed to encode call error")
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		cp.log.WithError(err).Warn("failed to send call error")
	}
}
