package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lorenzodonini/ocpp-go/ocpp"

	"ha_ocpp/codec"
)

type callOutcome struct {
	response ocpp.Response
	err      error
}

// pendingCall is resolved exactly once, by whoever removes it from the pending table.
type pendingCall struct {
	action     string
	generation uint64
	done       chan callOutcome
}

func (pc *pendingCall) resolve(response ocpp.Response, err error) {
	pc.done <- callOutcome{response: response, err: err}
}

// Call sends request to the charge point and waits for its answer. Without a
// deadline on ctx the configured call timeout applies. A CallError answer is
// returned as *CallError.
func (cp *ChargePoint) Call(ctx context.Context, request ocpp.Request) (ocpp.Response, error) {
	if request == nil {
		return nil, errors.New("request is required")
	}
	action := request.GetFeatureName()
	if _, ok := ctx.Deadline(); !ok && cp.settings.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cp.settings.CallTimeout)
		defer cancel()
	}

	select {
	case cp.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, cp.callContextError(action, ctx)
	}
	defer func() { <-cp.slots }()

	id := uuid.NewString()
	data, err := cp.codec.EncodeCall(id, request)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", action, err)
	}
	pc := &pendingCall{action: action, done: make(chan callOutcome, 1)}

	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil, ErrSessionClosed
	}
	conn := cp.conn
	if conn == nil {
		cp.mu.Unlock()
		return nil, ErrNotConnected
	}
	pc.generation = cp.generation
	cp.pending[id] = pc
	cp.mu.Unlock()

	log := cp.logAction(action)
	if err := conn.WriteMessage(data); err != nil {
		cp.removePending(id)
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	log.Debugf("sent call %s", id)

	select {
	case outcome := <-pc.done:
		return outcome.response, outcome.err
	case <-ctx.Done():
		if _, removed := cp.removePending(id); removed {
			log.Warnf("no answer to call %s", id)
			return nil, cp.callContextError(action, ctx)
		}
		outcome := <-pc.done
		return outcome.response, outcome.err
	}
}

func (cp *ChargePoint) callContextError(action string, ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrCallTimeout, action)
	}
	return ctx.Err()
}

func (cp *ChargePoint) removePending(id string) (*pendingCall, bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	pc, ok := cp.pending[id]
	if ok {
		delete(cp.pending, id)
	}
	return pc, ok
}

// PendingCalls is the number of calls waiting for an answer.
func (cp *ChargePoint) PendingCalls() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.pending)
}

func (cp *ChargePoint) handleResult(frame *codec.Frame) {
	pc, ok := cp.removePending(frame.UniqueID)
	if !ok {
		cp.log.WithField("message", frame.Type.String()).Warnf("discarding answer to unknown or expired call %s", frame.UniqueID)
		return
	}
	if frame.Type == codec.CALL_ERROR {
		pc.resolve(nil, &CallError{
			Action:      pc.action,
			Code:        frame.ErrorCode,
			Description: frame.ErrorDescription,
			Details:     frame.ErrorDetails,
		})
		return
	}
	response, err := cp.codec.DecodeResponse(pc.action, frame.Payload)
	if err != nil {
		pc.resolve(nil, fmt.Errorf("decoding %s response: %w", pc.action, err))
		return
	}
	pc.resolve(response, nil)
}

// Invoke sends request through cp and asserts the type of the answer.
func Invoke[T ocpp.Response](ctx context.Context, cp *ChargePoint, request ocpp.Request) (T, error) {
	var zero T
	response, err := cp.Call(ctx, request)
	if err != nil {
		return zero, err
	}
	typed, ok := response.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected %T answer to %s", response, request.GetFeatureName())
	}
	return typed, nil
}
