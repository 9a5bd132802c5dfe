// Package session implements the per-charger side of an OCPP 1.6-J central
// system: request/response correlation over one socket, inbound dispatch, and
// the state a charge point accumulates across reconnects.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/sirupsen/logrus"

	"ha_ocpp/codec"
	"ha_ocpp/storage"
)

// Observer is told about every metric a session changes.
type Observer interface {
	NotifyMetricChanged(identity, measurand string)
}

type ObserverFunc func(identity, measurand string)

func (f ObserverFunc) NotifyMetricChanged(identity, measurand string) {
	f(identity, measurand)
}

// Config carries the collaborators of a ChargePoint. Only Codec is required.
type Config struct {
	Codec    *codec.Codec
	Settings Settings
	Observer Observer
	Store    storage.Store
	Logger   logrus.FieldLogger

	// TransactionIDs allocates ids for accepted StartTransaction requests.
	// Defaults to UnixTransactionIDs.
	TransactionIDs func() int
	Clock          func() time.Time
}

// ChargePoint is the session of one charge point identity. It outlives the
// connections that serve it.
type ChargePoint struct {
	id               string
	settings         Settings
	codec            *codec.Codec
	observer         Observer
	store            storage.Store
	log              logrus.FieldLogger
	handlers         map[string]handler
	newTransactionID func() int
	now              func() time.Time
	slots            chan struct{}
	metrics          *Metrics

	mu              sync.Mutex
	conn            Connection
	generation      uint64
	served          bool
	closed          bool
	booted          bool
	status          Status
	features        Profiles
	connectors      map[int]*connector
	activeTx        *Transaction
	pending         map[string]*pendingCall
	reconnects      int
	requiresReboot  bool
	measurands      []string
	cancelDiscovery context.CancelFunc
}

func New(id string, config Config) *ChargePoint {
	if config.Codec == nil {
		config.Codec = codec.New(true)
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.TransactionIDs == nil {
		config.TransactionIDs = UnixTransactionIDs
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Settings.MaxPendingCalls <= 0 {
		config.Settings.MaxPendingCalls = DefaultSettings().MaxPendingCalls
	}
	cp := &ChargePoint{
		id:               id,
		settings:         config.Settings,
		codec:            config.Codec,
		observer:         config.Observer,
		store:            config.Store,
		log:              config.Logger.WithField("client", id),
		newTransactionID: config.TransactionIDs,
		now:              config.Clock,
		slots:            make(chan struct{}, config.Settings.MaxPendingCalls),
		metrics:          NewMetrics(),
		status:           StatusUnavailable,
		connectors:       map[int]*connector{},
		pending:          map[string]*pendingCall{},
	}
	cp.handlers = cp.dispatchTable()
	cp.metrics.Set(0, MetricAvailability, string(StatusUnavailable), "", cp.now())
	return cp
}

func (cp *ChargePoint) ID() string {
	return cp.id
}

func (cp *ChargePoint) Settings() Settings {
	return cp.settings
}

func (cp *ChargePoint) Metrics() *Metrics {
	return cp.metrics
}

func (cp *ChargePoint) Status() Status {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.status
}

func (cp *ChargePoint) Connected() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.conn != nil
}

// Booted reports whether an accepted BootNotification was ever received.
func (cp *ChargePoint) Booted() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.booted
}

func (cp *ChargePoint) SupportedFeatures() Profiles {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.features
}

// ActiveTransaction returns a copy of the open transaction, or nil.
func (cp *ChargePoint) ActiveTransaction() *Transaction {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.activeTx == nil {
		return nil
	}
	tx := *cp.activeTx
	return &tx
}

func (cp *ChargePoint) Reconnects() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.reconnects
}

// ResetReconnects zeroes the reconnect counter, used after a deliberate reset.
func (cp *ChargePoint) ResetReconnects() {
	cp.mu.Lock()
	cp.reconnects = 0
	cp.mu.Unlock()
	cp.metrics.Set(0, MetricReconnects, 0, "", cp.now())
	cp.notify(MetricReconnects)
}

// RequiresReboot reports whether the charger asked for a reboot to apply a configuration change.
func (cp *ChargePoint) RequiresReboot() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.requiresReboot
}

// Serve binds conn to the session and runs the receive loop until the
// connection fails, ctx is cancelled or a newer connection supersedes it.
// A previous connection is closed first. State other than the connection is
// kept across calls.
func (cp *ChargePoint) Serve(ctx context.Context, conn Connection) error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		conn.Close()
		return ErrSessionClosed
	}
	previous := cp.conn
	reconnect := cp.served
	cp.served = true
	cp.generation++
	generation := cp.generation
	cp.conn = conn
	if reconnect {
		cp.reconnects++
	}
	reconnects := cp.reconnects
	resync := reconnect && cp.booted && cp.features.Has(ProfileRemoteTrigger)
	cp.mu.Unlock()

	log := cp.log.WithField("remote", conn.RemoteAddr())
	if previous != nil {
		log.Info("closing superseded connection")
		previous.Close()
	}
	log.Info("charge point connected")
	if reconnect {
		cp.metrics.Set(0, MetricReconnects, reconnects, "", cp.now())
		cp.notify(MetricReconnects)
	}
	cp.refreshStatus()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(loopCtx, func() { conn.Close() })
	defer stop()

	if resync {
		go cp.TriggerStatusNotifications(loopCtx)
	}

	err := cp.receive(loopCtx, conn)
	if !cp.isCurrent(generation) {
		err = nil
	}
	cp.release(generation)
	conn.Close()

	if err != nil {
		log.WithError(err).Warn("charge point disconnected")
	} else {
		log.Info("charge point disconnected")
	}
	return err
}

func (cp *ChargePoint) receive(ctx context.Context, conn Connection) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		cp.handleMessage(ctx, conn, data)
	}
}

func (cp *ChargePoint) isCurrent(generation uint64) bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.generation == generation && cp.conn != nil
}

// release detaches the connection of the given generation and fails the calls sent over it.
func (cp *ChargePoint) release(generation uint64) {
	cp.mu.Lock()
	current := cp.generation == generation && cp.conn != nil
	if current {
		cp.conn = nil
	}
	var failed []*pendingCall
	for id, pc := range cp.pending {
		if pc.generation == generation {
			delete(cp.pending, id)
			failed = append(failed, pc)
		}
	}
	cp.mu.Unlock()

	for _, pc := range failed {
		pc.resolve(nil, ErrConnectionLost)
	}
	if current {
		cp.refreshStatus()
	}
}

// Close ends the session for good: pending calls fail with ErrSessionClosed
// and the current connection is closed.
func (cp *ChargePoint) Close() error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil
	}
	cp.closed = true
	conn := cp.conn
	cp.conn = nil
	pending := cp.pending
	cp.pending = map[string]*pendingCall{}
	cancel := cp.cancelDiscovery
	cp.cancelDiscovery = nil
	cp.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, pc := range pending {
		pc.resolve(nil, ErrSessionClosed)
	}
	cp.refreshStatus()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (cp *ChargePoint) deriveStatusLocked() Status {
	if cp.conn == nil || !cp.booted {
		return StatusUnavailable
	}
	for _, c := range cp.connectors {
		if c.status == core.ChargePointStatusFaulted {
			return StatusFaulted
		}
	}
	if c, ok := cp.connectors[0]; ok && c.status == core.ChargePointStatusUnavailable {
		return StatusUnavailable
	}
	return StatusAvailable
}

func (cp *ChargePoint) refreshStatus() {
	cp.mu.Lock()
	status := cp.deriveStatusLocked()
	changed := status != cp.status
	cp.status = status
	cp.mu.Unlock()

	if changed {
		cp.log.Infof("status changed to %s", status)
		cp.metrics.Set(0, MetricAvailability, string(status), "", cp.now())
		cp.notify(MetricAvailability)
	}
}

func (cp *ChargePoint) notify(measurands ...string) {
	if cp.observer == nil {
		return
	}
	for _, measurand := range measurands {
		cp.observer.NotifyMetricChanged(cp.id, measurand)
	}
}

func (cp *ChargePoint) logAction(action string) logrus.FieldLogger {
	return cp.log.WithField("message", action)
}
