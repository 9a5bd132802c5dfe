// Package centralsystem accepts charge point connections and keeps one
// session per charge point identity.
package centralsystem

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"ha_ocpp/session"
)

// SessionFactory builds the session for an identity seen for the first time.
type SessionFactory func(identity string) *session.ChargePoint

// Registry maps charge point identities to their sessions. Sessions live
// until Close, whatever happens to their connections.
type Registry struct {
	newSession SessionFactory
	log        logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*session.ChargePoint
	closed   bool
}

func NewRegistry(factory SessionFactory, logger logrus.FieldLogger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		newSession: factory,
		log:        logger,
		sessions:   map[string]*session.ChargePoint{},
	}
}

// OnConnect binds conn to the session of identity, creating it if needed,
// and serves it. It blocks for the lifetime of the connection.
func (r *Registry) OnConnect(ctx context.Context, identity string, conn session.Connection) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return session.ErrSessionClosed
	}
	cp, ok := r.sessions[identity]
	if !ok {
		cp = r.newSession(identity)
		r.sessions[identity] = cp
		r.log.WithField("client", identity).Info("new charge point connected")
	} else {
		r.log.WithField("client", identity).Info("charge point reconnected")
	}
	r.mu.Unlock()

	return cp.Serve(ctx, conn)
}

func (r *Registry) Get(identity string) (*session.ChargePoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.sessions[identity]
	return cp, ok
}

// Identities lists every known identity, sorted.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close ends every session. Pending calls fail with session.ErrSessionClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := make([]*session.ChargePoint, 0, len(r.sessions))
	for _, cp := range r.sessions {
		sessions = append(sessions, cp)
	}
	r.mu.Unlock()

	for _, cp := range sessions {
		if err := cp.Close(); err != nil {
			r.log.WithField("client", cp.ID()).WithError(err).Warn("failed to close connection")
		}
	}
	return nil
}

// ------------- Host read API -------------

// Metric returns the value of measurand, looked up on the charge point first
// and then on its connectors. Unknown identities and measurands yield nil.
func (r *Registry) Metric(identity, measurand string) interface{} {
	if m, ok := r.LookupMetric(identity, measurand); ok {
		return m.Value
	}
	return nil
}

func (r *Registry) Unit(identity, measurand string) string {
	if m, ok := r.LookupMetric(identity, measurand); ok {
		return m.Unit
	}
	return ""
}

func (r *Registry) ExtraAttributes(identity, measurand string) map[string]interface{} {
	if m, ok := r.LookupMetric(identity, measurand); ok {
		return m.Attributes
	}
	return nil
}

// ConnectorMetric returns measurand as recorded for one connector.
func (r *Registry) ConnectorMetric(identity string, connector int, measurand string) (session.Metric, bool) {
	cp, ok := r.Get(identity)
	if !ok {
		return session.Metric{}, false
	}
	return cp.Metrics().Get(connector, measurand)
}

func (r *Registry) Available(identity string) bool {
	cp, ok := r.Get(identity)
	return ok && cp.Status() == session.StatusAvailable
}

func (r *Registry) SupportedFeatures(identity string) session.Profiles {
	cp, ok := r.Get(identity)
	if !ok {
		return 0
	}
	return cp.SupportedFeatures()
}

// LookupMetric is Metric with the unit, attributes and timestamp.
func (r *Registry) LookupMetric(identity, measurand string) (session.Metric, bool) {
	cp, ok := r.Get(identity)
	if !ok {
		return session.Metric{}, false
	}
	return cp.Metrics().Lookup(measurand)
}
