// Package notifier forwards metric changes of charge point sessions to the host.
package notifier

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ha_ocpp/common"
	"ha_ocpp/session"
)

// Notification is one message for the host, published under Topic.
type Notification struct {
	Topic string
	Data  interface{}
}

// MetricSource resolves the current state of a measurand. *centralsystem.Registry implements it.
type MetricSource interface {
	LookupMetric(identity, measurand string) (session.Metric, bool)
}

func MetricTopic(identity string) string {
	return "ocpp." + identity + ".metric"
}

// MetricPublisher is a session.Observer that queues a MetricEvent for every
// change. It never blocks the session: when the queue is full the event is
// dropped.
type MetricPublisher struct {
	notifications chan Notification
	log           logrus.FieldLogger

	mu     sync.RWMutex
	source MetricSource
}

func NewMetricPublisher(buffer int, logger logrus.FieldLogger) *MetricPublisher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MetricPublisher{
		notifications: make(chan Notification, buffer),
		log:           logger,
	}
}

// Bind sets where values are read from. Changes seen before Bind are dropped.
func (p *MetricPublisher) Bind(source MetricSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = source
}

func (p *MetricPublisher) NotificationChannel() chan Notification {
	return p.notifications
}

func (p *MetricPublisher) NotifyMetricChanged(identity, measurand string) {
	p.mu.RLock()
	source := p.source
	p.mu.RUnlock()
	if source == nil {
		return
	}
	metric, ok := source.LookupMetric(identity, measurand)
	if !ok {
		return
	}
	event := common.MetricEvent{
		ChargePointId: identity,
		Measurand:     measurand,
		Value:         metric.Value,
		Unit:          metric.Unit,
		Attributes:    metric.Attributes,
	}
	if !metric.Timestamp.IsZero() {
		event.Timestamp = metric.Timestamp.UTC().Format(time.RFC3339)
	}
	select {
	case p.notifications <- Notification{Topic: MetricTopic(identity), Data: event}:
	default:
		p.log.WithFields(logrus.Fields{"client": identity, "message": measurand}).Warn("notification queue full, dropping metric update")
	}
}
