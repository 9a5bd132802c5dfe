package session

import (
	"sort"
	"sync"
	"time"
)

// Metric is the last known value of a measurand on one connector.
type Metric struct {
	Value      interface{}
	Unit       string
	Attributes map[string]interface{}
	Timestamp  time.Time
}

func (m Metric) copy() Metric {
	attrs := make(map[string]interface{}, len(m.Attributes))
	for k, v := range m.Attributes {
		attrs[k] = v
	}
	m.Attributes = attrs
	return m
}

// Float returns the value as a float64 when it is numeric.
func (m Metric) Float() (float64, bool) {
	switch v := m.Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Metrics holds the metric table of a charge point, per connector. Connector 0
// is the charge point itself.
type Metrics struct {
	mu     sync.RWMutex
	values map[int]map[string]*Metric
}

func NewMetrics() *Metrics {
	return &Metrics{values: map[int]map[string]*Metric{}}
}

func (m *Metrics) entry(connector int, measurand string) *Metric {
	byName, ok := m.values[connector]
	if !ok {
		byName = map[string]*Metric{}
		m.values[connector] = byName
	}
	metric, ok := byName[measurand]
	if !ok {
		metric = &Metric{Attributes: map[string]interface{}{}}
		byName[measurand] = metric
	}
	return metric
}

// Set replaces value and unit, keeping the extra attributes already recorded.
func (m *Metrics) Set(connector int, measurand string, value interface{}, unit string, at time.Time) {
	m.Update(connector, measurand, func(metric *Metric) {
		metric.Value = value
		metric.Unit = unit
		metric.Timestamp = at
	})
}

// Update runs fn on the metric under the write lock, creating it if needed.
func (m *Metrics) Update(connector int, measurand string, fn func(*Metric)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.entry(connector, measurand))
}

// Zero sets the value of an existing metric to 0. Missing metrics stay missing.
func (m *Metrics) Zero(connector int, measurand string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric, ok := m.values[connector][measurand]
	if !ok {
		return false
	}
	metric.Value = 0.0
	metric.Timestamp = at
	return true
}

func (m *Metrics) Get(connector int, measurand string) (Metric, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metric, ok := m.values[connector][measurand]
	if !ok {
		return Metric{}, false
	}
	return metric.copy(), true
}

// Lookup finds measurand on connector 0 first and then on the other
// connectors in ascending order.
func (m *Metrics) Lookup(measurand string) (Metric, bool) {
	for _, connector := range m.Connectors() {
		if metric, ok := m.Get(connector, measurand); ok && metric.Value != nil {
			return metric, true
		}
	}
	return Metric{}, false
}

// Connectors lists the connectors that have at least one metric, ascending.
func (m *Metrics) Connectors() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	connectors := make([]int, 0, len(m.values))
	for connector := range m.values {
		connectors = append(connectors, connector)
	}
	sort.Ints(connectors)
	return connectors
}

// Snapshot returns a deep copy of the whole table.
func (m *Metrics) Snapshot() map[int]map[string]Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]map[string]Metric, len(m.values))
	for connector, byName := range m.values {
		copied := make(map[string]Metric, len(byName))
		for name, metric := range byName {
			copied[name] = metric.copy()
		}
		out[connector] = copied
	}
	return out
}
