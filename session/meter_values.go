package session

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

func (cp *ChargePoint) onMeterValues(ctx context.Context, request *core.MeterValuesRequest) (*core.MeterValuesConfirmation, error) {
	now := cp.now()
	connectorID := request.ConnectorId
	transactionID := 0
	if request.TransactionId != nil {
		transactionID = *request.TransactionId
	}

	changed := cp.restoreTransaction(ctx, connectorID)
	active := cp.ActiveTransaction()
	matches := transactionID != 0 && active != nil && active.ID == transactionID

	changed = append(changed, cp.recordSamples(connectorID, request.MeterValue, now)...)

	if matches {
		minutes := int(math.Round(now.Sub(active.StartedAt).Minutes()))
		cp.metrics.Set(connectorID, MetricSessionTime, minutes, UnitMinutes, now)
		changed = append(changed, MetricSessionTime)
		if register, ok := cp.metrics.Get(connectorID, DefaultMeasurand); ok {
			if total, ok := register.Float(); ok {
				cp.metrics.Update(connectorID, MetricSessionEnergy, func(m *Metric) {
					m.Value = total - float64(active.MeterStart)/1000
					m.Unit = UnitKWh
					m.Timestamp = now
					m.Attributes["id_tag"] = active.IDTag
				})
				changed = append(changed, MetricSessionEnergy)
			}
		}
	}
	cp.notify(changed...)
	return core.NewMeterValuesConfirmation(), nil
}

// restoreTransaction adopts the transaction persisted for connectorID when
// the session has none, e.g. after the central system restarted mid-charge.
// The store is asked once per connector.
func (cp *ChargePoint) restoreTransaction(ctx context.Context, connectorID int) []string {
	if cp.store == nil || connectorID == 0 {
		return nil
	}
	cp.mu.Lock()
	c := cp.getConnector(connectorID)
	if cp.activeTx != nil || c.restoreAttempted {
		cp.mu.Unlock()
		return nil
	}
	c.restoreAttempted = true
	cp.mu.Unlock()

	log := cp.logAction(core.MeterValuesFeatureName)
	rec, err := cp.store.LoadTransaction(ctx, cp.id, connectorID)
	if err != nil {
		log.WithError(err).Warn("failed to load persisted transaction")
		return nil
	}
	if rec == nil {
		return nil
	}
	tx := transactionFromRecord(*rec)

	cp.mu.Lock()
	if cp.activeTx != nil {
		cp.mu.Unlock()
		return nil
	}
	cp.activeTx = tx
	cp.getConnector(connectorID).currentTransaction = tx.ID
	cp.mu.Unlock()

	now := cp.now()
	cp.metrics.Set(connectorID, MetricTransactionID, tx.ID, "", now)
	cp.metrics.Set(connectorID, MetricMeterStart, float64(tx.MeterStart)/1000, UnitKWh, now)
	cp.metrics.Set(connectorID, MetricIDTag, tx.IDTag, "", now)
	log.Infof("restored transaction %d on connector %d", tx.ID, connectorID)
	return []string{MetricTransactionID, MetricMeterStart, MetricIDTag}
}

type phaseSample struct {
	phase string
	value float64
}

// recordSamples stores every sampled value of every bucket and returns the
// measurands it touched. Per-phase samples end up in the extra attributes
// and, unless the bucket also carries an unphased sample, their aggregate
// becomes the value.
func (cp *ChargePoint) recordSamples(connectorID int, buckets []types.MeterValue, now time.Time) []string {
	var changed []string
	seen := map[string]bool{}
	touch := func(measurand string) {
		if !seen[measurand] {
			seen[measurand] = true
			changed = append(changed, measurand)
		}
	}

	for _, bucket := range buckets {
		at := now
		if bucket.Timestamp != nil && !bucket.Timestamp.IsZero() {
			at = bucket.Timestamp.Time
		}
		var phasedOrder []string
		phased := map[string][]phaseSample{}
		phasedUnit := map[string]string{}
		unphased := map[string]bool{}

		for _, sample := range bucket.SampledValue {
			measurand := string(sample.Measurand)
			if measurand == "" {
				measurand = DefaultMeasurand
			}
			value, unit := normalize(measurand, parseSample(sample.Value), string(sample.Unit))

			if sample.Phase != "" {
				if _, ok := phased[measurand]; !ok {
					phasedOrder = append(phasedOrder, measurand)
				}
				phased[measurand] = append(phased[measurand], phaseSample{phase: string(sample.Phase), value: value})
				phasedUnit[measurand] = unit
				continue
			}

			unphased[measurand] = true
			location, readingContext := string(sample.Location), string(sample.Context)
			cp.metrics.Update(connectorID, measurand, func(m *Metric) {
				m.Value = value
				m.Unit = unit
				m.Timestamp = at
				if location != "" {
					m.Attributes["location"] = location
				}
				if readingContext != "" {
					m.Attributes["context"] = readingContext
				}
			})
			touch(measurand)
		}

		for _, measurand := range phasedOrder {
			samples := phased[measurand]
			aggregate := aggregatePhases(measurand, samples)
			keepValue := unphased[measurand]
			unit := phasedUnit[measurand]
			cp.metrics.Update(connectorID, measurand, func(m *Metric) {
				for _, s := range samples {
					m.Attributes[s.phase] = s.value
				}
				if !keepValue {
					m.Value = aggregate
					m.Unit = unit
					m.Timestamp = at
				}
			})
			touch(measurand)
		}
	}
	return changed
}

// parseSample reads a sampled value; chargers sometimes send an empty string, which counts as 0.
func parseSample(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}

// normalize converts energy to kWh and power to kW. A missing unit means the
// OCPP default for the measurand (Wh for energy registers, W for power).
func normalize(measurand string, value float64, unit string) (float64, string) {
	if unit == "" {
		switch {
		case strings.HasPrefix(measurand, "Energy.Active"):
			unit = string(types.UnitOfMeasureWh)
		case strings.HasPrefix(measurand, "Power.Active"), measurand == string(types.MeasurandPowerOffered):
			unit = string(types.UnitOfMeasureW)
		}
	}
	switch unit {
	case string(types.UnitOfMeasureWh):
		return value / 1000, UnitKWh
	case string(types.UnitOfMeasureW):
		return value / 1000, UnitKW
	}
	return value, unit
}

// aggregatePhases averages voltages and sums everything else. Neutral
// samples are left out of sums.
func aggregatePhases(measurand string, samples []phaseSample) float64 {
	if measurand == string(types.MeasurandVoltage) {
		total := 0.0
		for _, s := range samples {
			total += s.value
		}
		return math.Round(total/float64(len(samples))*10) / 10
	}
	total := 0.0
	for _, s := range samples {
		if s.phase == string(types.PhaseN) {
			continue
		}
		total += s.value
	}
	return total
}
