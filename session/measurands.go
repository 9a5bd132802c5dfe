package session

import "github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

// Measurands is the list of OCPP 1.6 measurands a charger can be asked to sample.
var Measurands = []string{
	string(types.MeasurandCurrentExport),
	string(types.MeasurandCurrentImport),
	string(types.MeasurandCurrentOffered),
	string(types.MeasurandEnergyActiveExportRegister),
	string(types.MeasurandEnergyActiveImportRegister),
	string(types.MeasurandEnergyReactiveExportRegister),
	string(types.MeasurandEnergyReactiveImportRegister),
	string(types.MeasurandEnergyActiveExportInterval),
	string(types.MeasurandEnergyActiveImportInterval),
	string(types.MeasurandEnergyReactiveExportInterval),
	string(types.MeasurandEnergyReactiveImportInterval),
	string(types.MeasurandFrequency),
	string(types.MeasurandPowerActiveExport),
	string(types.MeasurandPowerActiveImport),
	string(types.MeasurandPowerFactor),
	string(types.MeasurandPowerOffered),
	string(types.MeasurandPowerReactiveExport),
	string(types.MeasurandPowerReactiveImport),
	string(types.MeasurandRPM),
	string(types.MeasurandSoC),
	string(types.MeasurandTemperature),
	string(types.MeasurandVoltage),
}

// DefaultMeasurand is assumed when a sampled value names none.
const DefaultMeasurand = string(types.MeasurandEnergyActiveImportRegister)

// Metrics that are not measurands.
const (
	MetricAvailability       = "Availability"
	MetricStatus             = "Status"
	MetricErrorCode          = "Error.Code"
	MetricStatusConnector    = "Status.Connector"
	MetricErrorCodeConnector = "Error.Code.Connector"
	MetricHeartbeat          = "Heartbeat"
	MetricIDTag              = "ID.Tag"
	MetricStopReason         = "Stop.Reason"
	MetricTransactionID      = "Transaction.Id"
	MetricMeterStart         = "Energy.Meter.Start"
	MetricSessionEnergy      = "Energy.Session"
	MetricSessionTime        = "Time.Session"
	MetricVendor             = "Vendor"
	MetricModel              = "Model"
	MetricSerial             = "Serial"
	MetricFirmwareVersion    = "FW.Version"
	MetricFirmwareStatus     = "FW.Status"
	MetricDiagnosticsStatus  = "Diag.Status"
	MetricFeatures           = "Features"
	MetricConnectors         = "Connectors"
	MetricReconnects         = "Reconnects"
	MetricDataTransfer       = "Data.Transfer"
	MetricDataResponse       = "Data.Response"
	MetricConfigResponse     = "Config.Response"
	MetricSecurityEvent      = "Security.Event"
)

// Units as exposed to the host.
const (
	UnitKWh     = "kWh"
	UnitKW      = "kW"
	UnitMinutes = "min"
)

// flowMeasurands are zeroed when energy stops flowing on a connector.
var flowMeasurands = []string{
	string(types.MeasurandCurrentImport),
	string(types.MeasurandPowerActiveImport),
	string(types.MeasurandPowerReactiveImport),
	string(types.MeasurandCurrentExport),
	string(types.MeasurandPowerActiveExport),
	string(types.MeasurandPowerReactiveExport),
}
