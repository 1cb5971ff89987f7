// Package otel publishes goIdentity engine metrics through an OpenTelemetry
// meter.
//
// New registers an Int64ObservableCounter per engine counter and one gauge
// per cumulative histogram bucket. A single callback reads the engine
// snapshot at collection time. The caller owns the MeterProvider.
package otel
