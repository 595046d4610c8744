// Package otel publishes engine counters through an OpenTelemetry Meter.
//
// [NewOTelExporter] registers one observable counter per engine counter and
// one observable gauge per histogram bucket; a single callback reads the
// engine snapshot on each collection. The caller owns the MeterProvider.
package otel
