// Package otel binds goAuthClient metrics to an OpenTelemetry meter.
//
// [NewOTelExporter] registers one observable counter per client counter and
// gauges for the request latency histogram. A single callback reads one
// snapshot per collection. The caller owns the MeterProvider.
package otel
