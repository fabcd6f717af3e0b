// Package otel provides OpenTelemetry metric exporter bindings for goIdentity counters and
// histograms.
//
// [NewOTelExporter] registers an Int64ObservableCounter for each goIdentity counter. The
// token fetch latency histogram becomes a "_bucket" gauge in seconds, with one point per
// upper bound keyed by an "le" attribute, plus a "_count" gauge. Engines also report
// goidentity_polling_active. A single callback reads [goIdentity.Engine.MetricsSnapshot]
// on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
