// Package prometheus renders goIdentity metrics in Prometheus text format.
//
// [NewPrometheusExporter] accepts a [goIdentity.Engine] and exposes an [http.Handler]
// serving every counter plus the token fetch latency histogram. Counter names are
// prefixed goidentity_*_total; the histogram is goidentity_token_fetch_latency_seconds.
// The engine keeps bucket counts only, so the histogram's _sum is estimated from bucket
// bounds. Engines also export the goidentity_polling_active gauge.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
