package internaldefs

import (
	"math"
	"strconv"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// CounterDef defines a public type used by goIdentity APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
	// Unit is a UCUM annotation naming what is counted, e.g. "{attempt}".
	Unit string
}

// HistogramDef names one latency histogram. Bounds are upper bucket bounds
// in Unit, ascending, ending with +Inf, one per engine bucket.
type HistogramDef struct {
	ID     goIdentity.MetricID
	Name   string
	Help   string
	Unit   string
	Bounds [8]float64
}

// GaugeDef names a value sampled from the engine rather than counted by it.
type GaugeDef struct {
	Name string
	Help string
	Unit string
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: goIdentity.MetricSignInCreated, Name: "goidentity_sign_in_created_total", Help: "Sign-in attempts started.", Unit: "{attempt}"},
	{ID: goIdentity.MetricSignInCompleted, Name: "goidentity_sign_in_completed_total", Help: "Sign-in attempts that produced a session.", Unit: "{attempt}"},
	{ID: goIdentity.MetricSignUpCreated, Name: "goidentity_sign_up_created_total", Help: "Sign-up attempts started.", Unit: "{attempt}"},
	{ID: goIdentity.MetricSignUpCompleted, Name: "goidentity_sign_up_completed_total", Help: "Sign-up attempts that produced a user.", Unit: "{attempt}"},
	{ID: goIdentity.MetricFactorPrepared, Name: "goidentity_factor_prepared_total", Help: "Factor prepares sent to the service.", Unit: "{prepare}"},
	{ID: goIdentity.MetricPrepareSuppressed, Name: "goidentity_prepare_suppressed_total", Help: "Factor prepares answered inside the resend cooldown.", Unit: "{prepare}"},
	{ID: goIdentity.MetricFactorFailed, Name: "goidentity_factor_failed_total", Help: "Rejected factor attempts.", Unit: "{attempt}"},
	{ID: goIdentity.MetricTransferPerformed, Name: "goidentity_transfer_performed_total", Help: "Sign-ups settled as sign-ins for an existing account.", Unit: "{transfer}"},
	{ID: goIdentity.MetricCeremonyCancelled, Name: "goidentity_ceremony_cancelled_total", Help: "Platform ceremonies dismissed by the user.", Unit: "{ceremony}"},
	{ID: goIdentity.MetricCeremonyFailed, Name: "goidentity_ceremony_failed_total", Help: "Platform ceremonies that failed.", Unit: "{ceremony}"},
	{ID: goIdentity.MetricCallbackWithNonce, Name: "goidentity_callback_with_nonce_total", Help: "Redirect callbacks carrying a rotating token nonce.", Unit: "{callback}"},
	{ID: goIdentity.MetricCallbackWithoutNonce, Name: "goidentity_callback_without_nonce_total", Help: "Redirect callbacks resolved by refreshing the client.", Unit: "{callback}"},
	{ID: goIdentity.MetricTokenCacheHit, Name: "goidentity_token_cache_hit_total", Help: "Session token requests served from cache.", Unit: "{request}"},
	{ID: goIdentity.MetricTokenCacheMiss, Name: "goidentity_token_cache_miss_total", Help: "Session token requests that needed a fetch.", Unit: "{request}"},
	{ID: goIdentity.MetricTokenFetchFailure, Name: "goidentity_token_fetch_failure_total", Help: "Failed session token fetches.", Unit: "{request}"},
	{ID: goIdentity.MetricPollTick, Name: "goidentity_poll_tick_total", Help: "Background session refresh ticks.", Unit: "{tick}"},
	{ID: goIdentity.MetricPollFailure, Name: "goidentity_poll_failure_total", Help: "Background refresh ticks that failed transiently.", Unit: "{tick}"},
	{ID: goIdentity.MetricSessionRevoked, Name: "goidentity_session_revoked_total", Help: "Sessions dropped after the service revoked them.", Unit: "{session}"},
	{ID: goIdentity.MetricSignOut, Name: "goidentity_sign_out_total", Help: "Single-session sign-outs.", Unit: "{session}"},
	{ID: goIdentity.MetricSignOutAll, Name: "goidentity_sign_out_all_total", Help: "Sign-out-all operations.", Unit: "{operation}"},
	{ID: goIdentity.MetricSnapshotApplied, Name: "goidentity_snapshot_applied_total", Help: "Client snapshots applied.", Unit: "{snapshot}"},
	{ID: goIdentity.MetricSnapshotStale, Name: "goidentity_snapshot_stale_total", Help: "Client snapshots dropped as older than the held one.", Unit: "{snapshot}"},
	{ID: goIdentity.MetricSnapshotInvalid, Name: "goidentity_snapshot_invalid_total", Help: "Client snapshots dropped for failing validation.", Unit: "{snapshot}"},
	{ID: goIdentity.MetricSnapshotPersistFailure, Name: "goidentity_snapshot_persist_failure_total", Help: "Snapshot writes to secure storage that failed.", Unit: "{write}"},
	{ID: goIdentity.MetricSnapshotPersistCoalesced, Name: "goidentity_snapshot_persist_coalesced_total", Help: "Pending snapshot writes replaced by a newer snapshot.", Unit: "{write}"},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{
		ID:     goIdentity.MetricTokenFetchLatency,
		Name:   "goidentity_token_fetch_latency_seconds",
		Help:   "Session token fetch latency histogram.",
		Unit:   "s",
		Bounds: [8]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, math.Inf(1)},
	},
}

// EventsDropped counts event deliveries lost to full buffers.
var EventsDropped = CounterDef{
	Name: "goidentity_events_dropped_total",
	Help: "Auth event deliveries dropped because a buffer was full.",
	Unit: "{event}",
}

// PollingActive is 1 while the background session refresh loop runs.
var PollingActive = GaugeDef{
	Name: "goidentity_polling_active",
	Help: "Whether the background session refresh loop is running.",
	Unit: "1",
}

// Label formats a bucket bound the way Prometheus writes le values.
func Label(bound float64) string {
	if math.IsInf(bound, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(bound, 'g', -1, 64)
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, zero-filling
// missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
