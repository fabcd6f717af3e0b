// Package goIdentity is the client-side identity engine for apps that sign
// users in against a hosted authentication service.
//
// It drives sign-in and sign-up attempts through their state machines,
// reconciles OAuth and ID-token results into the right sign-in or sign-up
// outcome, keeps the latest client snapshot returned by the service, and
// caches short-lived session tokens with a background refresh loop.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goIdentity is the public surface. It exposes [Engine], [Builder], [Config],
// errors and events. Flow orchestration, the snapshot store, the prepare
// cooldown and event dispatch live under internal/ and are never exported.
// The wire boundary is [transport.Transport]; device ceremonies are
// [platform.Ceremonies]; persistence is [storage.SecureStorage].
//
// # What this package must NOT do
//
//   - Implement HTTP. Requests leave through the caller's Transport.
//   - Verify token signatures. Tokens are only decoded to bound cache lifetime.
//   - Import any sub-package that re-imports goIdentity (no import cycles).
//
// # Snapshot contract
//
// Every response may carry an updated client snapshot. The engine applies it
// before returning, on success and on API errors, and a snapshot older than
// the one held is dropped.
package goIdentity
