// Package snapshot holds the client snapshot store: the single source of truth
// for the current sign-in attempt, sign-up attempt, session list and active
// session id.
//
// # Architecture boundaries
//
// The server snapshot is authoritative, so the store replaces its value
// wholesale and never merges. Stale snapshots (older updated_at, also compared
// against the last cleared snapshot) are dropped so
// out-of-order completions cannot regress state. Dependents learn about active
// session transitions through [Change] notifications.
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Import goIdentity or any transport package.
package snapshot
