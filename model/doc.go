// Package model defines the value types exchanged with the authentication
// service: strategies, factors, verifications, sign-in and sign-up attempts,
// sessions and the client snapshot that aggregates them.
//
// # Ownership
//
// The snapshot store owns canonical instances. Every type here offers Clone so
// that callers operate on copies and write results back through the store.
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Import goIdentity or any sibling package.
package model
