// Package storage persists the client snapshot across restarts.
//
// A SecureStorage holds opaque byte values under string keys, each stamped
// with a version. Save refuses to overwrite a value carrying a newer
// version, so several processes sharing one backend can never roll the
// persisted snapshot back.
//
// Three implementations are provided: Memory for tests and ephemeral
// clients, Redis for shared deployments, and Sealed, which wraps any
// SecureStorage with XChaCha20-Poly1305 so the backend never sees plaintext
// session material.
package storage
