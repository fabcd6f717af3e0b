// Package middleware adapts session tokens to net/http on both sides of a
// request.
//
// # Outgoing
//
// [BearerTransport] asks a [TokenSource] (usually *goIdentity.Engine) for the
// active session token and sets it as the Authorization header. The engine's
// token cache means most requests do not reach the auth service.
//
// # Incoming
//
//   - [Guard] verifies the bearer token and attaches its claims.
//   - [RequireTemplate] additionally requires a named token template.
//
// Verified claims are read back with [ClaimsFromContext]. Verification is
// delegated to a [Verifier]; this package never checks signatures itself.
package middleware
