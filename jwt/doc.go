// Package jwt inspects and issues session bearer tokens.
//
// Clients cannot verify the service's signature, so [ParseUnverified] only
// decodes claims; it is used to bound cache freshness by the token's own
// expiry. [Issuer] signs HS256 session tokens for in-process test backends and
// verifies them with strict validation.
package jwt
