// Package mockapi is an in-memory authentication service that implements
// transport.Transport. It keeps one device client, piggybacks the updated
// client on every attempt and session response, and issues HS256 session
// tokens. [Ceremonies] plays the browser and device side of OAuth, ID-token
// and passkey ceremonies against the same server.
//
// It backs the engine tests and cmd/goidentity-loadtest.
package mockapi
