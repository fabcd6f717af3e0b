// Package session keeps a usable bearer token available for the active
// session.
//
// # Components
//
//   - [TokenCache] stores one token per (session, template, organization) key
//     with a freshness window and shares a single outstanding fetch per key.
//   - [Poller] is a cancelable periodic task that refreshes the active
//     session's token and classifies failures as transient or terminal.
//
// # Architecture boundaries
//
// This package does not talk to the transport or the snapshot store. Callers
// supply the fetch and tick functions and decide what a terminal failure means.
package session
