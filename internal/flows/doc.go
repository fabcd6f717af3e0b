// Package flows contains the orchestrators behind every Engine sign-in,
// sign-up and transfer operation.
//
// Each flow function (RunCreateSignIn, RunAttemptFirstFactor, RunTransfer,
// etc.) accepts a Deps value and returns the updated attempt. Decisions that
// need no I/O (status guards, factor selection, sign-up navigation, the
// transfer rule) are plain functions so they can be tested exhaustively.
//
// # Architecture boundaries
//
// Flows build requests and interpret responses. Sending them, applying the
// piggybacked client and classifying failures belong to the Exchange
// supplied by the Engine. Flows never hold state between calls.
//
// # What this package must NOT do
//
//   - Import goIdentity (to avoid import cycles).
//   - Write the client snapshot except through Deps.Store.
//   - Perform I/O other than through Deps.
package flows
