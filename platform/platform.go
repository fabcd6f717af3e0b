// Package platform defines the native credential ceremonies the engine drives:
// browser OAuth sessions, ID-token providers and passkey prompts. Each is a
// single-shot call that resolves or fails; user cancellation is reported with
// ErrCancelled so it is never mistaken for a retryable failure.
package platform

import (
	"context"
	"errors"
)

// ErrCancelled is returned (or wrapped) by a ceremony the user dismissed.
var ErrCancelled = errors.New("ceremony cancelled by user")

// ProfileHints carries optional profile data some ID-token providers return
// alongside the token (e.g. Apple only sends names on first authorisation).
type ProfileHints struct {
	FirstName string
	LastName  string
	Email     string
}

// Ceremonies is implemented by the host platform.
type Ceremonies interface {
	// StartOAuthRedirect opens redirectURL and returns the callback URL the
	// provider redirected back to.
	StartOAuthRedirect(ctx context.Context, redirectURL string) (callbackURL string, err error)
	// StartIDTokenCeremony asks provider for an ID token.
	StartIDTokenCeremony(ctx context.Context, provider string) (idToken string, hints ProfileHints, err error)
	// PerformPasskeyCeremony signs challenge and returns the serialized public key credential.
	PerformPasskeyCeremony(ctx context.Context, challenge string) (publicKeyCredential string, err error)
}

// IsCancelled reports whether err is a user cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
