package goIdentity

import (
	"context"

	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/model"
)

// NeedsTransfer reports whether su's external account belongs to an existing
// user, so the attempt must continue as a sign-in.
func NeedsTransfer(su *model.SignUp) bool {
	return flows.NeedsTransfer(su)
}

// Transfer settles su: a transferable sign-up becomes a sign-in, anything
// else is returned unchanged as a sign-up outcome.
func (e *Engine) Transfer(ctx context.Context, su *model.SignUp) (Outcome, error) {
	return flows.RunTransfer(ctx, su, e.flows)
}

// HandleSignUpCallback describes the handlesignupcallback operation and its observable behavior.
//
// HandleSignUpCallback resolves the app callback of a sign-up redirect. With
// a rotating token nonce the sign-up is reloaded with it; without one the
// client is refreshed. The result is then run through Transfer.
func (e *Engine) HandleSignUpCallback(ctx context.Context, callbackURL string) (Outcome, error) {
	return flows.RunSignUpCallback(ctx, callbackURL, e.flows)
}

// HandleSignInCallback resolves the app callback of a sign-in redirect.
func (e *Engine) HandleSignInCallback(ctx context.Context, callbackURL string) (*model.SignIn, error) {
	return flows.RunSignInCallback(ctx, callbackURL, e.flows)
}

// SignInWithOAuth runs a redirect sign-in with strategy. A cancelled browser
// session returns an error matching ErrUserCancelled.
func (e *Engine) SignInWithOAuth(ctx context.Context, strategy model.Strategy, redirectURL string) (*model.SignIn, error) {
	return flows.RunOAuthSignIn(ctx, strategy, redirectURL, e.flows)
}

// SignUpWithOAuth runs a redirect sign-up. An identity that already has an
// account settles as a sign-in.
func (e *Engine) SignUpWithOAuth(ctx context.Context, p SignUpParams) (Outcome, error) {
	return flows.RunOAuthSignUp(ctx, p, e.flows)
}

// SignUpWithIDToken exchanges a native provider ID token. It always starts as
// a sign-up so an existing account settles through Transfer.
func (e *Engine) SignUpWithIDToken(ctx context.Context, provider string, p SignUpParams) (Outcome, error) {
	return flows.RunIDTokenSignUp(ctx, provider, p, e.flows)
}

// SignInWithPasskey signs the service's challenge with the device passkey.
func (e *Engine) SignInWithPasskey(ctx context.Context) (*model.SignIn, error) {
	return flows.RunPasskeySignIn(ctx, e.flows)
}
