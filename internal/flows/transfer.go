package flows

import (
	"context"
	"net/url"

	"github.com/MrEthical07/goIdentity/model"
)

// Outcome is the result of a flow that may end as either attempt. Exactly
// one field is set.
type Outcome struct {
	SignIn *model.SignIn
	SignUp *model.SignUp
}

func (o Outcome) IsSignIn() bool { return o.SignIn != nil }

// NeedsTransfer reports whether the server matched the sign-up's external
// account to an existing user.
func NeedsTransfer(su *model.SignUp) bool {
	v := su.Verification(model.FieldExternalAccount)
	return v != nil && v.Status == model.VerificationTransferable
}

// RunTransfer resolves a sign-up exchange. A transferable external account
// becomes a new transfer sign-in; anything else stays a sign-up.
func RunTransfer(ctx context.Context, su *model.SignUp, deps Deps) (Outcome, error) {
	deps.normalize()
	if !NeedsTransfer(su) {
		return Outcome{SignUp: su}, nil
	}
	si, err := RunCreateSignIn(ctx, SignInCreateParams{Strategy: model.Transfer()}, deps)
	if err != nil {
		return Outcome{}, err
	}
	deps.MetricInc(deps.Metrics.TransferPerformed)
	return Outcome{SignIn: si}, nil
}

// NonceFromCallback extracts the rotating token nonce from a redirect
// callback URL. A callback without one yields "".
func NonceFromCallback(callbackURL string) (string, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", err
	}
	return u.Query().Get(NonceParam), nil
}

// RunSignUpCallback resolves a sign-up redirect. With a nonce the held
// sign-up is reloaded with it; without one the client is re-fetched and its
// sign-up evaluated directly.
func RunSignUpCallback(ctx context.Context, callbackURL string, deps Deps) (Outcome, error) {
	deps.normalize()
	nonce, err := NonceFromCallback(callbackURL)
	if err != nil {
		return Outcome{}, err
	}

	var su *model.SignUp
	if nonce != "" {
		held := deps.Store.SignUp()
		if held == nil {
			return Outcome{}, deps.Errors.AttemptNotFound
		}
		deps.MetricInc(deps.Metrics.CallbackWithNonce)
		su, err = RunGetSignUp(ctx, held.ID, nonce, deps)
		if err != nil {
			return Outcome{}, err
		}
	} else {
		deps.MetricInc(deps.Metrics.CallbackNoNonce)
		client, err := deps.Fetch(ctx)
		if err != nil {
			return Outcome{}, err
		}
		if client == nil || client.SignUp == nil {
			return Outcome{}, deps.Errors.AttemptNotFound
		}
		su = deps.finishSignUp(client.SignUp.Clone())
	}
	return RunTransfer(ctx, su, deps)
}

// RunSignInCallback resolves a sign-in redirect by reloading the held
// sign-in, with the callback's nonce when it has one.
func RunSignInCallback(ctx context.Context, callbackURL string, deps Deps) (*model.SignIn, error) {
	deps.normalize()
	nonce, err := NonceFromCallback(callbackURL)
	if err != nil {
		return nil, err
	}
	held := deps.Store.SignIn()
	if held == nil {
		return nil, deps.Errors.AttemptNotFound
	}
	if nonce != "" {
		deps.MetricInc(deps.Metrics.CallbackWithNonce)
	} else {
		deps.MetricInc(deps.Metrics.CallbackNoNonce)
	}
	return RunReloadSignIn(ctx, held.ID, nonce, deps)
}
