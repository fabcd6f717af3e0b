package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/model"
	"github.com/MrEthical07/goIdentity/platform"
)

// RunOAuthSignIn starts a redirect sign-in, runs the browser ceremony and
// resolves the callback.
func RunOAuthSignIn(ctx context.Context, strategy model.Strategy, redirectURL string, deps Deps) (*model.SignIn, error) {
	deps.normalize()
	if !strategy.IsRedirect() {
		return nil, deps.Errors.InvalidFactor
	}
	if deps.Ceremonies == nil {
		return nil, deps.Errors.CeremonyUnavailable
	}
	si, err := RunCreateSignIn(ctx, SignInCreateParams{Strategy: strategy, RedirectURL: redirectURL}, deps)
	if err != nil {
		return nil, err
	}
	v := si.FirstFactorVerification
	if v == nil || v.ExternalVerificationRedirectURL == "" {
		return nil, deps.Errors.MissingChallenge
	}
	callback, err := deps.Ceremonies.StartOAuthRedirect(ctx, v.ExternalVerificationRedirectURL)
	if err != nil {
		return nil, deps.ceremonyError(err)
	}
	return RunSignInCallback(ctx, callback, deps)
}

// RunOAuthSignUp starts a redirect sign-up and applies the transfer rule to
// the resolved callback.
func RunOAuthSignUp(ctx context.Context, p SignUpParams, deps Deps) (Outcome, error) {
	deps.normalize()
	if !p.Strategy.IsRedirect() {
		return Outcome{}, deps.Errors.InvalidFactor
	}
	if deps.Ceremonies == nil {
		return Outcome{}, deps.Errors.CeremonyUnavailable
	}
	su, err := RunCreateSignUp(ctx, p, deps)
	if err != nil {
		return Outcome{}, err
	}
	v := su.Verification(model.FieldExternalAccount)
	if v == nil || v.ExternalVerificationRedirectURL == "" {
		return Outcome{}, deps.Errors.MissingChallenge
	}
	callback, err := deps.Ceremonies.StartOAuthRedirect(ctx, v.ExternalVerificationRedirectURL)
	if err != nil {
		return Outcome{}, deps.ceremonyError(err)
	}
	return RunSignUpCallback(ctx, callback, deps)
}

// RunIDTokenSignUp obtains an ID token from provider and exchanges it as a
// sign-up, so an existing account resolves through the transfer rule.
func RunIDTokenSignUp(ctx context.Context, provider string, p SignUpParams, deps Deps) (Outcome, error) {
	deps.normalize()
	if deps.Ceremonies == nil {
		return Outcome{}, deps.Errors.CeremonyUnavailable
	}
	token, hints, err := deps.Ceremonies.StartIDTokenCeremony(ctx, provider)
	if err != nil {
		return Outcome{}, deps.ceremonyError(err)
	}
	p.Strategy = model.IDToken(provider)
	p.Token = token
	if p.FirstName == "" {
		p.FirstName = hints.FirstName
	}
	if p.LastName == "" {
		p.LastName = hints.LastName
	}
	su, err := RunCreateSignUp(ctx, p, deps)
	if err != nil {
		return Outcome{}, err
	}
	return RunTransfer(ctx, su, deps)
}

// RunPasskeySignIn starts a passkey sign-in, signs the server challenge on
// the device and submits the credential.
func RunPasskeySignIn(ctx context.Context, deps Deps) (*model.SignIn, error) {
	deps.normalize()
	if deps.Ceremonies == nil {
		return nil, deps.Errors.CeremonyUnavailable
	}
	si, err := RunCreateSignIn(ctx, SignInCreateParams{Strategy: model.Passkey()}, deps)
	if err != nil {
		return nil, err
	}
	v := si.FirstFactorVerification
	if v == nil || v.Nonce == "" {
		return nil, deps.Errors.MissingChallenge
	}
	credential, err := deps.Ceremonies.PerformPasskeyCeremony(ctx, v.Nonce)
	if err != nil {
		return nil, deps.ceremonyError(err)
	}
	return RunAttemptFirstFactor(ctx, si.ID, AttemptFactorParams{
		Strategy:            model.Passkey(),
		PublicKeyCredential: credential,
	}, deps)
}

// ceremonyError keeps cancellation distinguishable and out of failure counts.
func (d *Deps) ceremonyError(err error) error {
	if platform.IsCancelled(err) {
		d.MetricInc(d.Metrics.CeremonyCancelled)
		if d.Errors.UserCancelled == nil || errors.Is(err, d.Errors.UserCancelled) {
			return err
		}
		return fmt.Errorf("%w: %w", d.Errors.UserCancelled, err)
	}
	d.MetricInc(d.Metrics.CeremonyFailed)
	return fmt.Errorf("ceremony failed: %w", err)
}
