package goIdentity

import (
	"context"

	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/model"
)

// CreateSignIn describes the createsignin operation and its observable behavior.
//
// CreateSignIn starts a sign-in attempt. The returned attempt is also held by
// the client snapshot. A Transfer strategy converts the client's transferable
// sign-up into a sign-in.
func (e *Engine) CreateSignIn(ctx context.Context, p SignInCreateParams) (*model.SignIn, error) {
	return flows.RunCreateSignIn(ctx, p, e.flows)
}

// PrepareFirstFactor sends or starts the first factor named by p. A repeat
// for the same factor and target inside the cooldown window returns the
// held attempt without contacting the service.
func (e *Engine) PrepareFirstFactor(ctx context.Context, signInID string, p PrepareFactorParams) (*model.SignIn, error) {
	return flows.RunPrepareFirstFactor(ctx, signInID, p, e.flows)
}

// AttemptFirstFactor submits the user's response to the first factor.
func (e *Engine) AttemptFirstFactor(ctx context.Context, signInID string, p AttemptFactorParams) (*model.SignIn, error) {
	return flows.RunAttemptFirstFactor(ctx, signInID, p, e.flows)
}

// PrepareSecondFactor describes the preparesecondfactor operation and its observable behavior.
//
// PrepareSecondFactor is only permitted once the attempt needs a second factor.
func (e *Engine) PrepareSecondFactor(ctx context.Context, signInID string, p PrepareFactorParams) (*model.SignIn, error) {
	return flows.RunPrepareSecondFactor(ctx, signInID, p, e.flows)
}

func (e *Engine) AttemptSecondFactor(ctx context.Context, signInID string, p AttemptFactorParams) (*model.SignIn, error) {
	return flows.RunAttemptSecondFactor(ctx, signInID, p, e.flows)
}

// ResetPassword sets a new password once a reset code was verified.
func (e *Engine) ResetPassword(ctx context.Context, signInID string, p ResetPasswordParams) (*model.SignIn, error) {
	return flows.RunResetPassword(ctx, signInID, p, e.flows)
}

// ReloadSignIn fetches the attempt from the service. A non-empty nonce binds
// the reload to a completed redirect.
func (e *Engine) ReloadSignIn(ctx context.Context, signInID, nonce string) (*model.SignIn, error) {
	return flows.RunReloadSignIn(ctx, signInID, nonce, e.flows)
}

// BeginFirstFactor selects the first factor by policy and prepares it when
// the strategy needs a prepare step.
func (e *Engine) BeginFirstFactor(ctx context.Context, signInID string) (model.Factor, *model.SignIn, error) {
	return flows.RunBeginFirstFactor(ctx, signInID, e.flows)
}

// BeginSecondFactor is the second-factor counterpart of BeginFirstFactor.
func (e *Engine) BeginSecondFactor(ctx context.Context, signInID string) (model.Factor, *model.SignIn, error) {
	return flows.RunBeginSecondFactor(ctx, signInID, e.flows)
}

// SelectFirstFactor reports the factor the configured policy would start si with.
func (e *Engine) SelectFirstFactor(si *model.SignIn) (model.Factor, bool) {
	return flows.SelectFirstFactor(si, e.flows.Policy)
}

// SelectSecondFactor reports the second factor the configured policy would use.
func (e *Engine) SelectSecondFactor(si *model.SignIn) (model.Factor, bool) {
	return flows.SelectSecondFactor(si, e.flows.Policy)
}
