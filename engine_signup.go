package goIdentity

import (
	"context"

	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/model"
)

// CreateSignUp describes the createsignup operation and its observable behavior.
//
// CreateSignUp starts a sign-up attempt with the fields in p. Use
// NextSignUpStep on the result to decide what to collect or verify next.
func (e *Engine) CreateSignUp(ctx context.Context, p SignUpParams) (*model.SignUp, error) {
	return flows.RunCreateSignUp(ctx, p, e.flows)
}

// UpdateSignUp adds or replaces fields on a sign-up that is still missing
// requirements.
func (e *Engine) UpdateSignUp(ctx context.Context, signUpID string, p SignUpParams) (*model.SignUp, error) {
	return flows.RunUpdateSignUp(ctx, signUpID, p, e.flows)
}

// PrepareVerification sends a code for the field strategy verifies.
func (e *Engine) PrepareVerification(ctx context.Context, signUpID string, strategy model.Strategy) (*model.SignUp, error) {
	return flows.RunPrepareVerification(ctx, signUpID, strategy, e.flows)
}

func (e *Engine) AttemptVerification(ctx context.Context, signUpID string, strategy model.Strategy, code string) (*model.SignUp, error) {
	return flows.RunAttemptVerification(ctx, signUpID, strategy, code, e.flows)
}

// GetSignUp fetches the attempt from the service. A non-empty nonce binds
// the reload to a completed redirect.
func (e *Engine) GetSignUp(ctx context.Context, signUpID, nonce string) (*model.SignUp, error) {
	return flows.RunGetSignUp(ctx, signUpID, nonce, e.flows)
}

// NextSignUpStep verifies before it collects; with neither left the attempt
// is complete.
func NextSignUpStep(su *model.SignUp) SignUpStep {
	return flows.NextSignUpStep(su)
}
