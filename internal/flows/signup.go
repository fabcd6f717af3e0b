package flows

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"

	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/model"
	"github.com/MrEthical07/goIdentity/transport"
)

const signUpsPath = "/v1/client/sign_ups"

// SignUpParams carries the fields of a create or update call. Empty values
// are not sent.
type SignUpParams struct {
	Strategy                  model.Strategy
	EmailAddress              string
	PhoneNumber               string
	Username                  string
	Password                  string
	FirstName                 string
	LastName                  string
	UnsafeMetadata            map[string]any
	LegalAccepted             *bool
	Ticket                    string
	Token                     string
	RedirectURL               string
	ActionCompleteRedirectURL string
	// Transfer converts the client's transferable sign-in into a sign-up.
	Transfer bool
}

func (p SignUpParams) values() (url.Values, error) {
	v := url.Values{}
	if p.Transfer {
		v.Set("transfer", "true")
	}
	if !p.Strategy.IsZero() {
		v.Set("strategy", p.Strategy.String())
	}
	setIf(v, "email_address", p.EmailAddress)
	setIf(v, "phone_number", p.PhoneNumber)
	setIf(v, "username", p.Username)
	setIf(v, "password", p.Password)
	setIf(v, "first_name", p.FirstName)
	setIf(v, "last_name", p.LastName)
	setIf(v, "ticket", p.Ticket)
	setIf(v, "token", p.Token)
	setIf(v, "redirect_url", p.RedirectURL)
	setIf(v, "action_complete_redirect_url", p.ActionCompleteRedirectURL)
	if p.LegalAccepted != nil {
		v.Set("legal_accepted", strconv.FormatBool(*p.LegalAccepted))
	}
	if len(p.UnsafeMetadata) > 0 {
		raw, err := json.Marshal(p.UnsafeMetadata)
		if err != nil {
			return nil, err
		}
		v.Set("unsafe_metadata", string(raw))
	}
	return v, nil
}

func signUpPath(id, action string) string {
	if action == "" {
		return signUpsPath + "/" + id
	}
	return signUpsPath + "/" + id + "/" + action
}

// StepKind is the next screen of a sign-up.
type StepKind int

const (
	StepComplete StepKind = iota
	StepVerify
	StepCollect
)

// SignUpStep routes a sign-up after create or update.
type SignUpStep struct {
	Kind  StepKind
	Field string
}

// NextSignUpStep verifies before it collects; with neither left the attempt
// is complete.
func NextSignUpStep(su *model.SignUp) SignUpStep {
	if su == nil {
		return SignUpStep{Kind: StepComplete}
	}
	if field := su.FirstFieldToVerify(); field != "" {
		return SignUpStep{Kind: StepVerify, Field: field}
	}
	if field := su.FirstFieldToCollect(); field != "" {
		return SignUpStep{Kind: StepCollect, Field: field}
	}
	return SignUpStep{Kind: StepComplete}
}

// VerificationField maps a code strategy to the sign-up field it verifies.
func VerificationField(strategy model.Strategy) (string, bool) {
	switch strategy.Kind() {
	case model.StrategyEmailCode:
		return model.FieldEmailAddress, true
	case model.StrategyPhoneCode:
		return model.FieldPhoneNumber, true
	}
	return "", false
}

// RunCreateSignUp starts a new sign-up, superseding the held one.
func RunCreateSignUp(ctx context.Context, p SignUpParams, deps Deps) (*model.SignUp, error) {
	deps.normalize()
	params, err := p.values()
	if err != nil {
		return nil, err
	}
	if prev := deps.Store.SignUp(); prev != nil {
		deps.Cooldown.Reset(prev.ID)
	}
	resp, err := deps.Exchange(ctx, transport.Request{
		Method: transport.MethodPost,
		Path:   signUpsPath,
		Params: params,
	})
	if err != nil {
		return nil, err
	}
	su, err := deps.signUpFrom(resp)
	if err != nil {
		return nil, err
	}
	deps.MetricInc(deps.Metrics.SignUpCreated)
	return deps.finishSignUp(su), nil
}

// RunUpdateSignUp patches previously missing fields.
func RunUpdateSignUp(ctx context.Context, id string, p SignUpParams, deps Deps) (*model.SignUp, error) {
	deps.normalize()
	if _, err := deps.guardSignUp(OpUpdateSignUp, id); err != nil {
		return nil, err
	}
	params, err := p.values()
	if err != nil {
		return nil, err
	}
	resp, err := deps.Exchange(ctx, transport.Request{
		Method: transport.MethodPatch,
		Path:   signUpPath(id, ""),
		Params: params,
	})
	if err != nil {
		return nil, err
	}
	su, err := deps.signUpFrom(resp)
	if err != nil {
		return nil, err
	}
	return deps.finishSignUp(su), nil
}

// RunPrepareVerification sends a code to the sign-up's email address or
// phone number. Inside the cooldown a pending verification is not re-sent.
func RunPrepareVerification(ctx context.Context, id string, strategy model.Strategy, deps Deps) (*model.SignUp, error) {
	deps.normalize()
	su, err := deps.guardSignUp(OpPrepareVerification, id)
	if err != nil {
		return nil, err
	}
	field, ok := VerificationField(strategy)
	if !ok {
		return nil, deps.Errors.InvalidFactor
	}

	key := limiters.CooldownKey{AttemptID: id, Strategy: strategy.String(), Target: field}
	if deps.Cooldown.Active(key) && pending(su.Verification(field), strategy, deps.Now()) {
		deps.MetricInc(deps.Metrics.PrepareSuppressed)
		return su, nil
	}

	resp, err := deps.Exchange(ctx, transport.Request{
		Method: transport.MethodPost,
		Path:   signUpPath(id, "prepare_verification"),
		Params: url.Values{"strategy": {strategy.String()}},
	})
	if err != nil {
		return nil, err
	}
	next, err := deps.signUpFrom(resp)
	if err != nil {
		return nil, err
	}
	deps.Cooldown.Mark(key)
	deps.MetricInc(deps.Metrics.FactorPrepared)
	return next, nil
}

// RunAttemptVerification submits the code for the field strategy verifies.
func RunAttemptVerification(ctx context.Context, id string, strategy model.Strategy, code string, deps Deps) (*model.SignUp, error) {
	deps.normalize()
	if _, err := deps.guardSignUp(OpAttemptVerification, id); err != nil {
		return nil, err
	}
	field, ok := VerificationField(strategy)
	if !ok {
		return nil, deps.Errors.InvalidFactor
	}
	resp, err := deps.Exchange(ctx, transport.Request{
		Method: transport.MethodPost,
		Path:   signUpPath(id, "attempt_verification"),
		Params: url.Values{"strategy": {strategy.String()}, "code": {code}},
	})
	if err != nil {
		deps.MetricInc(deps.Metrics.FactorFailed)
		if errors.Is(err, deps.Errors.AttemptExpired) {
			deps.Cooldown.Reset(id)
		}
		return nil, err
	}
	next, err := deps.signUpFrom(resp)
	if err != nil {
		return nil, err
	}
	if v := next.Verification(field); v != nil && v.Status == model.VerificationFailed {
		deps.MetricInc(deps.Metrics.FactorFailed)
	}
	return deps.finishSignUp(next), nil
}

// RunGetSignUp re-fetches a sign-up, passing nonce after a redirect.
func RunGetSignUp(ctx context.Context, id, nonce string, deps Deps) (*model.SignUp, error) {
	deps.normalize()
	params := url.Values{}
	setIf(params, NonceParam, nonce)
	resp, err := deps.Exchange(ctx, transport.Request{
		Method: transport.MethodGet,
		Path:   signUpPath(id, ""),
		Params: params,
	})
	if err != nil {
		return nil, err
	}
	su, err := deps.signUpFrom(resp)
	if err != nil {
		return nil, err
	}
	return deps.finishSignUp(su), nil
}

func (d *Deps) signUpFrom(resp *transport.Response) (*model.SignUp, error) {
	var su model.SignUp
	if err := resp.Decode(&su); err != nil {
		if errors.Is(err, transport.ErrEmptyPayload) && resp.Client != nil && resp.Client.SignUp != nil {
			return resp.Client.SignUp.Clone(), nil
		}
		return nil, err
	}
	if err := su.Validate(); err != nil {
		return nil, err
	}
	if resp.Client == nil {
		d.Store.ReplaceSignUp(&su)
	}
	return &su, nil
}

func (d *Deps) finishSignUp(su *model.SignUp) *model.SignUp {
	if su.IsComplete() {
		d.Cooldown.Reset(su.ID)
		d.MetricInc(d.Metrics.SignUpCompleted)
		d.OnSignUpComplete(su)
	}
	return su
}
