package flows

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/model"
	"github.com/MrEthical07/goIdentity/transport"
)

const (
	signInsPath = "/v1/client/sign_ins"
	// NonceParam carries the rotating token nonce on redirect callbacks and reloads.
	NonceParam = "rotating_token_nonce"
)

// SignInCreateParams starts a sign-in. A Transfer strategy converts the
// client's transferable sign-up into a sign-in.
type SignInCreateParams struct {
	Identifier                string
	Strategy                  model.Strategy
	Password                  string
	Ticket                    string
	Token                     string
	RedirectURL               string
	ActionCompleteRedirectURL string
}

func (p SignInCreateParams) values() url.Values {
	v := url.Values{}
	if p.Strategy.Kind() == model.StrategyTransfer {
		v.Set("transfer", "true")
		return v
	}
	setIf(v, "identifier", p.Identifier)
	if !p.Strategy.IsZero() {
		v.Set("strategy", p.Strategy.String())
	}
	setIf(v, "password", p.Password)
	setIf(v, "ticket", p.Ticket)
	setIf(v, "token", p.Token)
	setIf(v, "redirect_url", p.RedirectURL)
	setIf(v, "action_complete_redirect_url", p.ActionCompleteRedirectURL)
	return v
}

// PrepareFactorParams selects the factor to prepare. EmailAddressID or
// PhoneNumberID pick one of several factors sharing a strategy.
type PrepareFactorParams struct {
	Strategy       model.Strategy
	EmailAddressID string
	PhoneNumberID  string
	RedirectURL    string
}

func (p PrepareFactorParams) target() string {
	if p.EmailAddressID != "" {
		return p.EmailAddressID
	}
	return p.PhoneNumberID
}

// AttemptFactorParams carries the user's response to a prepared factor.
type AttemptFactorParams struct {
	Strategy            model.Strategy
	Code                string
	Password            string
	PublicKeyCredential string
	Token               string
}

func (p AttemptFactorParams) values() url.Values {
	v := url.Values{"strategy": {p.Strategy.String()}}
	setIf(v, "code", p.Code)
	setIf(v, "password", p.Password)
	setIf(v, "public_key_credential", p.PublicKeyCredential)
	setIf(v, "token", p.Token)
	return v
}

// ResetPasswordParams sets the new password of a needs_new_password sign-in.
type ResetPasswordParams struct {
	Password               string
	SignOutOfOtherSessions bool
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func signInPath(id, action string) string {
	if action == "" {
		return signInsPath + "/" + id
	}
	return signInsPath + "/" + id + "/" + action
}

// RunCreateSignIn starts a new sign-in, superseding the held one.
func RunCreateSignIn(ctx context.Context, p SignInCreateParams, deps Deps) (*model.SignIn, error) {
	deps.normalize()
	if prev := deps.Store.SignIn(); prev != nil {
		deps.Cooldown.Reset(prev.ID)
	}

	resp, err := deps.Exchange(ctx, transport.Request{
		Method: transport.MethodPost,
		Path:   signInsPath,
		Params: p.values(),
	})
	if err != nil {
		return nil, err
	}
	si, err := deps.signInFrom(resp)
	if err != nil {
		return nil, err
	}
	deps.MetricInc(deps.Metrics.SignInCreated)
	return deps.finishSignIn(si), nil
}

// RunPrepareFirstFactor delivers a code or produces a redirect URL for one
// supported first factor. A code prepared for the same target inside the
// cooldown window is not re-sent while its verification is still pending.
func RunPrepareFirstFactor(ctx context.Context, id string, p PrepareFactorParams, deps Deps) (*model.SignIn, error) {
	deps.normalize()
	si, err := deps.guardSignIn(OpPrepareFirstFactor, id)
	if err != nil {
		return nil, err
	}
	factor, ok := matchFactor(si.SupportedFirstFactors, p.Strategy, p.target())
	if !ok {
		return nil, deps.Errors.InvalidFactor
	}
	return deps.prepare(ctx, si, factor, p.RedirectURL, si.FirstFactorVerification, "prepare_first_factor")
}

// RunAttemptFirstFactor verifies the user's response to a first factor.
func RunAttemptFirstFactor(ctx context.Context, id string, p AttemptFactorParams, deps Deps) (*model.SignIn, error) {
	deps.normalize()
	si, err := deps.guardSignIn(OpAttemptFirstFactor, id)
	if err != nil {
		return nil, err
	}
	if _, ok := si.FirstFactor(p.Strategy); !ok {
		return nil, deps.Errors.InvalidFactor
	}
	return deps.attempt(ctx, id, p, "attempt_first_factor", func(next *model.SignIn) *model.Verification {
		return next.FirstFactorVerification
	})
}

// RunPrepareSecondFactor mirrors RunPrepareFirstFactor for second factors.
func RunPrepareSecondFactor(ctx context.Context, id string, p PrepareFactorParams, deps Deps) (*model.SignIn, error) {
	deps.normalize()
	si, err := deps.guardSignIn(OpPrepareSecondFactor, id)
	if err != nil {
		return nil, err
	}
	factor, ok := matchFactor(si.SupportedSecondFactors, p.Strategy, p.target())
	if !ok {
		return nil, deps.Errors.InvalidFactor
	}
	return deps.prepare(ctx, si, factor, p.RedirectURL, si.SecondFactorVerification, "prepare_second_factor")
}

// RunAttemptSecondFactor mirrors RunAttemptFirstFactor for second factors.
func RunAttemptSecondFactor(ctx context.Context, id string, p AttemptFactorParams, deps Deps) (*model.SignIn, error) {
	deps.normalize()
	si, err := deps.guardSignIn(OpAttemptSecondFactor, id)
	if err != nil {
		return nil, err
	}
	if _, ok := si.SecondFactor(p.Strategy); !ok {
		return nil, deps.Errors.InvalidFactor
	}
	return deps.attempt(ctx, id, p, "attempt_second_factor", func(next *model.SignIn) *model.Verification {
		return next.SecondFactorVerification
	})
}

// RunResetPassword sets a new password after a reset-password factor verified.
func RunResetPassword(ctx context.Context, id string, p ResetPasswordParams, deps Deps) (*model.SignIn, error) {
	deps.normalize()
	if _, err := deps.guardSignIn(OpResetPassword, id); err != nil {
		return nil, err
	}
	resp, err := deps.Exchange(ctx, transport.Request{
		Method: transport.MethodPost,
		Path:   signInPath(id, "reset_password"),
		Params: url.Values{
			"password":                   {p.Password},
			"sign_out_of_other_sessions": {strconv.FormatBool(p.SignOutOfOtherSessions)},
		},
	})
	if err != nil {
		return nil, err
	}
	next, err := deps.signInFrom(resp)
	if err != nil {
		return nil, err
	}
	return deps.finishSignIn(next), nil
}

// RunReloadSignIn re-fetches a sign-in, passing nonce when it returns from an
// external redirect.
func RunReloadSignIn(ctx context.Context, id, nonce string, deps Deps) (*model.SignIn, error) {
	deps.normalize()
	params := url.Values{}
	setIf(params, NonceParam, nonce)
	resp, err := deps.Exchange(ctx, transport.Request{
		Method: transport.MethodGet,
		Path:   signInPath(id, ""),
		Params: params,
	})
	if err != nil {
		return nil, err
	}
	si, err := deps.signInFrom(resp)
	if err != nil {
		return nil, err
	}
	return deps.finishSignIn(si), nil
}

// RunBeginFirstFactor selects the first factor by policy and prepares it
// when it needs preparation. Password factors are returned unprepared.
func RunBeginFirstFactor(ctx context.Context, id string, deps Deps) (model.Factor, *model.SignIn, error) {
	deps.normalize()
	si, err := deps.guardSignIn(OpPrepareFirstFactor, id)
	if err != nil {
		return model.Factor{}, nil, err
	}
	factor, ok := SelectFirstFactor(si, deps.Policy)
	if !ok {
		return model.Factor{}, nil, deps.Errors.InvalidFactor
	}
	if !factor.Strategy.IsCode() && factor.Strategy.Kind() != model.StrategyPasskey {
		return factor, si, nil
	}
	next, err := deps.prepare(ctx, si, factor, "", si.FirstFactorVerification, "prepare_first_factor")
	return factor, next, err
}

// RunBeginSecondFactor is the second-factor counterpart of RunBeginFirstFactor.
func RunBeginSecondFactor(ctx context.Context, id string, deps Deps) (model.Factor, *model.SignIn, error) {
	deps.normalize()
	si, err := deps.guardSignIn(OpPrepareSecondFactor, id)
	if err != nil {
		return model.Factor{}, nil, err
	}
	factor, ok := SelectSecondFactor(si, deps.Policy)
	if !ok {
		return model.Factor{}, nil, deps.Errors.InvalidFactor
	}
	if !factor.Strategy.IsCode() {
		return factor, si, nil
	}
	next, err := deps.prepare(ctx, si, factor, "", si.SecondFactorVerification, "prepare_second_factor")
	return factor, next, err
}

func (d *Deps) prepare(
	ctx context.Context,
	si *model.SignIn,
	factor model.Factor,
	redirectURL string,
	current *model.Verification,
	action string,
) (*model.SignIn, error) {
	key := limiters.CooldownKey{AttemptID: si.ID, Strategy: factor.Strategy.String(), Target: factor.TargetID()}
	if factor.Strategy.IsCode() && d.Cooldown.Active(key) && pending(current, factor.Strategy, d.Now()) {
		d.MetricInc(d.Metrics.PrepareSuppressed)
		return si, nil
	}

	params := url.Values{"strategy": {factor.Strategy.String()}}
	setIf(params, "email_address_id", factor.EmailAddressID)
	setIf(params, "phone_number_id", factor.PhoneNumberID)
	setIf(params, "web3_wallet_id", factor.Web3WalletID)
	setIf(params, "redirect_url", redirectURL)

	resp, err := d.Exchange(ctx, transport.Request{
		Method: transport.MethodPost,
		Path:   signInPath(si.ID, action),
		Params: params,
	})
	if err != nil {
		return nil, err
	}
	next, err := d.signInFrom(resp)
	if err != nil {
		return nil, err
	}
	if factor.Strategy.IsCode() {
		d.Cooldown.Mark(key)
	}
	d.MetricInc(d.Metrics.FactorPrepared)
	return next, nil
}

func (d *Deps) attempt(
	ctx context.Context,
	id string,
	p AttemptFactorParams,
	action string,
	verification func(*model.SignIn) *model.Verification,
) (*model.SignIn, error) {
	resp, err := d.Exchange(ctx, transport.Request{
		Method: transport.MethodPost,
		Path:   signInPath(id, action),
		Params: p.values(),
	})
	if err != nil {
		d.MetricInc(d.Metrics.FactorFailed)
		if errors.Is(err, d.Errors.AttemptExpired) {
			// An expired window must be re-prepared; let it reach the network.
			d.Cooldown.Reset(id)
		}
		return nil, err
	}
	next, err := d.signInFrom(resp)
	if err != nil {
		return nil, err
	}
	if v := verification(next); v != nil && v.Status == model.VerificationFailed {
		d.MetricInc(d.Metrics.FactorFailed)
	}
	return d.finishSignIn(next), nil
}

// pending reports whether v is a live, unverified verification for strategy.
func pending(v *model.Verification, strategy model.Strategy, now time.Time) bool {
	return v != nil &&
		v.Strategy == strategy &&
		v.Status == model.VerificationUnverified &&
		!v.IsExpired(now)
}

// signInFrom decodes the sign-in payload. When the response carried no
// client the attempt replaces the held one directly.
func (d *Deps) signInFrom(resp *transport.Response) (*model.SignIn, error) {
	var si model.SignIn
	if err := resp.Decode(&si); err != nil {
		if errors.Is(err, transport.ErrEmptyPayload) && resp.Client != nil && resp.Client.SignIn != nil {
			return resp.Client.SignIn.Clone(), nil
		}
		return nil, err
	}
	if err := si.Validate(); err != nil {
		return nil, err
	}
	if resp.Client == nil {
		d.Store.ReplaceSignIn(&si)
	}
	return &si, nil
}

func (d *Deps) finishSignIn(si *model.SignIn) *model.SignIn {
	if si.IsComplete() {
		d.Cooldown.Reset(si.ID)
		d.MetricInc(d.Metrics.SignInCompleted)
		d.OnSignInComplete(si)
	}
	return si
}
