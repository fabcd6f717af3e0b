package mockapi

import (
	"net/url"
	"strings"

	"github.com/MrEthical07/goIdentity/model"
	"github.com/MrEthical07/goIdentity/transport"
	"github.com/google/uuid"
)

func (s *Server) routeSignIn(method transport.Method, segs []string, p url.Values) (*transport.Response, error) {
	if len(segs) == 1 && segs[0] == "" {
		segs = nil
	}
	if len(segs) == 0 {
		if method != transport.MethodPost {
			return nil, s.reject(405, "method_not_allowed", "")
		}
		return s.createSignIn(p)
	}

	st, ok := s.signIns[segs[0]]
	if !ok {
		return nil, s.reject(404, "resource_not_found", "")
	}
	if len(segs) == 1 {
		if method != transport.MethodGet {
			return nil, s.reject(405, "method_not_allowed", "")
		}
		return s.reloadSignIn(st, p.Get("rotating_token_nonce"))
	}
	if method != transport.MethodPost {
		return nil, s.reject(405, "method_not_allowed", "")
	}
	switch segs[1] {
	case "prepare_first_factor":
		return s.prepareFirstFactor(st, p)
	case "attempt_first_factor":
		return s.attemptFirstFactor(st, p)
	case "prepare_second_factor":
		return s.prepareSecondFactor(st, p)
	case "attempt_second_factor":
		return s.attemptSecondFactor(st, p)
	case "reset_password":
		return s.resetPassword(st, p)
	}
	return nil, s.reject(404, "resource_not_found", "")
}

func (s *Server) createSignIn(p url.Values) (*transport.Response, error) {
	if p.Get("transfer") == "true" {
		return s.transferToSignIn()
	}

	st := &signInState{si: &model.SignIn{
		ID:                   newID("sia"),
		Status:               model.SignInNeedsIdentifier,
		SupportedIdentifiers: []string{model.FieldEmailAddress, model.FieldPhoneNumber, model.FieldUsername},
	}}
	strategy := model.ParseStrategy(p.Get("strategy"))

	switch strategy.Kind() {
	case model.StrategyOAuth, model.StrategyEnterpriseSSO:
		nonce, redirect := s.openGrant(st.si.ID, false, strategy.Provider(), p.Get("redirect_url"))
		st.grant = nonce
		st.si.Status = model.SignInNeedsFirstFactor
		st.si.SupportedFirstFactors = []model.Factor{{Strategy: strategy}}
		st.si.FirstFactorVerification = &model.Verification{
			Status:                          model.VerificationUnverified,
			Strategy:                        strategy,
			ExternalVerificationRedirectURL: redirect,
		}
	case model.StrategyPasskey:
		st.si.Status = model.SignInNeedsFirstFactor
		st.si.SupportedFirstFactors = []model.Factor{{Strategy: strategy}}
		st.si.FirstFactorVerification = &model.Verification{
			Status:   model.VerificationUnverified,
			Strategy: strategy,
			Nonce:    uuid.NewString(),
		}
	case model.StrategyIDToken:
		email, ok := parseIDToken(p.Get("token"), strategy.Provider())
		acct := s.accountByEmail(email)
		if !ok || acct == nil {
			return nil, s.reject(422, "external_account_not_found", "token")
		}
		st.accountID = acct.ID
		st.si.Identifier = acct.Email
		s.completeSignIn(st)
	default:
		identifier := p.Get("identifier")
		if identifier != "" {
			acct := s.lookupAccount(identifier)
			if acct == nil {
				return nil, s.reject(422, "form_identifier_not_found", "identifier")
			}
			st.accountID = acct.ID
			st.si.Identifier = identifier
			st.si.Status = model.SignInNeedsFirstFactor
			st.si.SupportedFirstFactors = firstFactors(acct)
		}
		if password := p.Get("password"); password != "" {
			acct := s.accounts[st.accountID]
			if acct == nil {
				return nil, s.reject(422, "form_param_missing", "identifier")
			}
			if acct.Password == "" || acct.Password != password {
				return nil, s.reject(422, "form_password_incorrect", "password")
			}
			s.afterFirstFactor(st)
		}
	}

	s.signIns[st.si.ID] = st
	s.currentSignIn = st.si.ID
	s.touch()
	return s.ok(st.si)
}

func firstFactors(a *Account) []model.Factor {
	var out []model.Factor
	if a.Passkey {
		out = append(out, model.Factor{Strategy: model.Passkey()})
	}
	if a.Email != "" {
		out = append(out, model.Factor{Strategy: model.EmailCode(), EmailAddressID: "idn_email_" + a.ID, SafeIdentifier: maskEmail(a.Email), Primary: true})
	}
	if a.Phone != "" {
		out = append(out, model.Factor{Strategy: model.PhoneCode(), PhoneNumberID: "idn_phone_" + a.ID, SafeIdentifier: maskPhone(a.Phone)})
	}
	if a.Password != "" {
		out = append(out, model.Factor{Strategy: model.Password()})
	}
	if a.Email != "" {
		out = append(out, model.Factor{Strategy: model.ResetPasswordEmailCode(), EmailAddressID: "idn_email_" + a.ID, SafeIdentifier: maskEmail(a.Email)})
	}
	return out
}

func secondFactors() []model.Factor {
	yes := true
	return []model.Factor{
		{Strategy: model.TOTP(), Default: &yes},
		{Strategy: model.BackupCode()},
	}
}

func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return email
	}
	return local[:1] + "***@" + domain
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

func (s *Server) findFirstFactor(st *signInState, strategy model.Strategy) (model.Factor, bool) {
	return st.si.FirstFactor(strategy)
}

func (s *Server) prepareFirstFactor(st *signInState, p url.Values) (*transport.Response, error) {
	if st.si.Status != model.SignInNeedsFirstFactor {
		return nil, s.reject(400, "strategy_for_user_invalid", "strategy")
	}
	strategy := model.ParseStrategy(p.Get("strategy"))
	if _, ok := s.findFirstFactor(st, strategy); !ok {
		return nil, s.reject(422, "strategy_for_user_invalid", "strategy")
	}

	switch {
	case strategy.IsCode():
		st.si.FirstFactorVerification = s.codeVerification(strategy)
	case strategy.Kind() == model.StrategyPasskey:
		st.si.FirstFactorVerification = &model.Verification{Status: model.VerificationUnverified, Strategy: strategy, Nonce: uuid.NewString()}
	case strategy.IsRedirect():
		nonce, redirect := s.openGrant(st.si.ID, false, strategy.Provider(), p.Get("redirect_url"))
		st.grant = nonce
		st.si.FirstFactorVerification = &model.Verification{
			Status:                          model.VerificationUnverified,
			Strategy:                        strategy,
			ExternalVerificationRedirectURL: redirect,
		}
	default:
		return nil, s.reject(422, "strategy_for_user_invalid", "strategy")
	}
	s.touch()
	return s.ok(st.si)
}

func (s *Server) codeVerification(strategy model.Strategy) *model.Verification {
	s.prepares.Add(1)
	expire := s.config.Now().Add(s.config.CodeTTL)
	zero := 0
	return &model.Verification{
		Status:   model.VerificationUnverified,
		Strategy: strategy,
		Attempts: &zero,
		ExpireAt: &expire,
	}
}

// checkCode applies one code attempt to v and returns the rejection, if any.
func (s *Server) checkCode(v *model.Verification, strategy model.Strategy, code string) error {
	if v == nil || v.Strategy != strategy {
		return s.rejectAfterTouch(422, "verification_expired", "code")
	}
	if v.Status == model.VerificationFailed {
		return s.rejectAfterTouch(422, "verification_failed", "code")
	}
	if v.IsExpired(s.config.Now()) {
		v.Status = model.VerificationExpired
		return s.rejectAfterTouch(422, "verification_expired", "code")
	}
	if code != s.config.Code {
		n := v.AttemptCount() + 1
		v.Attempts = &n
		v.Error = &model.ErrorInfo{Code: "form_code_incorrect", Message: errorMessages["form_code_incorrect"]}
		if n >= maxCodeAttempts {
			v.Status = model.VerificationFailed
		}
		return s.rejectAfterTouch(422, "form_code_incorrect", "code")
	}
	v.Status = model.VerificationVerified
	v.Error = nil
	return nil
}

func (s *Server) rejectAfterTouch(status int, code, param string) error {
	s.touch()
	return s.reject(status, code, param)
}

func (s *Server) attemptFirstFactor(st *signInState, p url.Values) (*transport.Response, error) {
	if st.si.Status != model.SignInNeedsFirstFactor {
		return nil, s.reject(400, "strategy_for_user_invalid", "strategy")
	}
	strategy := model.ParseStrategy(p.Get("strategy"))
	if _, ok := s.findFirstFactor(st, strategy); !ok {
		return nil, s.reject(422, "strategy_for_user_invalid", "strategy")
	}
	acct := s.accounts[st.accountID]

	switch {
	case strategy.IsCode():
		if err := s.checkCode(st.si.FirstFactorVerification, strategy, p.Get("code")); err != nil {
			return nil, err
		}
		if strategy.IsResetPassword() {
			st.si.Status = model.SignInNeedsNewPassword
			s.touch()
			return s.ok(st.si)
		}
	case strategy.Kind() == model.StrategyPassword:
		if acct == nil || acct.Password == "" || acct.Password != p.Get("password") {
			return nil, s.reject(422, "form_password_incorrect", "password")
		}
		st.si.FirstFactorVerification = &model.Verification{Status: model.VerificationVerified, Strategy: strategy}
	case strategy.Kind() == model.StrategyPasskey:
		v := st.si.FirstFactorVerification
		if v == nil || p.Get("public_key_credential") != "passkey:"+v.Nonce {
			return nil, s.reject(422, "verification_failed", "public_key_credential")
		}
		if acct == nil {
			acct = s.passkeyAccount()
			if acct == nil {
				return nil, s.reject(422, "external_account_not_found", "public_key_credential")
			}
			st.accountID = acct.ID
		}
		v.Status = model.VerificationVerified
	default:
		return nil, s.reject(422, "strategy_for_user_invalid", "strategy")
	}

	s.afterFirstFactor(st)
	s.touch()
	return s.ok(st.si)
}

// passkeyAccount resolves a discoverable passkey credential.
func (s *Server) passkeyAccount() *Account {
	for _, a := range s.accounts {
		if a.Passkey {
			return a
		}
	}
	return nil
}

func (s *Server) afterFirstFactor(st *signInState) {
	if acct := s.accounts[st.accountID]; acct != nil && acct.TOTP {
		st.si.Status = model.SignInNeedsSecondFactor
		st.si.SupportedSecondFactors = secondFactors()
		return
	}
	s.completeSignIn(st)
}

func (s *Server) prepareSecondFactor(st *signInState, p url.Values) (*transport.Response, error) {
	if st.si.Status != model.SignInNeedsSecondFactor {
		return nil, s.reject(400, "strategy_for_user_invalid", "strategy")
	}
	strategy := model.ParseStrategy(p.Get("strategy"))
	if _, ok := st.si.SecondFactor(strategy); !ok {
		return nil, s.reject(422, "strategy_for_user_invalid", "strategy")
	}
	if strategy.IsCode() {
		st.si.SecondFactorVerification = s.codeVerification(strategy)
	}
	s.touch()
	return s.ok(st.si)
}

func (s *Server) attemptSecondFactor(st *signInState, p url.Values) (*transport.Response, error) {
	if st.si.Status != model.SignInNeedsSecondFactor {
		return nil, s.reject(400, "strategy_for_user_invalid", "strategy")
	}
	strategy := model.ParseStrategy(p.Get("strategy"))
	if _, ok := st.si.SecondFactor(strategy); !ok {
		return nil, s.reject(422, "strategy_for_user_invalid", "strategy")
	}
	if strategy.IsCode() {
		if err := s.checkCode(st.si.SecondFactorVerification, strategy, p.Get("code")); err != nil {
			return nil, err
		}
	} else {
		if p.Get("code") != s.config.Code {
			return nil, s.rejectAfterTouch(422, "form_code_incorrect", "code")
		}
		st.si.SecondFactorVerification = &model.Verification{Status: model.VerificationVerified, Strategy: strategy}
	}
	s.completeSignIn(st)
	s.touch()
	return s.ok(st.si)
}

func (s *Server) resetPassword(st *signInState, p url.Values) (*transport.Response, error) {
	if st.si.Status != model.SignInNeedsNewPassword {
		return nil, s.reject(400, "strategy_for_user_invalid", "password")
	}
	password := p.Get("password")
	if password == "" {
		return nil, s.reject(422, "form_param_missing", "password")
	}
	acct := s.accounts[st.accountID]
	acct.Password = password
	if p.Get("sign_out_of_other_sessions") == "true" {
		for id, sess := range s.sessions {
			if sess.accountID == acct.ID {
				s.endSession(id, model.SessionRevoked)
			}
		}
	}
	s.afterFirstFactor(st)
	s.touch()
	return s.ok(st.si)
}

func (s *Server) reloadSignIn(st *signInState, nonce string) (*transport.Response, error) {
	if nonce != "" && !s.checkNonce(nonce, st.si.ID) {
		return nil, s.reject(422, "nonce_invalid", "rotating_token_nonce")
	}
	return s.ok(st.si)
}

// transferToSignIn converts a transferable sign-up into a completed sign-in
// for the account the external identity matched.
func (s *Server) transferToSignIn() (*transport.Response, error) {
	su, ok := s.signUps[s.currentSignUp]
	if !ok {
		return nil, s.reject(422, "form_param_missing", "transfer")
	}
	v := su.su.Verification(model.FieldExternalAccount)
	if v == nil || v.Status != model.VerificationTransferable {
		return nil, s.reject(422, "form_param_missing", "transfer")
	}
	acct := s.accountByEmail(su.su.EmailAddress)
	if acct == nil {
		return nil, s.reject(422, "external_account_not_found", "transfer")
	}

	st := &signInState{
		si:        &model.SignIn{ID: newID("sia"), Identifier: acct.Email},
		accountID: acct.ID,
	}
	st.si.FirstFactorVerification = &model.Verification{Status: model.VerificationVerified, Strategy: v.Strategy}
	s.completeSignIn(st)
	s.signIns[st.si.ID] = st
	s.currentSignIn = st.si.ID
	delete(s.signUps, s.currentSignUp)
	s.currentSignUp = ""
	s.touch()
	return s.ok(st.si)
}

func (s *Server) completeSignIn(st *signInState) {
	sess := s.createSession(st.accountID)
	st.si.Status = model.SignInComplete
	st.si.CreatedSessionID = sess
}

// parseIDToken reads the email out of a token minted by Ceremonies.
func parseIDToken(token, provider string) (string, bool) {
	rest, ok := strings.CutPrefix(token, "idtoken:"+provider+":")
	return rest, ok && rest != ""
}
