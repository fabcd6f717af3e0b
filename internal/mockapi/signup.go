package mockapi

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/MrEthical07/goIdentity/model"
	"github.com/MrEthical07/goIdentity/transport"
)

const signUpLifetime = 24 * time.Hour

func (s *Server) routeSignUp(method transport.Method, segs []string, p url.Values) (*transport.Response, error) {
	if len(segs) == 1 && segs[0] == "" {
		segs = nil
	}
	if len(segs) == 0 {
		if method != transport.MethodPost {
			return nil, s.reject(405, "method_not_allowed", "")
		}
		return s.createSignUp(p)
	}

	st, ok := s.signUps[segs[0]]
	if !ok {
		return nil, s.reject(404, "resource_not_found", "")
	}
	if len(segs) == 1 {
		switch method {
		case transport.MethodGet:
			return s.reloadSignUp(st, p.Get("rotating_token_nonce"))
		case transport.MethodPatch:
			return s.updateSignUp(st, p)
		}
		return nil, s.reject(405, "method_not_allowed", "")
	}
	if method != transport.MethodPost {
		return nil, s.reject(405, "method_not_allowed", "")
	}
	switch segs[1] {
	case "prepare_verification":
		return s.prepareVerification(st, p)
	case "attempt_verification":
		return s.attemptVerification(st, p)
	}
	return nil, s.reject(404, "resource_not_found", "")
}

func (s *Server) createSignUp(p url.Values) (*transport.Response, error) {
	if p.Get("transfer") == "true" {
		return s.transferToSignUp(p)
	}

	st := &signUpState{su: &model.SignUp{
		ID:             newID("sua"),
		Status:         model.SignUpMissingRequirements,
		RequiredFields: []string{model.FieldEmailAddress, model.FieldPassword},
		OptionalFields: []string{model.FieldFirstName, model.FieldLastName, model.FieldUsername, model.FieldPhoneNumber},
		AbandonAt:      s.config.Now().Add(signUpLifetime),
	}}
	strategy := model.ParseStrategy(p.Get("strategy"))

	switch strategy.Kind() {
	case model.StrategyOAuth, model.StrategyEnterpriseSSO:
		if err := s.applySignUpFields(st, p); err != nil {
			return nil, err
		}
		nonce, redirect := s.openGrant(st.su.ID, true, strategy.Provider(), p.Get("redirect_url"))
		st.grant = nonce
		st.su.RequiredFields = nil
		st.su.Verifications = map[string]*model.Verification{
			model.FieldExternalAccount: {
				Status:                          model.VerificationUnverified,
				Strategy:                        strategy,
				ExternalVerificationRedirectURL: redirect,
			},
		}
	case model.StrategyIDToken:
		email, ok := parseIDToken(p.Get("token"), strategy.Provider())
		if !ok {
			return nil, s.reject(422, "form_param_missing", "token")
		}
		if err := s.applySignUpFields(st, p); err != nil {
			return nil, err
		}
		st.su.RequiredFields = nil
		st.su.EmailAddress = email
		s.resolveExternalAccount(st, strategy)
	default:
		if s.accountByEmail(p.Get("email_address")) != nil {
			return nil, s.reject(422, "form_identifier_exists", "email_address")
		}
		if err := s.applySignUpFields(st, p); err != nil {
			return nil, err
		}
	}

	s.evaluateSignUp(st)
	s.signUps[st.su.ID] = st
	s.currentSignUp = st.su.ID
	s.touch()
	return s.ok(st.su)
}

func (s *Server) applySignUpFields(st *signUpState, p url.Values) error {
	su := st.su
	if email := p.Get("email_address"); email != "" && email != su.EmailAddress {
		su.EmailAddress = email
		if su.Verifications == nil {
			su.Verifications = make(map[string]*model.Verification)
		}
		su.Verifications[model.FieldEmailAddress] = &model.Verification{
			Status:   model.VerificationUnverified,
			Strategy: model.EmailCode(),
		}
	}
	if v := p.Get("phone_number"); v != "" {
		su.PhoneNumber = v
	}
	if v := p.Get("username"); v != "" {
		su.Username = v
	}
	if v := p.Get("first_name"); v != "" {
		su.FirstName = v
	}
	if v := p.Get("last_name"); v != "" {
		su.LastName = v
	}
	if v := p.Get("password"); v != "" {
		st.password = v
		su.PasswordEnabled = true
	}
	if raw := p.Get("unsafe_metadata"); raw != "" {
		var md map[string]any
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			return s.reject(422, "form_param_missing", "unsafe_metadata")
		}
		su.UnsafeMetadata = md
	}
	if raw := p.Get("legal_accepted"); raw != "" {
		if accepted, _ := strconv.ParseBool(raw); accepted {
			at := s.config.Now()
			su.LegalAcceptedAt = &at
		}
	}
	return nil
}

func (s *Server) hasField(st *signUpState, field string) bool {
	su := st.su
	switch field {
	case model.FieldEmailAddress:
		return su.EmailAddress != ""
	case model.FieldPhoneNumber:
		return su.PhoneNumber != ""
	case model.FieldUsername:
		return su.Username != ""
	case model.FieldPassword:
		return st.password != ""
	case model.FieldFirstName:
		return su.FirstName != ""
	case model.FieldLastName:
		return su.LastName != ""
	case model.FieldLegalAccepted:
		return su.LegalAcceptedAt != nil
	}
	return false
}

// evaluateSignUp recomputes missing and unverified fields and completes the
// attempt once nothing is left.
func (s *Server) evaluateSignUp(st *signUpState) {
	su := st.su
	if su.Status != model.SignUpMissingRequirements {
		return
	}
	su.MissingFields = nil
	for _, field := range su.RequiredFields {
		if !s.hasField(st, field) {
			su.MissingFields = append(su.MissingFields, field)
		}
	}
	su.UnverifiedFields = nil
	for _, field := range []string{model.FieldEmailAddress, model.FieldPhoneNumber} {
		if v := su.Verification(field); v != nil && v.Status != model.VerificationVerified {
			su.UnverifiedFields = append(su.UnverifiedFields, field)
		}
	}
	if ext := su.Verification(model.FieldExternalAccount); ext != nil && ext.Status != model.VerificationVerified {
		return
	}
	if len(su.MissingFields) > 0 || len(su.UnverifiedFields) > 0 {
		return
	}

	acct := &Account{
		ID:        newID("user"),
		Email:     su.EmailAddress,
		Phone:     su.PhoneNumber,
		Username:  su.Username,
		Password:  st.password,
		FirstName: su.FirstName,
		LastName:  su.LastName,
	}
	s.accounts[acct.ID] = acct
	su.Status = model.SignUpComplete
	su.CreatedUserID = acct.ID
	su.CreatedSessionID = s.createSession(acct.ID)
}

// resolveExternalAccount marks the external account transferable when its
// email belongs to an existing user and verified otherwise.
func (s *Server) resolveExternalAccount(st *signUpState, strategy model.Strategy) {
	su := st.su
	if su.Verifications == nil {
		su.Verifications = make(map[string]*model.Verification)
	}
	ext := &model.Verification{Strategy: strategy}
	if s.accountByEmail(su.EmailAddress) != nil {
		ext.Status = model.VerificationTransferable
	} else {
		ext.Status = model.VerificationVerified
		su.Verifications[model.FieldEmailAddress] = &model.Verification{Status: model.VerificationVerified, Strategy: strategy}
	}
	su.Verifications[model.FieldExternalAccount] = ext
}

func (s *Server) updateSignUp(st *signUpState, p url.Values) (*transport.Response, error) {
	if st.su.Status != model.SignUpMissingRequirements {
		return nil, s.reject(400, "form_param_missing", "")
	}
	if email := p.Get("email_address"); email != "" && s.accountByEmail(email) != nil {
		return nil, s.reject(422, "form_identifier_exists", "email_address")
	}
	if err := s.applySignUpFields(st, p); err != nil {
		return nil, err
	}
	s.evaluateSignUp(st)
	s.touch()
	return s.ok(st.su)
}

func verificationField(strategy model.Strategy) (string, bool) {
	switch strategy.Kind() {
	case model.StrategyEmailCode:
		return model.FieldEmailAddress, true
	case model.StrategyPhoneCode:
		return model.FieldPhoneNumber, true
	}
	return "", false
}

func (s *Server) prepareVerification(st *signUpState, p url.Values) (*transport.Response, error) {
	strategy := model.ParseStrategy(p.Get("strategy"))
	field, ok := verificationField(strategy)
	if !ok || !s.hasField(st, field) {
		return nil, s.reject(422, "strategy_for_user_invalid", "strategy")
	}
	if st.su.Verifications == nil {
		st.su.Verifications = make(map[string]*model.Verification)
	}
	st.su.Verifications[field] = s.codeVerification(strategy)
	s.evaluateSignUp(st)
	s.touch()
	return s.ok(st.su)
}

func (s *Server) attemptVerification(st *signUpState, p url.Values) (*transport.Response, error) {
	strategy := model.ParseStrategy(p.Get("strategy"))
	field, ok := verificationField(strategy)
	if !ok {
		return nil, s.reject(422, "strategy_for_user_invalid", "strategy")
	}
	if err := s.checkCode(st.su.Verification(field), strategy, p.Get("code")); err != nil {
		return nil, err
	}
	s.evaluateSignUp(st)
	s.touch()
	return s.ok(st.su)
}

func (s *Server) reloadSignUp(st *signUpState, nonce string) (*transport.Response, error) {
	if nonce != "" && !s.checkNonce(nonce, st.su.ID) {
		return nil, s.reject(422, "nonce_invalid", "rotating_token_nonce")
	}
	return s.ok(st.su)
}

// transferToSignUp converts a transferable OAuth sign-in into a new account.
func (s *Server) transferToSignUp(p url.Values) (*transport.Response, error) {
	si, ok := s.signIns[s.currentSignIn]
	if !ok {
		return nil, s.reject(422, "form_param_missing", "transfer")
	}
	v := si.si.FirstFactorVerification
	g := s.grants[si.grant]
	if v == nil || v.Status != model.VerificationTransferable || g == nil {
		return nil, s.reject(422, "form_param_missing", "transfer")
	}
	identity := s.identities[g.provider]

	st := &signUpState{su: &model.SignUp{
		ID:           newID("sua"),
		Status:       model.SignUpMissingRequirements,
		EmailAddress: identity.Email,
		FirstName:    identity.FirstName,
		LastName:     identity.LastName,
		AbandonAt:    s.config.Now().Add(signUpLifetime),
	}}
	if err := s.applySignUpFields(st, p); err != nil {
		return nil, err
	}
	s.resolveExternalAccount(st, v.Strategy)
	s.evaluateSignUp(st)
	s.signUps[st.su.ID] = st
	s.currentSignUp = st.su.ID
	s.touch()
	return s.ok(st.su)
}
