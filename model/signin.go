package model

import (
	"errors"
	"strings"
)

// SignInStatus is the lifecycle position of a SignIn attempt.
type SignInStatus string

const (
	SignInNeedsIdentifier   SignInStatus = "needs_identifier"
	SignInNeedsFirstFactor  SignInStatus = "needs_first_factor"
	SignInNeedsSecondFactor SignInStatus = "needs_second_factor"
	SignInNeedsNewPassword  SignInStatus = "needs_new_password"
	SignInNeedsClientTrust  SignInStatus = "needs_client_trust"
	SignInComplete          SignInStatus = "complete"
)

// IdentifierType classifies the identifier a sign-in was started with.
type IdentifierType string

const (
	IdentifierEmail    IdentifierType = "email_address"
	IdentifierPhone    IdentifierType = "phone_number"
	IdentifierUsername IdentifierType = "username"
	IdentifierNone     IdentifierType = ""
)

// ErrSignInCompletionMismatch reports a SignIn whose status and created session disagree.
var ErrSignInCompletionMismatch = errors.New("sign-in status complete must match created session id")

// SignIn is an in-progress sign-in attempt.
type SignIn struct {
	ID                       string        `json:"id"`
	Status                   SignInStatus  `json:"status"`
	SupportedIdentifiers     []string      `json:"supported_identifiers,omitempty"`
	Identifier               string        `json:"identifier,omitempty"`
	SupportedFirstFactors    []Factor      `json:"supported_first_factors,omitempty"`
	SupportedSecondFactors   []Factor      `json:"supported_second_factors,omitempty"`
	FirstFactorVerification  *Verification `json:"first_factor_verification,omitempty"`
	SecondFactorVerification *Verification `json:"second_factor_verification,omitempty"`
	CreatedSessionID         string        `json:"created_session_id,omitempty"`
}

// Validate enforces status == complete iff a session was created.
func (s *SignIn) Validate() error {
	if s == nil {
		return nil
	}
	if (s.Status == SignInComplete) != (s.CreatedSessionID != "") {
		return ErrSignInCompletionMismatch
	}
	if err := s.FirstFactorVerification.Validate(); err != nil {
		return err
	}
	return s.SecondFactorVerification.Validate()
}

func (s *SignIn) IsComplete() bool {
	return s != nil && s.Status == SignInComplete
}

// FirstFactor returns the supported first factor for strategy.
func (s *SignIn) FirstFactor(strategy Strategy) (Factor, bool) {
	if s == nil {
		return Factor{}, false
	}
	return findFactor(s.SupportedFirstFactors, strategy)
}

// SecondFactor returns the supported second factor for strategy.
func (s *SignIn) SecondFactor(strategy Strategy) (Factor, bool) {
	if s == nil {
		return Factor{}, false
	}
	return findFactor(s.SupportedSecondFactors, strategy)
}

// IdentifierType infers which kind of identifier the attempt was started with.
func (s *SignIn) IdentifierType() IdentifierType {
	if s == nil {
		return IdentifierNone
	}
	return ClassifyIdentifier(s.Identifier)
}

// ClassifyIdentifier infers the identifier type from its shape.
func ClassifyIdentifier(identifier string) IdentifierType {
	identifier = strings.TrimSpace(identifier)
	switch {
	case identifier == "":
		return IdentifierNone
	case strings.Contains(identifier, "@"):
		return IdentifierEmail
	case strings.HasPrefix(identifier, "+") && isDigits(identifier[1:]):
		return IdentifierPhone
	case isDigits(identifier):
		return IdentifierPhone
	}
	return IdentifierUsername
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (s *SignIn) Clone() *SignIn {
	if s == nil {
		return nil
	}
	out := *s
	if s.SupportedIdentifiers != nil {
		out.SupportedIdentifiers = append([]string(nil), s.SupportedIdentifiers...)
	}
	out.SupportedFirstFactors = cloneFactors(s.SupportedFirstFactors)
	out.SupportedSecondFactors = cloneFactors(s.SupportedSecondFactors)
	out.FirstFactorVerification = s.FirstFactorVerification.Clone()
	out.SecondFactorVerification = s.SecondFactorVerification.Clone()
	return &out
}
