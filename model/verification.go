package model

import (
	"errors"
	"time"
)

// VerificationStatus is the server-reported state of a single verification.
type VerificationStatus string

const (
	VerificationUnverified   VerificationStatus = "unverified"
	VerificationVerified     VerificationStatus = "verified"
	VerificationTransferable VerificationStatus = "transferable"
	VerificationExpired      VerificationStatus = "expired"
	VerificationFailed       VerificationStatus = "failed"
)

// ErrorInfo is one entry of a server error list.
type ErrorInfo struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	LongMessage string `json:"long_message,omitempty"`
	ParamName   string `json:"param_name,omitempty"`
}

// Verification tracks one challenge/response cycle.
type Verification struct {
	Status                          VerificationStatus `json:"status"`
	Strategy                        Strategy           `json:"strategy"`
	Attempts                        *int               `json:"attempts,omitempty"`
	ExpireAt                        *time.Time         `json:"expire_at,omitempty"`
	Error                           *ErrorInfo         `json:"error,omitempty"`
	ExternalVerificationRedirectURL string             `json:"external_verification_redirect_url,omitempty"`
	Nonce                           string             `json:"nonce,omitempty"`
}

var ErrRedirectURLOnNonRedirect = errors.New("external redirect url on non-redirect strategy")

// Validate checks that a redirect URL only accompanies redirect-based strategies.
func (v *Verification) Validate() error {
	if v == nil {
		return nil
	}
	if v.ExternalVerificationRedirectURL != "" && !v.Strategy.IsRedirect() {
		return ErrRedirectURLOnNonRedirect
	}
	return nil
}

// IsExpired reports whether the verification window has elapsed at now.
func (v *Verification) IsExpired(now time.Time) bool {
	if v == nil {
		return false
	}
	if v.Status == VerificationExpired {
		return true
	}
	return v.ExpireAt != nil && !now.Before(*v.ExpireAt)
}

// AttemptCount returns the attempts counter or zero when the server omitted it.
func (v *Verification) AttemptCount() int {
	if v == nil || v.Attempts == nil {
		return 0
	}
	return *v.Attempts
}

// Clone returns a deep copy.
func (v *Verification) Clone() *Verification {
	if v == nil {
		return nil
	}
	out := *v
	if v.Attempts != nil {
		n := *v.Attempts
		out.Attempts = &n
	}
	if v.ExpireAt != nil {
		t := *v.ExpireAt
		out.ExpireAt = &t
	}
	if v.Error != nil {
		e := *v.Error
		out.Error = &e
	}
	return &out
}
