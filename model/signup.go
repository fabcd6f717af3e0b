package model

import (
	"errors"
	"time"
)

// SignUpStatus is the lifecycle position of a SignUp attempt.
type SignUpStatus string

const (
	SignUpMissingRequirements SignUpStatus = "missing_requirements"
	SignUpAbandoned           SignUpStatus = "abandoned"
	SignUpComplete            SignUpStatus = "complete"
)

// Field names used in required/missing/unverified lists and the verification map.
const (
	FieldEmailAddress    = "email_address"
	FieldPhoneNumber     = "phone_number"
	FieldUsername        = "username"
	FieldPassword        = "password"
	FieldFirstName       = "first_name"
	FieldLastName        = "last_name"
	FieldWeb3Wallet      = "web3_wallet"
	FieldLegalAccepted   = "legal_accepted"
	FieldExternalAccount = "external_account"
)

// ErrSignUpCompletionMismatch reports a SignUp whose status and created ids disagree.
var ErrSignUpCompletionMismatch = errors.New("sign-up status complete must match created session and user ids")

// SignUp is an in-progress sign-up attempt.
type SignUp struct {
	ID               string                   `json:"id"`
	Status           SignUpStatus             `json:"status"`
	RequiredFields   []string                 `json:"required_fields,omitempty"`
	OptionalFields   []string                 `json:"optional_fields,omitempty"`
	MissingFields    []string                 `json:"missing_fields,omitempty"`
	UnverifiedFields []string                 `json:"unverified_fields,omitempty"`
	Verifications    map[string]*Verification `json:"verifications,omitempty"`
	Username         string                   `json:"username,omitempty"`
	EmailAddress     string                   `json:"email_address,omitempty"`
	PhoneNumber      string                   `json:"phone_number,omitempty"`
	Web3Wallet       string                   `json:"web3_wallet,omitempty"`
	FirstName        string                   `json:"first_name,omitempty"`
	LastName         string                   `json:"last_name,omitempty"`
	UnsafeMetadata   map[string]any           `json:"unsafe_metadata,omitempty"`
	PasswordEnabled  bool                     `json:"password_enabled"`
	LegalAcceptedAt  *time.Time               `json:"legal_accepted_at,omitempty"`
	CreatedSessionID string                   `json:"created_session_id,omitempty"`
	CreatedUserID    string                   `json:"created_user_id,omitempty"`
	AbandonAt        time.Time                `json:"abandon_at"`
}

// Validate enforces status == complete iff both a session and a user were created.
func (s *SignUp) Validate() error {
	if s == nil {
		return nil
	}
	created := s.CreatedSessionID != "" && s.CreatedUserID != ""
	if (s.Status == SignUpComplete) != created {
		return ErrSignUpCompletionMismatch
	}
	for _, v := range s.Verifications {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SignUp) IsComplete() bool {
	return s != nil && s.Status == SignUpComplete
}

// Verification returns the verification recorded for field, or nil.
func (s *SignUp) Verification(field string) *Verification {
	if s == nil || s.Verifications == nil {
		return nil
	}
	return s.Verifications[field]
}

// FirstFieldToVerify returns the first unverified field that carries a verification.
func (s *SignUp) FirstFieldToVerify() string {
	if s == nil {
		return ""
	}
	for _, field := range s.UnverifiedFields {
		if s.Verification(field) != nil {
			return field
		}
	}
	return ""
}

// FirstFieldToCollect returns the first missing field.
func (s *SignUp) FirstFieldToCollect() string {
	if s == nil || len(s.MissingFields) == 0 {
		return ""
	}
	return s.MissingFields[0]
}

// Clone returns a deep copy. UnsafeMetadata is copied one level deep.
func (s *SignUp) Clone() *SignUp {
	if s == nil {
		return nil
	}
	out := *s
	out.RequiredFields = cloneStrings(s.RequiredFields)
	out.OptionalFields = cloneStrings(s.OptionalFields)
	out.MissingFields = cloneStrings(s.MissingFields)
	out.UnverifiedFields = cloneStrings(s.UnverifiedFields)
	if s.Verifications != nil {
		out.Verifications = make(map[string]*Verification, len(s.Verifications))
		for k, v := range s.Verifications {
			out.Verifications[k] = v.Clone()
		}
	}
	if s.UnsafeMetadata != nil {
		out.UnsafeMetadata = make(map[string]any, len(s.UnsafeMetadata))
		for k, v := range s.UnsafeMetadata {
			out.UnsafeMetadata[k] = v
		}
	}
	if s.LegalAcceptedAt != nil {
		t := *s.LegalAcceptedAt
		out.LegalAcceptedAt = &t
	}
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
