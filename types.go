package goIdentity

import (
	"github.com/MrEthical07/goIdentity/internal/events"
	"github.com/MrEthical07/goIdentity/internal/flows"
)

type (
	// SignInCreateParams starts a sign-in. Identifier, Password and Strategy
	// may be combined; a transfer ignores the rest.
	SignInCreateParams = flows.SignInCreateParams
	// PrepareFactorParams selects the factor to prepare and, for codes, the
	// email address or phone number id to send to.
	PrepareFactorParams = flows.PrepareFactorParams
	// AttemptFactorParams carries the credential for one factor attempt.
	AttemptFactorParams = flows.AttemptFactorParams
	// ResetPasswordParams sets a new password after a reset code was verified.
	ResetPasswordParams = flows.ResetPasswordParams
	// SignUpParams carries the fields of a sign-up create or update.
	SignUpParams = flows.SignUpParams
	// Outcome is the result of a flow that may settle as either a sign-in or
	// a sign-up. Exactly one field is set.
	Outcome = flows.Outcome
	// SignUpStep is the next thing a sign-up needs from the user.
	SignUpStep = flows.SignUpStep
	// StepKind classifies a SignUpStep.
	StepKind = flows.StepKind
)

const (
	StepComplete = flows.StepComplete
	StepVerify   = flows.StepVerify
	StepCollect  = flows.StepCollect
)

type (
	// Event is one auth state transition delivered to subscribers.
	Event = events.Event
	// EventType names an auth event.
	EventType = events.Type
)

const (
	EventSignInCompleted = events.SignInCompleted
	EventSignUpCompleted = events.SignUpCompleted
	EventSignedOut       = events.SignedOut
	EventSessionChanged  = events.SessionChanged
)

// GetTokenOptions select the token GetToken returns.
type GetTokenOptions struct {
	// SessionID defaults to the active session.
	SessionID string
	// Template names a server-side token template. Empty is the default token.
	Template       string
	OrganizationID string
	// SkipCache forces a fetch and replaces the cached entry.
	SkipCache bool
}
