package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/model"
	"github.com/MrEthical07/goIdentity/platform"
	"github.com/MrEthical07/goIdentity/transport"
)

// Exchange sends req, applies any piggybacked client and maps failures to
// host-level errors.
type Exchange func(ctx context.Context, req transport.Request) (*transport.Response, error)

// AttemptStore is the part of the snapshot store flows read and write.
type AttemptStore interface {
	SignIn() *model.SignIn
	SignUp() *model.SignUp
	ReplaceSignIn(*model.SignIn)
	ReplaceSignUp(*model.SignUp)
}

// Metrics carries metric IDs used by flows.
type Metrics struct {
	SignInCreated     int
	SignInCompleted   int
	SignUpCreated     int
	SignUpCompleted   int
	FactorPrepared    int
	PrepareSuppressed int
	FactorFailed      int
	TransferPerformed int
	CeremonyCancelled int
	CeremonyFailed    int
	CallbackWithNonce int
	CallbackNoNonce   int
}

// Errors carries host-level sentinel errors used by flows.
type Errors struct {
	InvalidFactor   error
	AttemptNotFound error
	AttemptExpired  error
	UserCancelled   error
	// CeremonyUnavailable is returned by ceremony flows without Ceremonies.
	CeremonyUnavailable error
	// MissingChallenge reports a server response lacking the redirect URL or
	// passkey challenge a ceremony needs.
	MissingChallenge error
	// InvalidState builds the error for an operation not permitted from status.
	InvalidState func(op, status string) error
}

// Deps captures flow dependencies.
type Deps struct {
	Exchange   Exchange
	Store      AttemptStore
	Fetch      func(context.Context) (*model.Client, error)
	Cooldown   *limiters.Cooldown
	Policy     FactorPolicy
	Ceremonies platform.Ceremonies
	Now        func() time.Time

	OnSignInComplete func(*model.SignIn)
	OnSignUpComplete func(*model.SignUp)

	MetricInc func(int)
	Warn      func(string, ...any)

	Metrics Metrics
	Errors  Errors
}

func (d *Deps) normalize() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.MetricInc == nil {
		d.MetricInc = func(int) {}
	}
	if d.Warn == nil {
		d.Warn = func(string, ...any) {}
	}
	if d.OnSignInComplete == nil {
		d.OnSignInComplete = func(*model.SignIn) {}
	}
	if d.OnSignUpComplete == nil {
		d.OnSignUpComplete = func(*model.SignUp) {}
	}
	if d.Errors.InvalidFactor == nil {
		d.Errors.InvalidFactor = errInvalidFactor
	}
	if d.Errors.AttemptNotFound == nil {
		d.Errors.AttemptNotFound = errAttemptNotFound
	}
	if d.Errors.CeremonyUnavailable == nil {
		d.Errors.CeremonyUnavailable = errNoCeremonies
	}
	if d.Errors.MissingChallenge == nil {
		d.Errors.MissingChallenge = errMissingChallenge
	}
	if d.Errors.InvalidState == nil {
		d.Errors.InvalidState = func(op, status string) error {
			return &stateError{op: op, status: status}
		}
	}
}

var (
	errInvalidFactor    = errors.New("factor not supported by attempt")
	errAttemptNotFound  = errors.New("attempt not held by client")
	errNoCeremonies     = errors.New("platform ceremonies not configured")
	errMissingChallenge = errors.New("response carried no ceremony challenge")
)

type stateError struct {
	op     string
	status string
}

func (e *stateError) Error() string {
	return e.op + " not permitted in status " + e.status
}
