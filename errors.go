package goIdentity

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/platform"
	"github.com/MrEthical07/goIdentity/transport"
)

var (
	// ErrServerValidation is an exported constant or variable used by the identity engine.
	ErrServerValidation = errors.New("server rejected request")
	// ErrServerTransient is an exported constant or variable used by the identity engine.
	ErrServerTransient = errors.New("transient server failure")
	// ErrAttemptExpired is an exported constant or variable used by the identity engine.
	ErrAttemptExpired = errors.New("verification attempt expired")
	// ErrUserCancelled is returned when the user dismisses a platform ceremony.
	ErrUserCancelled = platform.ErrCancelled
	// ErrInvalidState is an exported constant or variable used by the identity engine.
	ErrInvalidState = errors.New("operation not permitted in current status")
	// ErrInvalidFactor is an exported constant or variable used by the identity engine.
	ErrInvalidFactor = errors.New("factor not supported by attempt")
	// ErrAttemptNotFound is an exported constant or variable used by the identity engine.
	ErrAttemptNotFound = errors.New("attempt not held by client")
	// ErrSessionRevoked is an exported constant or variable used by the identity engine.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrNoActiveSession is an exported constant or variable used by the identity engine.
	ErrNoActiveSession = errors.New("no active session")
	// ErrEngineNotReady is an exported constant or variable used by the identity engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrCeremonyUnavailable is returned by ceremony operations when no
	// platform ceremonies were configured.
	ErrCeremonyUnavailable = errors.New("platform ceremonies not configured")
	// ErrMissingChallenge is returned when the service did not send the
	// redirect URL or passkey challenge a ceremony needs.
	ErrMissingChallenge = errors.New("response carried no ceremony challenge")
	// ErrTransportRequired is an exported constant or variable used by the identity engine.
	ErrTransportRequired = errors.New("transport is required")
)

// ValidationError is a request the service rejected. It is not retryable
// without user correction.
type ValidationError struct {
	Status      int
	Code        string
	Message     string
	LongMessage string
	Param       string

	err *transport.APIError
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Param != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Param, msg)
	}
	return "validation failed: " + msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrServerValidation }

func (e *ValidationError) Unwrap() error {
	if e.err == nil {
		return nil
	}
	return e.err
}

// TransientError is a network failure or a 5xx response. Callers may retry.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Is(target error) bool { return target == ErrServerTransient }

func (e *TransientError) Unwrap() error { return e.Err }

// InvalidStateError reports an operation attempted from an attempt status
// that does not allow it. It is returned before any network call.
type InvalidStateError struct {
	Op     string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not permitted in status %q", e.Op, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

var sessionRevokedCodes = []string{"authentication_invalid", "session_revoked", "session_not_found"}

// classify maps a transport failure onto the engine's error taxonomy.
// sessionScoped marks requests addressed to one session, where an
// authentication failure means the session is gone.
func classify(err error, sessionScoped bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *transport.APIError
	if !errors.As(err, &apiErr) {
		return &TransientError{Err: err}
	}

	if apiErr.HasCode("verification_expired") {
		return fmt.Errorf("%w: %w", ErrAttemptExpired, apiErr)
	}
	if sessionScoped {
		if apiErr.Status == 401 {
			return fmt.Errorf("%w: %w", ErrSessionRevoked, apiErr)
		}
		for _, code := range sessionRevokedCodes {
			if apiErr.HasCode(code) {
				return fmt.Errorf("%w: %w", ErrSessionRevoked, apiErr)
			}
		}
	}
	if apiErr.Status >= 500 || apiErr.Status == 429 || apiErr.Status == 0 {
		return &TransientError{Status: apiErr.Status, Err: apiErr}
	}

	info := apiErr.First()
	return &ValidationError{
		Status:      apiErr.Status,
		Code:        info.Code,
		Message:     info.Message,
		LongMessage: info.LongMessage,
		Param:       info.ParamName,
		err:         apiErr,
	}
}
