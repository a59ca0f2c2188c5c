package goAuthClient

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAuthClient/transport"
)

var (
	// ErrValidation marks input rejected locally before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrAuthentication marks credentials or codes rejected by the server.
	ErrAuthentication = errors.New("authentication failed")
	// ErrLockout marks a throttled identifier, client-side or server-side.
	ErrLockout = errors.New("too many failed attempts")
	// ErrSessionExpired is returned when refresh fails; local state has been cleared.
	ErrSessionExpired = errors.New("session expired")
	// ErrNetwork marks transport failures that produced no HTTP status.
	ErrNetwork = transport.ErrNetwork
	// ErrPasswordExpired is the server's PASSWORD_EXPIRED signal on login.
	ErrPasswordExpired = errors.New("password expired")
	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrClientClosed is returned after Close/Dispose.
	ErrClientClosed = errors.New("client closed")
	// ErrAbandoned is returned when a result was discarded because the
	// session changed (logout, refresh failure) while the call was pending.
	ErrAbandoned = errors.New("operation abandoned")
	// ErrSubmissionInFlight rejects overlapping submissions on a LoginFlow.
	ErrSubmissionInFlight = errors.New("submission already in flight")
	// ErrInvalidStep rejects an action not allowed in the current flow step.
	ErrInvalidStep = errors.New("action not allowed in current step")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrStoreUnavailable wraps attempt-store failures.
	ErrStoreUnavailable = errors.New("attempt store unavailable")
)

// ValidationError reports a locally rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// LockoutError reports that further attempts are blocked until Until.
type LockoutError struct {
	Identifier string
	Until      time.Time
	// Server is true when the backend's locked signal triggered the lockout.
	Server  bool
	Message string
}

func (e *LockoutError) Error() string {
	return e.Message
}

func (e *LockoutError) Unwrap() error {
	return ErrLockout
}

// AuthenticationError reports a server rejection. Remaining is the number
// of attempts left before lockout, or -1 when not tracked.
type AuthenticationError struct {
	Message   string
	Remaining int
	Cause     error
}

func (e *AuthenticationError) Error() string {
	return e.Message
}

func (e *AuthenticationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrAuthentication}
	}
	return []error{ErrAuthentication, e.Cause}
}

// ErrorKind is the coarse category of an error, for UI messaging.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindAuthentication
	KindLockout
	KindSessionExpired
	KindNetwork
	KindPasswordExpired
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindLockout:
		return "lockout"
	case KindSessionExpired:
		return "session_expired"
	case KindNetwork:
		return "network"
	case KindPasswordExpired:
		return "password_expired"
	default:
		return "unknown"
	}
}

// Classify maps err onto the error taxonomy. Raw transport errors are
// classified by status: 401/403 as authentication, 429 or a locked signal
// as lockout.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrLockout):
		return KindLockout
	case errors.Is(err, ErrSessionExpired):
		return KindSessionExpired
	case errors.Is(err, ErrPasswordExpired):
		return KindPasswordExpired
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	}

	var httpErr *transport.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Locked || httpErr.Status == 429:
			return KindLockout
		case httpErr.Code == codePasswordExpired:
			return KindPasswordExpired
		case httpErr.Status == 401 || httpErr.Status == 403:
			return KindAuthentication
		}
	}
	return KindUnknown
}

// Message returns the text to show a user for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Message
	}
	var lockErr *LockoutError
	if errors.As(err, &lockErr) && lockErr.Message != "" {
		return lockErr.Message
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}

	switch Classify(err) {
	case KindNetwork:
		return "Network error. Check your connection and try again."
	case KindSessionExpired:
		return "Your session has expired. Please sign in again."
	case KindPasswordExpired:
		return "Your password has expired. Please reset it."
	case KindLockout:
		return "Too many failed attempts. Please try again later."
	}
	var httpErr *transport.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Detail
	}
	return "Something went wrong. Please try again."
}

// lockoutMessage words a lockout found before an attempt (precheck) or
// triggered by the attempt just made.
func lockoutMessage(until, now time.Time, precheck bool) string {
	minutes := minutesUntil(until, now)
	if precheck {
		return fmt.Sprintf("Too many failed attempts. Try again in ~%d minute(s).", minutes)
	}
	return fmt.Sprintf("Too many failed attempts. Locked out for %d minute(s).", minutes)
}

func mfaLockoutMessage(until, now time.Time) string {
	return fmt.Sprintf("Too many MFA attempts. Try again in %d minute(s).", minutesUntil(until, now))
}

func minutesUntil(until, now time.Time) int {
	remaining := until.Sub(now)
	if remaining <= 0 {
		return 1
	}
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
