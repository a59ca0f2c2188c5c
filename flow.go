package goAuthClient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goAuthClient/transport"
)

// FlowStep is a LoginFlow state.
type FlowStep int

const (
	StepIdentifier FlowStep = iota
	StepPassword
	StepMFA
	// StepDone is terminal: the session is authenticated.
	StepDone
)

func (s FlowStep) String() string {
	switch s {
	case StepIdentifier:
		return "identifier"
	case StepPassword:
		return "password"
	case StepMFA:
		return "mfa"
	case StepDone:
		return "done"
	default:
		return "unknown"
	}
}

// FlowSnapshot is what a login screen renders.
type FlowSnapshot struct {
	Step           FlowStep
	ValidatedEmail string
	Challenge      MFAChallenge
	// Error is the user-facing message for the last failed action.
	Error string
	// Notice is an informational message, e.g. after a code resend.
	Notice     string
	Submitting bool
	// LockedUntil is set while the current identifier is throttled.
	LockedUntil time.Time
	// Remaining is the attempts left before lockout, or -1 when unknown.
	Remaining       int
	RememberMe      bool
	PasswordExpired bool
}

// Locked reports whether submissions are currently throttled.
func (s FlowSnapshot) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// LoginFlow drives the identifier, password and MFA steps. Steps are never
// skipped and MFA is only reachable through an MFA-required login outcome.
// One submission may be in flight at a time.
//
// Lockouts are checked on every submission rather than on step entry, and
// going back to the identifier step never clears attempt records.
type LoginFlow struct {
	session  *SessionManager
	guard    *BruteForceGuard
	mfaGuard *BruteForceGuard
	remember *RememberMe
	config   FlowConfig
	logger   *slog.Logger
	metrics  *Metrics
	audit    auditEmitter
	now      func() time.Time

	mu              sync.Mutex
	step            FlowStep
	email           string
	challenge       MFAChallenge
	message         string
	notice          string
	submitting      bool
	lockedUntil     time.Time
	remaining       int
	rememberMe      bool
	passwordExpired bool
}

// NewLoginFlow returns a flow at StepIdentifier. remember may be nil.
func NewLoginFlow(session *SessionManager, guard, mfaGuard *BruteForceGuard, remember *RememberMe, cfg FlowConfig) *LoginFlow {
	return &LoginFlow{
		session:   session,
		guard:     guard,
		mfaGuard:  mfaGuard,
		remember:  remember,
		config:    cfg,
		logger:    session.logger,
		metrics:   session.metrics,
		audit:     session.audit,
		now:       session.now,
		step:      StepIdentifier,
		remaining: -1,
	}
}

// Snapshot returns the current flow state.
func (f *LoginFlow) Snapshot() FlowSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FlowSnapshot{
		Step:            f.step,
		ValidatedEmail:  f.email,
		Challenge:       f.challenge,
		Error:           f.message,
		Notice:          f.notice,
		Submitting:      f.submitting,
		LockedUntil:     f.lockedUntil,
		Remaining:       f.remaining,
		RememberMe:      f.rememberMe,
		PasswordExpired: f.passwordExpired,
	}
}

// SetRememberMe records the preference persisted after a successful login.
func (f *LoginFlow) SetRememberMe(remember bool) {
	f.mu.Lock()
	f.rememberMe = remember
	f.mu.Unlock()
}

// SubmitIdentifier validates email locally, refuses it while locked out
// (without contacting the server), then asks the backend to validate it.
// On success the flow moves to StepPassword.
func (f *LoginFlow) SubmitIdentifier(ctx context.Context, email string) (err error) {
	if _, err := f.begin(StepIdentifier); err != nil {
		return err
	}
	defer func() { f.end(err) }()

	id := strings.ToLower(strings.TrimSpace(email))
	if err := validateEmail(id); err != nil {
		return err
	}
	if err := f.checkLock(ctx, f.guard, id, lockoutMessage); err != nil {
		return err
	}

	valid, err := f.session.ValidateIdentifier(ctx, id)
	if err != nil {
		if serverLocked(err) {
			return f.serverLockout(ctx, f.guard, id, lockoutMessage)
		}
		return err
	}
	if !valid {
		f.metrics.Inc(MetricIdentifierRejected)
		f.audit.emit(ctx, AuditIdentifierValidated, id, "", false, nil, nil)
		return &AuthenticationError{Message: "Email not found. Please check your email address.", Remaining: -1}
	}

	f.audit.emit(ctx, AuditIdentifierValidated, id, "", true, nil, nil)
	f.mu.Lock()
	f.step = StepPassword
	f.email = id
	f.mu.Unlock()
	return nil
}

// SubmitPassword attempts a login for the validated email. It re-checks the
// lockout first, then the minimum length, so neither costs a round trip.
func (f *LoginFlow) SubmitPassword(ctx context.Context, password string) (outcome LoginOutcome, err error) {
	email, err := f.begin(StepPassword)
	if err != nil {
		return LoginOutcome{}, err
	}
	defer func() { f.end(err) }()

	if err := f.checkLock(ctx, f.guard, email, lockoutMessage); err != nil {
		return LoginOutcome{}, err
	}
	if len(password) < f.config.MinPasswordLength {
		return LoginOutcome{}, &ValidationError{
			Field:   "password",
			Message: fmt.Sprintf("Password must be at least %d characters.", f.config.MinPasswordLength),
		}
	}

	outcome, err = f.session.Login(ctx, Credentials{Username: email, Password: password})
	if err != nil {
		return LoginOutcome{}, f.passwordFailure(ctx, email, err)
	}

	switch outcome.Kind {
	case OutcomeMFARequired:
		f.resetGuard(ctx, f.guard, email)
		f.resetGuard(ctx, f.mfaGuard, email)
		challenge := outcome.Challenge
		if challenge.Email == "" {
			challenge.Email = email
		}
		f.mu.Lock()
		f.step = StepMFA
		f.challenge = challenge
		f.mu.Unlock()
	case OutcomeAuthenticated:
		f.resetGuard(ctx, f.guard, email)
		f.complete(ctx)
	}
	return outcome, nil
}

// SubmitMFA verifies a second-factor code for the pending challenge.
func (f *LoginFlow) SubmitMFA(ctx context.Context, code string) (state SessionState, err error) {
	email, err := f.begin(StepMFA)
	if err != nil {
		return SessionState{}, err
	}
	defer func() { f.end(err) }()

	if err := f.checkLock(ctx, f.mfaGuard, email, mfaLockout); err != nil {
		return SessionState{}, err
	}

	f.mu.Lock()
	challenge := f.challenge
	f.mu.Unlock()

	state, err = f.session.VerifyMFA(ctx, MFAVerification{Email: challenge.Email, UserID: challenge.UserID, Code: code})
	if err != nil {
		return SessionState{}, f.mfaFailure(ctx, email, err)
	}

	f.resetGuard(ctx, f.mfaGuard, email)
	f.resetGuard(ctx, f.guard, email)
	f.complete(ctx)
	return state, nil
}

// ResendMFA asks the backend for a fresh code for the pending challenge.
func (f *LoginFlow) ResendMFA(ctx context.Context) (err error) {
	if _, err := f.begin(StepMFA); err != nil {
		return err
	}
	defer func() { f.end(err) }()

	f.mu.Lock()
	email := f.challenge.Email
	f.mu.Unlock()

	if err := f.session.ResendMFA(ctx, email); err != nil {
		return err
	}
	f.mu.Lock()
	f.notice = "New code sent! Check your app."
	f.mu.Unlock()
	return nil
}

// BackToIdentifier returns to the first step, clearing the validated email
// and step messages. Attempt records are kept.
func (f *LoginFlow) BackToIdentifier() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitting {
		return ErrSubmissionInFlight
	}
	f.step = StepIdentifier
	f.email = ""
	f.challenge = MFAChallenge{}
	f.message = ""
	f.notice = ""
	f.lockedUntil = time.Time{}
	f.remaining = -1
	f.passwordExpired = false
	return nil
}

// BackToPassword leaves the MFA step for the password step.
func (f *LoginFlow) BackToPassword() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitting {
		return ErrSubmissionInFlight
	}
	if f.step != StepMFA {
		return ErrInvalidStep
	}
	f.step = StepPassword
	f.challenge = MFAChallenge{}
	f.message = ""
	f.notice = ""
	f.lockedUntil = time.Time{}
	f.remaining = -1
	return nil
}

/*
====================================
HELPERS
====================================
*/

func (f *LoginFlow) begin(step FlowStep) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitting {
		return "", ErrSubmissionInFlight
	}
	if f.step != step {
		return "", fmt.Errorf("%w: %s while at %s", ErrInvalidStep, step, f.step)
	}
	f.submitting = true
	f.message = ""
	f.notice = ""
	return f.email, nil
}

func (f *LoginFlow) end(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false
	if err == nil {
		f.lockedUntil = time.Time{}
		f.remaining = -1
		return
	}

	f.message = Message(err)
	var lockErr *LockoutError
	if errors.As(err, &lockErr) {
		f.lockedUntil = lockErr.Until
		f.remaining = 0
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		f.remaining = authErr.Remaining
	}
	if errors.Is(err, ErrPasswordExpired) {
		f.passwordExpired = true
	}
}

func (f *LoginFlow) complete(ctx context.Context) {
	f.mu.Lock()
	f.step = StepDone
	remember := f.rememberMe
	f.mu.Unlock()

	if f.remember == nil {
		return
	}
	if err := f.remember.Set(ctx, remember); err != nil {
		f.logger.Warn("could not persist remember-me flag", "error", err)
	}
}

// checkLock returns a *LockoutError when id is locked in guard. Store
// failures are logged and treated as unlocked: the guard is advisory.
func (f *LoginFlow) checkLock(ctx context.Context, guard *BruteForceGuard, id string, message func(until, now time.Time, precheck bool) string) error {
	rec, err := guard.GetAttemptState(ctx, id)
	if err != nil {
		f.guardFailure(err)
		return nil
	}
	now := f.now()
	if !rec.Locked(now) {
		return nil
	}
	f.metrics.Inc(MetricLockoutLocal)
	return &LockoutError{Identifier: id, Until: *rec.LockedUntil, Message: message(*rec.LockedUntil, now, true)}
}

// serverLockout mirrors an authoritative server lockout into guard so the
// identifier stays throttled across back-navigation.
func (f *LoginFlow) serverLockout(ctx context.Context, guard *BruteForceGuard, id string, message func(until, now time.Time, precheck bool) string) error {
	now := f.now()
	until := now.Add(guard.LockoutTTL())
	rec, err := guard.ForceLockout(ctx, id, until)
	if err != nil {
		f.guardFailure(err)
	} else if rec.LockedUntil != nil {
		until = *rec.LockedUntil
	}
	f.metrics.Inc(MetricLockoutServer)
	lockErr := &LockoutError{Identifier: id, Until: until, Server: true, Message: message(until, now, false)}
	f.audit.emit(ctx, AuditLockout, id, "", false, lockErr, map[string]string{"source": "server"})
	return lockErr
}

// recordFailure counts a rejected attempt and words the resulting error.
func (f *LoginFlow) recordFailure(ctx context.Context, guard *BruteForceGuard, id string, cause error, lockMessage func(until, now time.Time, precheck bool) string, remainingMessage string) error {
	rec, err := guard.RecordFailedAttempt(ctx, id)
	if err != nil {
		f.guardFailure(err)
		return &AuthenticationError{Message: Message(cause), Remaining: -1, Cause: cause}
	}
	now := f.now()
	if rec.Locked(now) {
		f.metrics.Inc(MetricLockoutLocal)
		lockErr := &LockoutError{Identifier: id, Until: *rec.LockedUntil, Message: lockMessage(*rec.LockedUntil, now, false)}
		f.audit.emit(ctx, AuditLockout, id, "", false, lockErr, map[string]string{"source": "client"})
		return lockErr
	}
	remaining := guard.Remaining(rec)
	msg := fmt.Sprintf(remainingMessage, remaining)
	if errors.Is(cause, ErrNetwork) || transport.StatusCode(cause) >= 500 {
		// The server never judged the credentials; say what went wrong.
		msg = Message(cause)
	}
	return &AuthenticationError{
		Message:   msg,
		Remaining: remaining,
		Cause:     cause,
	}
}

func (f *LoginFlow) passwordFailure(ctx context.Context, email string, err error) error {
	switch {
	case !countsAsAttempt(ctx, err):
		return err
	case isPasswordExpired(err):
		return fmt.Errorf("%w: %w", ErrPasswordExpired, err)
	case serverLocked(err):
		return f.serverLockout(ctx, f.guard, email, lockoutMessage)
	}
	return f.recordFailure(ctx, f.guard, email, err, lockoutMessage, "Invalid credentials. %d attempt(s) remaining.")
}

func (f *LoginFlow) mfaFailure(ctx context.Context, email string, err error) error {
	switch {
	case !countsAsAttempt(ctx, err):
		return err
	case serverLocked(err):
		return f.serverLockout(ctx, f.mfaGuard, email, mfaLockout)
	}
	return f.recordFailure(ctx, f.mfaGuard, email, err, mfaLockout, "Invalid code. %d attempt(s) left.")
}

func (f *LoginFlow) resetGuard(ctx context.Context, guard *BruteForceGuard, id string) {
	if err := guard.ResetAttempts(ctx, id); err != nil {
		f.guardFailure(err)
	}
}

func (f *LoginFlow) guardFailure(err error) {
	f.metrics.Inc(MetricGuardStoreFailure)
	f.logger.Warn("attempt guard unavailable; continuing without client throttle", "error", err)
}

func mfaLockout(until, now time.Time, _ bool) string {
	return mfaLockoutMessage(until, now)
}

// countsAsAttempt is false only when the submission never ran to an
// answer: local validation, or the caller or client going away. Network
// errors and 5xx count like a rejection.
func countsAsAttempt(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrAbandoned),
		errors.Is(err, ErrClientClosed):
		return false
	}
	return true
}

func serverLocked(err error) bool {
	var lockErr *LockoutError
	if errors.As(err, &lockErr) && lockErr.Server {
		return true
	}
	var httpErr *transport.HTTPError
	return errors.As(err, &httpErr) && (httpErr.Locked || httpErr.Status == 429)
}

func isPasswordExpired(err error) bool {
	var httpErr *transport.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return strings.EqualFold(httpErr.Code, codePasswordExpired) ||
		strings.Contains(httpErr.Detail, codePasswordExpired) ||
		strings.Contains(strings.ToLower(httpErr.Detail), "password has expired")
}
