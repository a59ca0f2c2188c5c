package goAuthClient

import (
	"encoding/json"
	"strings"
	"time"
)

// User is the account returned by GET /auth/me.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Role       string `json:"role,omitempty"`
	IsActive   bool   `json:"is_active"`
	MFAEnabled bool   `json:"mfa_enabled,omitempty"`
}

// Credentials is submitted to the login endpoint. Username is sent as both
// username and email so either backend generation accepts it.
type Credentials struct {
	Username string
	Password string
}

// MFAVerification is submitted to the MFA verify endpoint.
type MFAVerification struct {
	Email  string
	UserID string
	Code   string
}

// OutcomeKind tags a LoginOutcome.
type OutcomeKind int

const (
	// OutcomeAuthenticated means the session now holds a user and token.
	OutcomeAuthenticated OutcomeKind = iota + 1
	// OutcomeMFARequired means a second factor must be verified; the
	// session was not mutated.
	OutcomeMFARequired
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeMFARequired:
		return "mfa_required"
	default:
		return "unknown"
	}
}

// MFAChallenge identifies the pending second-factor step.
type MFAChallenge struct {
	Email  string
	UserID string
}

// LoginOutcome is the tagged result of a successful login call. Failures
// are reported through the error return instead.
type LoginOutcome struct {
	Kind      OutcomeKind
	Session   SessionState
	Challenge MFAChallenge
}

// SessionState is a point-in-time copy of the session.
type SessionState struct {
	User        *User
	AccessToken string
	Loading     bool
}

// Authenticated is derived from User; it is never stored.
func (s SessionState) Authenticated() bool {
	return s.User != nil
}

// IsAdmin reports whether the signed-in user holds the admin role. The
// role is compared case-insensitively.
func (s SessionState) IsAdmin() bool {
	return s.User != nil && strings.EqualFold(s.User.Role, "admin")
}

// tokenResponse covers the login, verify and refresh response shapes.
type tokenResponse struct {
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	RequiresMFA     bool   `json:"requires_mfa"`
	RequiresTwoFA   bool   `json:"requires2FA"`
	Message         string `json:"message"`
	Email           string `json:"email"`
	UserID          string `json:"user_id"`
	Locked          bool   `json:"locked"`
	ErrorCode       string `json:"error_code"`
	PasswordExpired bool   `json:"password_expired"`
}

func (r tokenResponse) mfaRequired() bool {
	return r.RequiresMFA || r.RequiresTwoFA || strings.EqualFold(r.Message, codeMFARequired)
}

type validateEmailResponse struct {
	Valid   *bool  `json:"valid"`
	Message string `json:"message"`
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type mfaVerifyRequest struct {
	Email    string `json:"email,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Code     string `json:"code"`
	TOTPCode string `json:"totp_code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

// AttemptRecord is the persisted failed-attempt counter for one identifier.
type AttemptRecord struct {
	Identifier     string
	Attempts       int
	FirstAttemptAt time.Time
	LockedUntil    *time.Time
}

// Locked reports whether the record blocks attempts at now.
func (r *AttemptRecord) Locked(now time.Time) bool {
	return r != nil && r.LockedUntil != nil && now.Before(*r.LockedUntil)
}

type attemptRecordJSON struct {
	Identifier     string `json:"identifier"`
	Attempts       int    `json:"attempts"`
	FirstAttemptAt int64  `json:"firstAttemptAt"`
	LockedUntil    *int64 `json:"lockedUntil,omitempty"`
}

// MarshalJSON stores timestamps as epoch milliseconds.
func (r AttemptRecord) MarshalJSON() ([]byte, error) {
	out := attemptRecordJSON{
		Identifier:     r.Identifier,
		Attempts:       r.Attempts,
		FirstAttemptAt: r.FirstAttemptAt.UnixMilli(),
	}
	if r.LockedUntil != nil {
		ms := r.LockedUntil.UnixMilli()
		out.LockedUntil = &ms
	}
	return json.Marshal(out)
}

func (r *AttemptRecord) UnmarshalJSON(data []byte) error {
	var in attemptRecordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Identifier = in.Identifier
	r.Attempts = in.Attempts
	r.FirstAttemptAt = time.UnixMilli(in.FirstAttemptAt)
	r.LockedUntil = nil
	if in.LockedUntil != nil {
		t := time.UnixMilli(*in.LockedUntil)
		r.LockedUntil = &t
	}
	return nil
}

const (
	codeMFARequired     = "2FA_REQUIRED"
	codePasswordExpired = "PASSWORD_EXPIRED"
)
