package goAuthClient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrEthical07/goAuthClient/jwt"
	"github.com/MrEthical07/goAuthClient/transport"
)

// SessionManager owns the in-memory access token and the current user.
//
// The user and token are committed together under one mutex: a token
// without a user is never observable. Every commit or clear bumps a
// generation counter; a pending login, verify or refresh whose generation
// no longer matches when its result arrives is discarded with
// ErrAbandoned. A result whose context is already done is discarded the
// same way, so an abandoned call never mutates shared state.
//
// All methods are safe for concurrent use.
type SessionManager struct {
	http      *transport.Client
	endpoints EndpointsConfig
	config    SessionConfig
	logger    *slog.Logger
	metrics   *Metrics
	audit     auditEmitter
	now       func() time.Time

	flights singleflight.Group

	mu          sync.RWMutex
	user        *User
	token       string
	loading     bool
	generation  uint64
	closed      bool
	subscribers map[int]func(SessionState)
	nextSubID   int
}

func newSessionManager(httpClient *transport.Client, cfg Config, logger *slog.Logger, metrics *Metrics, emitter auditEmitter, now func() time.Time) *SessionManager {
	if logger == nil {
		logger = discardLogger()
	}
	if now == nil {
		now = time.Now
	}
	return &SessionManager{
		http:        httpClient,
		endpoints:   cfg.Endpoints,
		config:      cfg.Session,
		logger:      logger,
		metrics:     metrics,
		audit:       emitter,
		now:         now,
		loading:     true,
		subscribers: make(map[int]func(SessionState)),
	}
}

/*
====================================
STATE
====================================
*/

// State returns a copy of the current session.
func (s *SessionManager) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *SessionManager) stateLocked() SessionState {
	var user *User
	if s.user != nil {
		u := *s.user
		user = &u
	}
	return SessionState{User: user, AccessToken: s.token, Loading: s.loading}
}

// User returns a copy of the current user, or nil.
func (s *SessionManager) User() *User {
	return s.State().User
}

// IsAuthenticated reports whether a user is signed in.
func (s *SessionManager) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// IsLoading is true from construction until the first Bootstrap finishes.
func (s *SessionManager) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// AccessTokenExpiry decodes the exp claim of the held token without
// verifying it. ok is false for no token, opaque tokens, or tokens without
// exp.
func (s *SessionManager) AccessTokenExpiry() (exp time.Time, ok bool) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	claims, err := jwt.Inspect(token)
	if err != nil || claims.Expiry().IsZero() {
		return time.Time{}, false
	}
	return claims.Expiry(), true
}

// NeedsRefresh reports whether the held token expires within buffer. A
// negative buffer uses the configured RefreshSkew.
func (s *SessionManager) NeedsRefresh(buffer time.Duration) bool {
	if buffer < 0 {
		buffer = s.config.RefreshSkew
	}
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	return jwt.NeedsRefresh(token, s.now(), buffer)
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change and must not block.
func (s *SessionManager) Subscribe(fn func(SessionState)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

/*
====================================
TRANSITIONS
====================================
*/

func (s *SessionManager) snapshotGeneration() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClientClosed
	}
	return s.generation, nil
}

// commit installs user (and token, when non-nil) if the session has not
// moved on since gen was taken and ctx is still live.
func (s *SessionManager) commit(ctx context.Context, gen uint64, user *User, token *string) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClientClosed
	case ctx.Err() != nil:
		s.mu.Unlock()
		s.metrics.Inc(MetricAbandoned)
		return ctx.Err()
	case s.generation != gen:
		s.mu.Unlock()
		s.metrics.Inc(MetricAbandoned)
		return ErrAbandoned
	}

	u := *user
	s.user = &u
	if token != nil {
		s.token = *token
		s.http.SetAccessToken(*token)
	}
	s.generation++
	state, subs := s.stateLocked(), s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, state)
	return nil
}

// clear drops user and token. It reports false when the session had
// already moved past gen (pass clearAlways to skip the check).
func (s *SessionManager) clear(gen uint64) bool {
	s.mu.Lock()
	if gen != clearAlways && s.generation != gen {
		s.mu.Unlock()
		return false
	}
	s.user = nil
	s.token = ""
	s.http.SetAccessToken("")
	s.generation++
	state, subs := s.stateLocked(), s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, state)
	return true
}

const clearAlways = ^uint64(0)

func (s *SessionManager) setLoading(loading bool) {
	s.mu.Lock()
	if s.loading == loading {
		s.mu.Unlock()
		return
	}
	s.loading = loading
	state, subs := s.stateLocked(), s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, state)
}

func (s *SessionManager) subscribersLocked() []func(SessionState) {
	if len(s.subscribers) == 0 {
		return nil
	}
	out := make([]func(SessionState), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(SessionState), state SessionState) {
	for _, fn := range subs {
		fn(state)
	}
}

/*
====================================
OPERATIONS
====================================
*/

// request sends req through the transport and records latency and
// network failures.
func (s *SessionManager) request(ctx context.Context, req transport.Request, out any) error {
	start := time.Now()
	err := s.http.Do(ctx, req, out)
	s.metrics.ObserveLatency(time.Since(start))
	if errors.Is(err, transport.ErrNetwork) {
		s.metrics.Inc(MetricNetworkError)
	}
	return err
}

// fetchUser calls GET /auth/me. A non-empty token is sent explicitly
// instead of the committed one, so a candidate token is never visible to
// concurrent requests before its user is known.
func (s *SessionManager) fetchUser(ctx context.Context, token string) (*User, error) {
	req := transport.Request{Method: http.MethodGet, Path: s.endpoints.Me}
	if token != "" {
		req.Anonymous = true
		req.Header = http.Header{"Authorization": {"Bearer " + token}}
	}
	var user User
	if err := s.request(ctx, req, &user); err != nil {
		return nil, err
	}
	if user.ID == "" && user.Email == "" && user.Username == "" {
		return nil, fmt.Errorf("goauthclient: %s returned an empty user", s.endpoints.Me)
	}
	return &user, nil
}

// Bootstrap restores a session at startup: GET /auth/me, and on failure
// one Refresh followed by one more GET /auth/me. Loading is false when it
// returns. Concurrent calls share one run.
//
// The shared run is detached from the caller's context and bounded by
// SharedCallTimeout, so one caller giving up never fails the others; a
// caller whose ctx ends stops waiting and gets ctx.Err().
//
// Ending unauthenticated is not an error. Bootstrap returns an error only
// when the client is closed, ctx is done, or the last failure was a
// network error.
func (s *SessionManager) Bootstrap(ctx context.Context) error {
	if _, err := s.snapshotGeneration(); err != nil {
		return err
	}
	_, err := s.shared(ctx, "bootstrap", func(runCtx context.Context) (any, error) {
		return nil, s.bootstrap(runCtx)
	})
	return err
}

// shared runs fn once per key for all concurrent callers. fn gets a
// context that keeps the first caller's values but not its cancellation.
func (s *SessionManager) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.flights.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.SharedCallTimeout)
		defer cancel()
		return fn(runCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *SessionManager) bootstrap(ctx context.Context) (err error) {
	s.setLoading(true)
	defer s.setLoading(false)

	defer func() {
		authenticated := s.IsAuthenticated()
		if authenticated {
			s.metrics.Inc(MetricBootstrapAuthenticated)
		} else {
			s.metrics.Inc(MetricBootstrapAnonymous)
		}
		s.audit.emit(ctx, AuditBootstrap, "", s.userID(), authenticated, err, nil)
	}()

	gen, err := s.snapshotGeneration()
	if err != nil {
		return err
	}
	user, err := s.fetchUser(ctx, "")
	if err == nil {
		return s.commit(ctx, gen, user, nil)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.Debug("bootstrap: no active session, attempting refresh", "error", err)

	token, err := s.refreshToken(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrClientClosed) || errors.Is(err, ErrNetwork) {
			return err
		}
		s.logger.Debug("bootstrap: refresh failed, staying signed out", "error", err)
		return nil
	}

	// An empty token means a user was already signed in and the refresh
	// installed its token; otherwise the token is committed with the user
	// fetched for it.
	gen, err = s.snapshotGeneration()
	if err != nil {
		return err
	}
	user, err = s.fetchUser(ctx, token)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrNetwork) {
			return err
		}
		s.logger.Debug("bootstrap: user fetch failed after refresh", "error", err)
		if token == "" {
			s.clear(gen)
		}
		return nil
	}
	if token == "" {
		return s.commit(ctx, gen, user, nil)
	}
	return s.commit(ctx, gen, user, &token)
}

// Login posts credentials. A second-factor requirement is reported as
// OutcomeMFARequired without touching the session; success installs the
// token and the fetched user together. Server errors are returned
// untouched for the caller to classify, except a 2xx body carrying
// locked=true, which becomes a *LockoutError with Server set.
func (s *SessionManager) Login(ctx context.Context, creds Credentials) (LoginOutcome, error) {
	username := strings.TrimSpace(creds.Username)
	if username == "" {
		return LoginOutcome{}, &ValidationError{Field: "username", Message: "Email is required."}
	}
	if creds.Password == "" {
		return LoginOutcome{}, &ValidationError{Field: "password", Message: "Password is required."}
	}
	gen, err := s.snapshotGeneration()
	if err != nil {
		return LoginOutcome{}, err
	}

	var resp tokenResponse
	err = s.request(ctx, transport.Request{
		Method:    http.MethodPost,
		Path:      s.endpoints.Login,
		Body:      loginRequest{Username: username, Email: username, Password: creds.Password},
		Anonymous: true,
	}, &resp)
	if err != nil {
		if isMFASignal(err) {
			return s.mfaRequired(ctx, username, tokenResponse{}), nil
		}
		s.metrics.Inc(MetricLoginFailure)
		s.audit.emit(ctx, AuditLoginFailure, username, "", false, err, nil)
		return LoginOutcome{}, err
	}

	switch {
	case resp.mfaRequired():
		return s.mfaRequired(ctx, username, resp), nil
	case resp.Locked:
		s.metrics.Inc(MetricLoginFailure)
		lockErr := &LockoutError{Identifier: username, Server: true, Message: resp.Message}
		s.audit.emit(ctx, AuditLoginFailure, username, "", false, lockErr, nil)
		return LoginOutcome{}, lockErr
	}

	state, err := s.establish(ctx, gen, resp.AccessToken, s.endpoints.Login)
	if err != nil {
		s.metrics.Inc(MetricLoginFailure)
		s.audit.emit(ctx, AuditLoginFailure, username, "", false, err, nil)
		return LoginOutcome{}, err
	}
	s.metrics.Inc(MetricLoginSuccess)
	s.audit.emit(ctx, AuditLoginSuccess, username, state.User.ID, true, nil, nil)
	s.logger.Info("login succeeded", "user_id", state.User.ID)
	return LoginOutcome{Kind: OutcomeAuthenticated, Session: state}, nil
}

func (s *SessionManager) mfaRequired(ctx context.Context, username string, resp tokenResponse) LoginOutcome {
	email := resp.Email
	if email == "" {
		email = username
	}
	s.metrics.Inc(MetricMFARequired)
	s.audit.emit(ctx, AuditMFARequired, email, resp.UserID, true, nil, nil)
	return LoginOutcome{
		Kind:      OutcomeMFARequired,
		Session:   s.State(),
		Challenge: MFAChallenge{Email: email, UserID: resp.UserID},
	}
}

// VerifyMFA submits a second-factor code. Success has the same contract as
// Login; on failure the session is left untouched.
func (s *SessionManager) VerifyMFA(ctx context.Context, v MFAVerification) (SessionState, error) {
	code := strings.TrimSpace(v.Code)
	if code == "" {
		return SessionState{}, &ValidationError{Field: "code", Message: "Verification code is required."}
	}
	if v.Email == "" && v.UserID == "" {
		return SessionState{}, &ValidationError{Field: "email", Message: "Email is required."}
	}
	gen, err := s.snapshotGeneration()
	if err != nil {
		return SessionState{}, err
	}

	var resp tokenResponse
	err = s.request(ctx, transport.Request{
		Method:    http.MethodPost,
		Path:      s.endpoints.MFAVerify,
		Body:      mfaVerifyRequest{Email: v.Email, UserID: v.UserID, Code: code, TOTPCode: code},
		Anonymous: true,
	}, &resp)
	if err == nil {
		var state SessionState
		state, err = s.establish(ctx, gen, resp.AccessToken, s.endpoints.MFAVerify)
		if err == nil {
			s.metrics.Inc(MetricMFASuccess)
			s.audit.emit(ctx, AuditMFASuccess, v.Email, state.User.ID, true, nil, nil)
			s.logger.Info("mfa verification succeeded", "user_id", state.User.ID)
			return state, nil
		}
	}
	s.metrics.Inc(MetricMFAFailure)
	s.audit.emit(ctx, AuditMFAFailure, v.Email, v.UserID, false, err, nil)
	return SessionState{}, err
}

// establish fetches the user for token and commits both.
func (s *SessionManager) establish(ctx context.Context, gen uint64, token, endpoint string) (SessionState, error) {
	if token == "" {
		return SessionState{}, fmt.Errorf("goauthclient: %s response carried no access_token", endpoint)
	}
	user, err := s.fetchUser(ctx, token)
	if err != nil {
		return SessionState{}, err
	}
	if err := s.commit(ctx, gen, user, &token); err != nil {
		return SessionState{}, err
	}
	return s.State(), nil
}

// ResendMFA asks the backend to issue a new second-factor code.
func (s *SessionManager) ResendMFA(ctx context.Context, email string) error {
	if _, err := s.snapshotGeneration(); err != nil {
		return err
	}
	err := s.request(ctx, transport.Request{
		Method:    http.MethodPost,
		Path:      s.endpoints.MFAResend,
		Body:      emailRequest{Email: email},
		Anonymous: true,
	}, nil)
	if err == nil {
		s.metrics.Inc(MetricMFAResend)
	}
	s.audit.emit(ctx, AuditMFAResend, email, "", err == nil, err, nil)
	return err
}

// ValidateIdentifier asks the backend whether email may sign in. A 2xx
// response without a valid field counts as valid.
func (s *SessionManager) ValidateIdentifier(ctx context.Context, email string) (bool, error) {
	if _, err := s.snapshotGeneration(); err != nil {
		return false, err
	}
	var resp validateEmailResponse
	err := s.request(ctx, transport.Request{
		Method:    http.MethodPost,
		Path:      s.endpoints.ValidateEmail,
		Body:      emailRequest{Email: email},
		Anonymous: true,
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Valid == nil || *resp.Valid, nil
}

// Logout makes a best-effort call to the logout endpoint and then clears
// the user and token whatever the outcome. It only fails when the client
// is closed.
func (s *SessionManager) Logout(ctx context.Context) error {
	if _, err := s.snapshotGeneration(); err != nil {
		return err
	}
	userID := s.userID()
	defer func() {
		s.clear(clearAlways)
		s.metrics.Inc(MetricLogout)
	}()

	err := s.request(ctx, transport.Request{Method: http.MethodPost, Path: s.endpoints.Logout}, nil)
	if err != nil {
		s.metrics.Inc(MetricLogoutNetworkFailure)
		s.logger.Warn("logout request failed; clearing local session anyway", "error", err)
	}
	s.audit.emit(ctx, AuditLogout, "", userID, err == nil, err, nil)
	return nil
}

// Refresh exchanges the refresh cookie for a new access token. Success
// replaces only the token. Failure clears the session and returns an error
// wrapping ErrSessionExpired. Concurrent calls share one request, run as
// Bootstrap's is: detached from any single caller and bounded by
// SharedCallTimeout.
//
// With nobody signed in there is no token to replace; the new token is
// dropped rather than held without a user. Bootstrap is the way to
// restore a session from the cookie.
func (s *SessionManager) Refresh(ctx context.Context) error {
	_, err := s.refreshToken(ctx)
	return err
}

// refreshToken is the shared refresh run. It returns the new token when
// no user is signed in, leaving installation to the caller; otherwise the
// token is installed and "" is returned.
func (s *SessionManager) refreshToken(ctx context.Context) (string, error) {
	if _, err := s.snapshotGeneration(); err != nil {
		return "", err
	}
	val, err := s.shared(ctx, "refresh", func(runCtx context.Context) (any, error) {
		return s.refresh(runCtx)
	})
	if err != nil {
		return "", err
	}
	token, _ := val.(string)
	return token, nil
}

func (s *SessionManager) refresh(ctx context.Context) (string, error) {
	gen, err := s.snapshotGeneration()
	if err != nil {
		return "", err
	}

	var resp tokenResponse
	err = s.request(ctx, transport.Request{Method: http.MethodPost, Path: s.endpoints.Refresh}, &resp)
	if err == nil && resp.AccessToken == "" {
		err = fmt.Errorf("goauthclient: %s response carried no access_token", s.endpoints.Refresh)
	}
	if err != nil {
		if ctx.Err() != nil {
			s.metrics.Inc(MetricAbandoned)
			return "", ctx.Err()
		}
		s.metrics.Inc(MetricRefreshFailure)
		s.audit.emit(ctx, AuditRefreshFailure, "", s.userID(), false, err, nil)
		if s.clear(gen) {
			s.metrics.Inc(MetricSessionExpired)
		}
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return "", ErrClientClosed
	case ctx.Err() != nil:
		s.mu.Unlock()
		s.metrics.Inc(MetricAbandoned)
		return "", ctx.Err()
	case s.generation != gen:
		s.mu.Unlock()
		s.metrics.Inc(MetricAbandoned)
		return "", ErrAbandoned
	case s.user == nil:
		s.mu.Unlock()
		s.metrics.Inc(MetricRefreshSuccess)
		s.audit.emit(ctx, AuditRefreshSuccess, "", "", true, nil, nil)
		return resp.AccessToken, nil
	}
	s.token = resp.AccessToken
	s.http.SetAccessToken(resp.AccessToken)
	state, subs := s.stateLocked(), s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, state)
	s.metrics.Inc(MetricRefreshSuccess)
	s.audit.emit(ctx, AuditRefreshSuccess, "", s.userID(), true, nil, nil)
	return "", nil
}

// Do performs an authenticated request. On a 401 while authenticated it
// refreshes once and retries once; if the refresh fails the session is
// cleared and the ErrSessionExpired error is returned.
func (s *SessionManager) Do(ctx context.Context, req transport.Request, out any) error {
	if _, err := s.snapshotGeneration(); err != nil {
		return err
	}
	s.mu.RLock()
	sentToken := s.token
	s.mu.RUnlock()

	err := s.request(ctx, req, out)
	if err == nil || !transport.IsUnauthorized(err) || !s.config.RetryOn401 {
		return err
	}
	if !s.IsAuthenticated() || s.isRefreshPath(req.Path) {
		return err
	}

	// Another caller may already have rotated the token.
	s.mu.RLock()
	rotated := s.token != "" && s.token != sentToken
	s.mu.RUnlock()
	if !rotated {
		if rerr := s.Refresh(ctx); rerr != nil {
			return rerr
		}
	}
	s.metrics.Inc(MetricRetryAfterRefresh)
	return s.request(ctx, req, out)
}

func (s *SessionManager) isRefreshPath(path string) bool {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path == s.endpoints.Refresh
}

// Dispose clears the session and rejects further calls with
// ErrClientClosed.
func (s *SessionManager) Dispose() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.user = nil
	s.token = ""
	s.loading = false
	s.http.SetAccessToken("")
	s.generation++
	s.subscribers = make(map[int]func(SessionState))
	s.mu.Unlock()
}

func (s *SessionManager) userID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

func isMFASignal(err error) bool {
	var httpErr *transport.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return strings.EqualFold(httpErr.Code, codeMFARequired) || strings.EqualFold(httpErr.Detail, codeMFARequired)
}
