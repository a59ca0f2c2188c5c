// Package backendtest is an in-process fake of the console's auth backend
// for tests and the mock-backend example. It issues real HS256 access
// tokens, an httpOnly refresh cookie and a readable CSRF cookie, and lets
// tests inject failures per path.
package backendtest

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/MrEthical07/goAuthClient/jwt"
)

const (
	RefreshCookie = "refresh_token"
	CSRFCookie    = "csrf_token"
	CSRFHeader    = "X-CSRF-Token"
)

// Account is a user known to the fake backend.
type Account struct {
	ID       string
	Email    string
	Username string
	Password string
	// MFACode enables the second factor when non-empty.
	MFACode         string
	PasswordExpired bool
}

// Failure is a canned response served instead of the real handler.
type Failure struct {
	Status int
	Body   string
	Header http.Header
	// Drop closes the connection without a response.
	Drop bool
	// Times limits how often the failure fires; 0 means until cleared.
	Times int
}

// Server is the fake backend. Its zero value is not usable; call New.
type Server struct {
	signer *jwt.Signer
	router *mux.Router

	mu        sync.Mutex
	accounts  map[string]*Account
	refresh   map[string]string
	access    map[string]string
	pending   map[string]string
	locked    map[string]bool
	failures  map[string]*Failure
	delays    map[string]time.Duration
	calls     map[string]int
	csrfSeen  map[string]string
	csrfValue string
}

// New returns a Server with no accounts.
func New() *Server {
	signer, err := jwt.NewSigner(jwt.SignerConfig{
		AccessTTL:     15 * time.Minute,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(uuid.NewString() + uuid.NewString()),
		Issuer:        "backendtest",
	})
	if err != nil {
		panic(err)
	}

	s := &Server{
		signer:    signer,
		accounts:  make(map[string]*Account),
		refresh:   make(map[string]string),
		access:    make(map[string]string),
		pending:   make(map[string]string),
		locked:    make(map[string]bool),
		failures:  make(map[string]*Failure),
		delays:    make(map[string]time.Duration),
		calls:     make(map[string]int),
		csrfSeen:  make(map[string]string),
		csrfValue: uuid.NewString(),
	}

	r := mux.NewRouter()
	r.Use(s.intercept)
	r.HandleFunc("/auth/validate-email", s.handleValidateEmail).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/mfa/verify", s.handleMFAVerify).Methods(http.MethodPost)
	r.HandleFunc("/auth/mfa/resend", s.handleMFAResend).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)
	r.HandleFunc("/api/items", s.handleItems).Methods(http.MethodGet, http.MethodPost)
	s.router = r
	return s
}

// Start serves s on a loopback listener closed at test cleanup and
// returns its base URL.
func (s *Server) Start(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv.URL
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddAccount registers acct. A missing ID is generated.
func (s *Server) AddAccount(acct Account) Account {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.Username == "" {
		acct.Username = strings.SplitN(acct.Email, "@", 2)[0]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := acct
	s.accounts[strings.ToLower(acct.Email)] = &a
	return acct
}

// Lock makes the server report email as locked.
func (s *Server) Lock(email string) {
	s.mu.Lock()
	s.locked[strings.ToLower(email)] = true
	s.mu.Unlock()
}

// Fail serves f instead of the handler for path.
func (s *Server) Fail(path string, f Failure) {
	s.mu.Lock()
	s.failures[path] = &f
	s.mu.Unlock()
}

// ClearFailure removes an injected failure.
func (s *Server) ClearFailure(path string) {
	s.mu.Lock()
	delete(s.failures, path)
	s.mu.Unlock()
}

// Delay holds requests to path for d before handling them.
func (s *Server) Delay(path string, d time.Duration) {
	s.mu.Lock()
	s.delays[path] = d
	s.mu.Unlock()
}

// Calls returns how many requests reached path, failures included.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// TotalCalls returns the number of requests across all paths.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// CSRFSeen returns the CSRF header on the last request to path.
func (s *Server) CSRFSeen(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csrfSeen[path]
}

// CSRFValue is the token issued in the CSRF cookie.
func (s *Server) CSRFValue() string {
	return s.csrfValue
}

// RevokeAccessTokens invalidates every issued access token; refresh
// cookies stay valid.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	s.access = make(map[string]string)
	s.mu.Unlock()
}

// RevokeRefreshTokens invalidates every refresh cookie.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	s.refresh = make(map[string]string)
	s.mu.Unlock()
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		s.mu.Lock()
		s.calls[path]++
		s.csrfSeen[path] = r.Header.Get(CSRFHeader)
		delay := s.delays[path]
		var failure *Failure
		if f, ok := s.failures[path]; ok {
			cp := *f
			failure = &cp
			if f.Times > 0 {
				f.Times--
				if f.Times == 0 {
					delete(s.failures, path)
				}
			}
		}
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if failure != nil {
			serveFailure(w, failure)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func serveFailure(w http.ResponseWriter, f *Failure) {
	if f.Drop {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				if tcp, ok := conn.(*net.TCPConn); ok {
					_ = tcp.SetLinger(0)
				}
				_ = conn.Close()
				return
			}
		}
		panic(http.ErrAbortHandler)
	}
	for k, v := range f.Header {
		w.Header()[k] = v
	}
	status := f.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(f.Body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
