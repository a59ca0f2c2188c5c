package backendtest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type credentialsBody struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type mfaBody struct {
	Email    string `json:"email"`
	UserID   string `json:"user_id"`
	Code     string `json:"code"`
	TOTPCode string `json:"totp_code"`
}

type userBody struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	IsActive   bool   `json:"is_active"`
	Role       string `json:"role"`
	MFAEnabled bool   `json:"mfa_enabled"`
}

func (s *Server) handleValidateEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body", "email"}, "msg": "field required"}},
		})
		return
	}
	email := strings.ToLower(body.Email)

	s.mu.Lock()
	_, known := s.accounts[email]
	locked := s.locked[email]
	s.mu.Unlock()

	switch {
	case locked:
		w.Header().Set("locked", "true")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"detail": "Account temporarily locked", "locked": true})
	case !known:
		writeDetail(w, http.StatusNotFound, "User not found")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	email := strings.ToLower(body.Email)
	if email == "" {
		email = strings.ToLower(body.Username)
	}

	s.mu.Lock()
	acct, known := s.accounts[email]
	locked := s.locked[email]
	s.mu.Unlock()

	switch {
	case locked:
		w.Header().Set("locked", "true")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"detail": "Account locked", "locked": true})
		return
	case !known || acct.Password != body.Password:
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	case acct.PasswordExpired:
		w.Header().Set("error_code", "PASSWORD_EXPIRED")
		writeDetail(w, http.StatusForbidden, "Your password has expired")
		return
	case acct.MFACode != "":
		s.mu.Lock()
		s.pending[email] = acct.ID
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"requires_mfa": true,
			"requires2FA":  true,
			"message":      "2FA_REQUIRED",
			"email":        acct.Email,
			"user_id":      acct.ID,
		})
		return
	}
	s.issue(w, acct)
}

func (s *Server) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	var body mfaBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	email := strings.ToLower(body.Email)
	code := body.Code
	if code == "" {
		code = body.TOTPCode
	}

	s.mu.Lock()
	acct := s.accounts[email]
	pendingID, pending := s.pending[email]
	ok := acct != nil && pending && pendingID == acct.ID && acct.MFACode == code
	if ok {
		delete(s.pending, email)
	}
	s.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid code")
		return
	}
	s.issue(w, acct)
}

func (s *Server) handleMFAResend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	_, pending := s.pending[strings.ToLower(body.Email)]
	s.mu.Unlock()
	if !pending {
		writeDetail(w, http.StatusBadRequest, "No pending verification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Code sent"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "" {
		writeDetail(w, http.StatusBadRequest, "bearer token not accepted on refresh")
		return
	}
	cookie, err := r.Cookie(RefreshCookie)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Missing refresh token")
		return
	}

	s.mu.Lock()
	userID, ok := s.refresh[cookie.Value]
	var acct *Account
	if ok {
		for _, a := range s.accounts {
			if a.ID == userID {
				acct = a
				break
			}
		}
	}
	s.mu.Unlock()

	if acct == nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	token, err := s.mintAccess(acct)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(RefreshCookie); err == nil {
		s.mu.Lock()
		delete(s.refresh, cookie.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acct := s.authenticate(r)
	if acct == nil {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, userBody{
		ID:         acct.ID,
		Username:   acct.Username,
		Email:      acct.Email,
		IsActive:   true,
		Role:       "viewer",
		MFAEnabled: acct.MFACode != "",
	})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	acct := s.authenticate(r)
	if acct == nil {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if r.Method == http.MethodPost && r.Header.Get(CSRFHeader) != s.csrfValue {
		writeDetail(w, http.StatusForbidden, "CSRF token missing or invalid")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": acct.ID, "items": []string{"laptop-01", "switch-07"}})
}

func (s *Server) issue(w http.ResponseWriter, acct *Account) {
	token, err := s.mintAccess(acct)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	refresh := uuid.NewString()
	s.mu.Lock()
	s.refresh[refresh] = acct.ID
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: refresh, Path: "/", HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: CSRFCookie, Value: s.csrfValue, Path: "/"})
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) mintAccess(acct *Account) (string, error) {
	token, err := s.signer.Mint(acct.ID, acct.Email, uuid.NewString())
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.access[token] = acct.ID
	s.mu.Unlock()
	return token, nil
}

func (s *Server) authenticate(r *http.Request) *Account {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil
	}
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.access[token] != claims.Subject {
		return nil
	}
	for _, a := range s.accounts {
		if a.ID == claims.Subject {
			return a
		}
	}
	return nil
}
