package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newHSSigner(t *testing.T, now func() time.Time) *Signer {
	t.Helper()
	s, err := NewSigner(SignerConfig{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("test-secret-test-secret-test-123"),
		Issuer:        "auth-backend",
		Now:           now,
	})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s
}

func TestInspectReadsClaimsWithoutKey(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := newHSSigner(t, func() time.Time { return now })

	token, err := s.Mint("u1", "a@b.com", "s1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := Inspect(token)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "a@b.com" || claims.SessionID != "s1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.Expiry().Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("expected expiry %v, got %v", now.Add(15*time.Minute), claims.Expiry())
	}
}

func TestInspectRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "nope", "a.b.c"} {
		if _, err := Inspect(token); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed for %q, got %v", token, err)
		}
	}
}

func TestNeedsRefresh(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	s := newHSSigner(t, func() time.Time { return issued })
	token, err := s.Mint("u1", "", "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if NeedsRefresh(token, issued, time.Minute) {
		t.Fatal("fresh token must not need refresh")
	}
	if !NeedsRefresh(token, issued.Add(14*time.Minute), time.Minute) {
		t.Fatal("token inside skew window must need refresh")
	}
	if !NeedsRefresh(token, issued.Add(time.Hour), 0) {
		t.Fatal("expired token must need refresh")
	}
	if NeedsRefresh("opaque-token", issued, time.Minute) {
		t.Fatal("opaque tokens never need proactive refresh")
	}

	noExp := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.RegisteredClaims{Subject: "u1"})
	raw, err := noExp.SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if NeedsRefresh(raw, issued, time.Minute) {
		t.Fatal("token without exp must not need refresh")
	}
}

func TestSignerVerify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	s := newHSSigner(t, clock)

	token, err := s.Mint("u1", "a@b.com", "s1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := s.Verify(token); err != nil {
		t.Fatalf("expected token to verify: %v", err)
	}

	now = now.Add(time.Hour)
	if _, err := s.Verify(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestSignerRejectsWrongAlgorithm(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	ed, err := NewSigner(SignerConfig{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	edToken, err := ed.Mint("u1", "", "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ed.Verify(edToken); err != nil {
		t.Fatalf("expected ed25519 token to verify: %v", err)
	}

	hs := newHSSigner(t, nil)
	hsToken, err := hs.Mint("u1", "", "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ed.Verify(hsToken); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestNewSignerValidation(t *testing.T) {
	cases := []SignerConfig{
		{AccessTTL: 0, SigningMethod: MethodHS256, PrivateKey: []byte("k")},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256},
		{AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: []byte("k")},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: []byte("short")},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("k"), Leeway: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewSigner(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
