package goAuthClient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goAuthClient/kvstore"
)

func newTestGuard(t *testing.T) (*BruteForceGuard, *testClock, *kvstore.Memory) {
	t.Helper()
	clock := newTestClock()
	store := kvstore.NewMemoryWithClock(clock.Now)
	return NewBruteForceGuard(store, DefaultConfig().Guard, clock.Now), clock, store
}

func TestGuardLocksOnFifthFailure(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGuard(t)

	for i := 1; i <= 4; i++ {
		rec, err := g.RecordFailedAttempt(ctx, "a@b.com")
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if rec.Attempts != i || rec.LockedUntil != nil {
			t.Fatalf("attempt %d: unexpected record %+v", i, rec)
		}
		if got := g.Remaining(rec); got != 5-i {
			t.Fatalf("attempt %d: expected %d remaining, got %d", i, 5-i, got)
		}
	}

	rec, err := g.RecordFailedAttempt(ctx, "A@B.com ")
	if err != nil {
		t.Fatalf("fifth attempt: %v", err)
	}
	if rec.Attempts != 5 || rec.LockedUntil == nil {
		t.Fatalf("expected lockout on fifth attempt, got %+v", rec)
	}
	if want := clock.Now().Add(15 * time.Minute); !rec.LockedUntil.Equal(want) {
		t.Fatalf("expected lockedUntil %v, got %v", want, rec.LockedUntil)
	}

	locked, err := g.IsLocked(ctx, "a@b.com")
	if err != nil || !locked {
		t.Fatalf("expected locked, got %v (%v)", locked, err)
	}

	clock.Advance(15*time.Minute - time.Millisecond)
	if locked, _ := g.IsLocked(ctx, "a@b.com"); !locked {
		t.Fatal("expected lock to hold until lockedUntil")
	}

	clock.Advance(time.Millisecond)
	if locked, _ := g.IsLocked(ctx, "a@b.com"); locked {
		t.Fatal("expected lock to expire exactly at lockedUntil")
	}
}

func TestGuardExpiredRecordIsPurged(t *testing.T) {
	ctx := context.Background()
	g, clock, store := newTestGuard(t)

	for i := 0; i < 5; i++ {
		if _, err := g.RecordFailedAttempt(ctx, "a@b.com"); err != nil {
			t.Fatalf("attempt: %v", err)
		}
	}
	clock.Advance(16 * time.Minute)

	rec, err := g.GetAttemptState(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("GetAttemptState: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected expired record to read as absent, got %+v", rec)
	}
	if _, err := store.Get(ctx, "bf_attempts:a@b.com"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("expected expired record purged from store, got %v", err)
	}

	rec, err = g.RecordFailedAttempt(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("attempt after expiry: %v", err)
	}
	if rec.Attempts != 1 || rec.LockedUntil != nil {
		t.Fatalf("expected a fresh record after expiry, got %+v", rec)
	}
}

func TestGuardResetAndIdentifierNormalization(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGuard(t)

	if _, err := g.RecordFailedAttempt(ctx, "  User@Example.COM"); err != nil {
		t.Fatalf("attempt: %v", err)
	}
	rec, err := g.GetAttemptState(ctx, "user@example.com")
	if err != nil || rec == nil || rec.Attempts != 1 {
		t.Fatalf("expected normalized record, got %+v (%v)", rec, err)
	}
	if rec.Identifier != "user@example.com" {
		t.Fatalf("expected lowercased identifier, got %q", rec.Identifier)
	}

	if err := g.ResetAttempts(ctx, "USER@example.com"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if rec, _ := g.GetAttemptState(ctx, "user@example.com"); rec != nil {
		t.Fatalf("expected record removed, got %+v", rec)
	}
	if err := g.ResetAttempts(ctx, "user@example.com"); err != nil {
		t.Fatalf("reset of absent record should succeed, got %v", err)
	}

	if _, err := g.RecordFailedAttempt(ctx, "   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank identifier, got %v", err)
	}
}

func TestGuardStoresEpochMillisRecord(t *testing.T) {
	ctx := context.Background()
	g, clock, store := newTestGuard(t)

	for i := 0; i < 5; i++ {
		if _, err := g.RecordFailedAttempt(ctx, "a@b.com"); err != nil {
			t.Fatalf("attempt: %v", err)
		}
	}
	raw, err := store.Get(ctx, "bf_attempts:a@b.com")
	if err != nil {
		t.Fatalf("raw record: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if wire["identifier"] != "a@b.com" || wire["attempts"] != float64(5) {
		t.Fatalf("unexpected wire record %v", wire)
	}
	if wire["firstAttemptAt"] != float64(clock.Now().UnixMilli()) {
		t.Fatalf("expected epoch-ms firstAttemptAt, got %v", wire["firstAttemptAt"])
	}
	if wire["lockedUntil"] != float64(clock.Now().Add(15*time.Minute).UnixMilli()) {
		t.Fatalf("expected epoch-ms lockedUntil, got %v", wire["lockedUntil"])
	}
}

func TestGuardCorruptRecordDiscarded(t *testing.T) {
	ctx := context.Background()
	g, _, store := newTestGuard(t)

	if err := store.Set(ctx, "bf_attempts:a@b.com", []byte("{not json"), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec, err := g.GetAttemptState(ctx, "a@b.com")
	if err != nil || rec != nil {
		t.Fatalf("expected corrupt record to read as absent, got %+v (%v)", rec, err)
	}
	rec, err = g.RecordFailedAttempt(ctx, "a@b.com")
	if err != nil || rec.Attempts != 1 {
		t.Fatalf("expected fresh count after corrupt record, got %+v (%v)", rec, err)
	}
}

func TestGuardForceLockout(t *testing.T) {
	ctx := context.Background()
	g, clock, _ := newTestGuard(t)

	until := clock.Now().Add(30 * time.Minute)
	rec, err := g.ForceLockout(ctx, "a@b.com", until)
	if err != nil {
		t.Fatalf("ForceLockout: %v", err)
	}
	if rec.Attempts != g.MaxAttempts() || rec.LockedUntil == nil || !rec.LockedUntil.Equal(until) {
		t.Fatalf("unexpected forced record %+v", rec)
	}

	rec, err = g.ForceLockout(ctx, "a@b.com", clock.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ForceLockout: %v", err)
	}
	if !rec.LockedUntil.Equal(until) {
		t.Fatalf("a shorter forced lockout must not shorten the existing one, got %v", rec.LockedUntil)
	}

	rec, err = g.ForceLockout(ctx, "c@d.com", clock.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ForceLockout: %v", err)
	}
	if want := clock.Now().Add(g.LockoutTTL()); !rec.LockedUntil.Equal(want) {
		t.Fatalf("expected past deadline to fall back to LockoutTTL, got %v", rec.LockedUntil)
	}
}

func TestGuardIndependentNamespaces(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := kvstore.NewMemoryWithClock(clock.Now)
	cfg := DefaultConfig()
	pw := NewBruteForceGuard(store, cfg.Guard, clock.Now)
	mfa := NewBruteForceGuard(store, cfg.MFAGuard, clock.Now)

	for i := 0; i < 5; i++ {
		if _, err := pw.RecordFailedAttempt(ctx, "a@b.com"); err != nil {
			t.Fatalf("attempt: %v", err)
		}
	}
	if locked, _ := mfa.IsLocked(ctx, "a@b.com"); locked {
		t.Fatal("password lockout must not leak into the MFA guard")
	}
}

func TestGuardRedisStore(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := newTestClock()
	g := NewBruteForceGuard(kvstore.NewRedis(rdb, "gac"), DefaultConfig().Guard, clock.Now)

	for i := 0; i < 4; i++ {
		if _, err := g.RecordFailedAttempt(ctx, "a@b.com"); err != nil {
			t.Fatalf("attempt: %v", err)
		}
	}
	if ttl := mr.TTL("gac:bf_attempts:a@b.com"); ttl != 24*time.Hour {
		t.Fatalf("expected attempt-window TTL before lockout, got %v", ttl)
	}

	rec, err := g.RecordFailedAttempt(ctx, "a@b.com")
	if err != nil || !rec.Locked(clock.Now()) {
		t.Fatalf("expected lockout, got %+v (%v)", rec, err)
	}
	if ttl := mr.TTL("gac:bf_attempts:a@b.com"); ttl != 15*time.Minute {
		t.Fatalf("expected lockout TTL, got %v", ttl)
	}

	other := NewBruteForceGuard(kvstore.NewRedis(rdb, "gac"), DefaultConfig().Guard, clock.Now)
	if locked, err := other.IsLocked(ctx, "a@b.com"); err != nil || !locked {
		t.Fatalf("expected lockout visible to a second guard on the same redis, got %v (%v)", locked, err)
	}

	mr.Close()
	if _, err := g.RecordFailedAttempt(ctx, "a@b.com"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable with redis down, got %v", err)
	}
}
