package goAuthClient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goAuthClient/kvstore"
)

// BruteForceGuard counts failed attempts per identifier and locks the
// identifier out for LockoutTTL once MaxAttempts is reached.
//
// The guard is a usability throttle. It lives entirely under client control
// and is trivially bypassed, so the server's locked signal stays
// authoritative; see ForceLockout.
//
// Read-modify-write cycles are serialized per guard instance. Several
// processes sharing one Redis store race last-writer-wins, which is
// acceptable for an advisory counter.
type BruteForceGuard struct {
	store  kvstore.Store
	config GuardConfig
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex
}

// NewBruteForceGuard scopes store under cfg.Namespace. A nil now uses
// time.Now.
func NewBruteForceGuard(store kvstore.Store, cfg GuardConfig, now func() time.Time) *BruteForceGuard {
	if now == nil {
		now = time.Now
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LockoutTTL <= 0 {
		cfg.LockoutTTL = 15 * time.Minute
	}
	return &BruteForceGuard{
		store:  kvstore.WithNamespace(store, cfg.Namespace),
		config: cfg,
		now:    now,
		logger: discardLogger(),
	}
}

// MaxAttempts returns the lockout threshold.
func (g *BruteForceGuard) MaxAttempts() int {
	return g.config.MaxAttempts
}

// LockoutTTL returns the lockout duration.
func (g *BruteForceGuard) LockoutTTL() time.Duration {
	return g.config.LockoutTTL
}

// Remaining returns how many attempts rec leaves before lockout.
func (g *BruteForceGuard) Remaining(rec *AttemptRecord) int {
	if rec == nil {
		return g.config.MaxAttempts
	}
	if n := g.config.MaxAttempts - rec.Attempts; n > 0 {
		return n
	}
	return 0
}

// RecordFailedAttempt increments the counter for identifier, starting a
// fresh record when none exists or a prior lockout has expired, and locks
// the identifier once the threshold is reached.
func (g *BruteForceGuard) RecordFailedAttempt(ctx context.Context, identifier string) (*AttemptRecord, error) {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	rec, err := g.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || (rec.LockedUntil != nil && !now.Before(*rec.LockedUntil)) {
		rec = &AttemptRecord{Identifier: id, FirstAttemptAt: now}
	}

	rec.Attempts++
	if rec.Attempts >= g.config.MaxAttempts {
		until := now.Add(g.config.LockoutTTL)
		rec.LockedUntil = &until
	}

	if err := g.save(ctx, rec, now); err != nil {
		return nil, err
	}
	return cloneRecord(rec), nil
}

// GetAttemptState returns the record for identifier, or nil when none
// exists. A record whose lockout has passed is deleted and reported as nil.
func (g *BruteForceGuard) GetAttemptState(ctx context.Context, identifier string) (*AttemptRecord, error) {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, err := g.load(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.LockedUntil != nil && !g.now().Before(*rec.LockedUntil) {
		if err := g.store.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil, nil
	}
	return rec, nil
}

// ResetAttempts deletes the record for identifier.
func (g *BruteForceGuard) ResetAttempts(ctx context.Context, identifier string) error {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsLocked reports whether identifier has an unexpired lockout.
func (g *BruteForceGuard) IsLocked(ctx context.Context, identifier string) (bool, error) {
	rec, err := g.GetAttemptState(ctx, identifier)
	if err != nil {
		return false, err
	}
	return rec.Locked(g.now()), nil
}

// ForceLockout records a server-issued lockout until the given time. The
// attempt count is raised to MaxAttempts so the record stays consistent.
func (g *BruteForceGuard) ForceLockout(ctx context.Context, identifier string, until time.Time) (*AttemptRecord, error) {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !now.Before(until) {
		until = now.Add(g.config.LockoutTTL)
	}

	rec, err := g.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &AttemptRecord{Identifier: id, FirstAttemptAt: now}
	}
	if rec.Attempts < g.config.MaxAttempts {
		rec.Attempts = g.config.MaxAttempts
	}
	if rec.LockedUntil == nil || rec.LockedUntil.Before(until) {
		rec.LockedUntil = &until
	}

	if err := g.save(ctx, rec, now); err != nil {
		return nil, err
	}
	return cloneRecord(rec), nil
}

func (g *BruteForceGuard) load(ctx context.Context, id string) (*AttemptRecord, error) {
	raw, err := g.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var rec AttemptRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Attempts <= 0 {
		g.logger.Warn("discarding corrupt attempt record", "identifier", id, "error", err)
		if err := g.store.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil, nil
	}
	if rec.Identifier == "" {
		rec.Identifier = id
	}
	return &rec, nil
}

func (g *BruteForceGuard) save(ctx context.Context, rec *AttemptRecord, now time.Time) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode attempt record: %w", err)
	}

	ttl := g.config.AttemptWindow
	if rec.LockedUntil != nil {
		ttl = rec.LockedUntil.Sub(now)
		if ttl <= 0 {
			ttl = time.Millisecond
		}
	}
	if err := g.store.Set(ctx, rec.Identifier, raw, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func normalizeIdentifier(identifier string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if id == "" {
		return "", &ValidationError{Field: "identifier", Message: "Identifier is required."}
	}
	return id, nil
}

func cloneRecord(rec *AttemptRecord) *AttemptRecord {
	if rec == nil {
		return nil
	}
	out := *rec
	if rec.LockedUntil != nil {
		until := *rec.LockedUntil
		out.LockedUntil = &until
	}
	return &out
}
