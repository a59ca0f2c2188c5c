package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryGetMissing(t *testing.T) {
	m := NewMemory()
	if _, err := m.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemorySetGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected v1, got %q", got)
	}

	got[0] = 'x'
	again, _ := m.Get(ctx, "k")
	if string(again) != "v1" {
		t.Fatalf("returned slice aliases stored value: %q", again)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete should be idempotent, got %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := NewMemoryWithClock(clock.Now)

	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	clock.Advance(59 * time.Second)
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("expected value before expiry, got %v", err)
	}

	clock.Advance(time.Second)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound at expiry, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected expired key to be purged, len=%d", m.Len())
	}
}

func TestNamespacePrefixesKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ns := WithNamespace(m, "bf_attempts")

	if err := ns.Set(ctx, "a@b.com", []byte("1"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := m.Get(ctx, "bf_attempts:a@b.com"); err != nil {
		t.Fatalf("expected namespaced key in backing store, got %v", err)
	}
	if _, err := m.Get(ctx, "a@b.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected bare key to be absent, got %v", err)
	}

	other := WithNamespace(m, "mfa_attempts")
	if _, err := other.Get(ctx, "a@b.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("namespaces must not collide, got %v", err)
	}
}
