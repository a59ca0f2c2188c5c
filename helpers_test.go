package goAuthClient

import (
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthClient/internal/backendtest"
	"github.com/MrEthical07/goAuthClient/kvstore"
)

const (
	testEmail    = "a@b.com"
	testPassword = "correct-horse"
	testMFAEmail = "mfa@b.com"
	testMFACode  = "123456"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	server *backendtest.Server
	client *Client
	clock  *testClock
	store  *kvstore.Memory
}

// newTestEnv wires a Client to an in-process backend holding one plain
// account and one MFA account.
func newTestEnv(t *testing.T, opts ...func(*Builder)) *testEnv {
	t.Helper()

	server := backendtest.New()
	server.AddAccount(backendtest.Account{ID: "user-1", Email: testEmail, Password: testPassword})
	server.AddAccount(backendtest.Account{ID: "user-2", Email: testMFAEmail, Password: testPassword, MFACode: testMFACode})
	baseURL := server.Start(t)

	clock := newTestClock()
	store := kvstore.NewMemoryWithClock(clock.Now)

	b := New().
		WithBaseURL(baseURL).
		WithStore(store).
		WithClock(clock.Now).
		WithLogger(discardLogger())
	for _, opt := range opts {
		opt(b)
	}
	client, err := b.Build()
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return &testEnv{server: server, client: client, clock: clock, store: store}
}
