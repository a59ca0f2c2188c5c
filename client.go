package goAuthClient

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goAuthClient/internal/audit"
	"github.com/MrEthical07/goAuthClient/transport"
)

// Client is the composition root: one per process, built by Builder and
// shut down with Close.
type Client struct {
	config     Config
	http       *transport.Client
	session    *SessionManager
	guard      *BruteForceGuard
	mfaGuard   *BruteForceGuard
	remember   *RememberMe
	audit      *audit.Relay
	metrics    *Metrics
	logger     *slog.Logger
	ownedRedis *redis.Client

	closeOnce sync.Once
}

// Session returns the session manager.
func (c *Client) Session() *SessionManager {
	return c.session
}

// Guard returns the password-attempt guard.
func (c *Client) Guard() *BruteForceGuard {
	return c.guard
}

// MFAGuard returns the MFA-attempt guard.
func (c *Client) MFAGuard() *BruteForceGuard {
	return c.mfaGuard
}

// RememberMe returns the persisted remember-me preference.
func (c *Client) RememberMe() *RememberMe {
	return c.remember
}

// Transport exposes the HTTP layer, e.g. for its cookie jar.
func (c *Client) Transport() *transport.Client {
	return c.http
}

// Config returns a copy of the validated configuration the client was
// built with.
func (c *Client) Config() Config {
	return c.config
}

// Bootstrap restores a session from the refresh cookie. See
// SessionManager.Bootstrap.
func (c *Client) Bootstrap(ctx context.Context) error {
	return c.session.Bootstrap(ctx)
}

// Do performs an authenticated API call with one refresh-then-retry on 401.
func (c *Client) Do(ctx context.Context, req transport.Request, out any) error {
	return c.session.Do(ctx, req, out)
}

// Logout ends the session; local state is cleared even if the server call
// fails.
func (c *Client) Logout(ctx context.Context) error {
	return c.session.Logout(ctx)
}

// NewLoginFlow starts a login at the identifier step, preselecting the
// persisted remember-me preference.
func (c *Client) NewLoginFlow(ctx context.Context) *LoginFlow {
	flow := NewLoginFlow(c.session, c.guard, c.mfaGuard, c.remember, c.config.Flow)
	remember, err := c.remember.Get(ctx)
	if err != nil {
		c.logger.Warn("could not read remember-me flag", "error", err)
	}
	flow.SetRememberMe(remember)
	return flow
}

// Close disposes the session, drains the audit relay and releases an
// internally created Redis client. It is idempotent.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		c.session.Dispose()
		c.audit.Close()
		err = c.closeRedis()
	})
	return err
}

func (c *Client) closeRedis() error {
	if c.ownedRedis == nil {
		return nil
	}
	return c.ownedRedis.Close()
}

// AuditDropped reports audit events dropped because the buffer was full.
func (c *Client) AuditDropped() uint64 {
	if c == nil {
		return 0
	}
	return c.audit.Stats().Dropped
}

// Metrics returns the live counters, for exporters that read them on
// demand.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// MetricsSnapshot copies the current counters. It is safe on a nil Client.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return c.metrics.Snapshot()
}
