package goAuthClient

import (
	"context"
	"strings"
	"testing"
	"time"
)

func withAudit(sink AuditSink) func(*Builder) {
	return func(b *Builder) {
		b.config.Audit.Enabled = true
		b.config.Audit.DropIfFull = false
		b.WithAuditSink(sink)
	}
}

func nextEvent(t *testing.T, sink *ChannelSink) AuditEvent {
	t.Helper()
	select {
	case ev := <-sink.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
		return AuditEvent{}
	}
}

func TestAuditLoginLifecycle(t *testing.T) {
	sink := NewChannelSink(32)
	env := newTestEnv(t, withAudit(sink))
	ctx := context.Background()

	if _, err := env.client.Session().Login(ctx, Credentials{Username: testEmail, Password: "wrong-password"}); err == nil {
		t.Fatal("expected login failure")
	}
	ev := nextEvent(t, sink)
	if ev.Kind != AuditLoginFailure || ev.Succeeded() || ev.Identifier != testEmail {
		t.Fatalf("unexpected failure event %+v", ev)
	}

	loginOK(t, env, testEmail)
	ev = nextEvent(t, sink)
	if ev.Kind != AuditLoginSuccess || !ev.Succeeded() || ev.UserID != "user-1" {
		t.Fatalf("unexpected success event %+v", ev)
	}
	if ev.At.IsZero() {
		t.Fatal("expected the relay to stamp the event")
	}

	if err := env.client.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	ev = nextEvent(t, sink)
	if ev.Kind != AuditLogout || ev.UserID != "user-1" {
		t.Fatalf("unexpected logout event %+v", ev)
	}
}

func TestAuditEventsCarryNoSecrets(t *testing.T) {
	sink := NewChannelSink(32)
	env := newTestEnv(t, withAudit(sink))
	ctx := context.Background()

	loginOK(t, env, testMFAEmail)
	if _, err := env.client.Session().VerifyMFA(ctx, MFAVerification{Email: testMFAEmail, UserID: "user-2", Code: testMFACode}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	token := env.client.Session().State().AccessToken

	for i := 0; i < 2; i++ {
		ev := nextEvent(t, sink)
		for _, field := range []string{ev.Identifier, ev.UserID, ev.Reason} {
			if strings.Contains(field, testPassword) || strings.Contains(field, testMFACode) || (token != "" && strings.Contains(field, token)) {
				t.Fatalf("audit event leaked a secret: %+v", ev)
			}
		}
	}
}

func TestAuditDisabledByDefault(t *testing.T) {
	env := newTestEnv(t)
	loginOK(t, env, testEmail)
	if got := env.client.AuditDropped(); got != 0 {
		t.Fatalf("disabled audit should not drop, got %d", got)
	}
}
