package goAuthClient

import (
	"context"
	"io"
	"log/slog"

	"github.com/MrEthical07/goAuthClient/internal/audit"
)

// AuditEvent is one session lifecycle record. It never carries secrets.
type AuditEvent = audit.Event

// AuditSink receives audit events on the relay goroutine.
type AuditSink = audit.Sink

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc = audit.SinkFunc

// ChannelSink buffers audit events into a channel, mainly for tests.
type ChannelSink = audit.ChannelSink

// JSONLinesSink writes one JSON document per event.
type JSONLinesSink = audit.JSONLinesSink

// NewChannelSink returns a sink whose channel holds buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONLinesSink encodes events to w; writes are serialized.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return audit.NewJSONLinesSink(w)
}

// NewSlogSink logs audit events through logger.
func NewSlogSink(logger *slog.Logger) AuditSink {
	return audit.LogSink{Logger: logger}
}

// Event kinds.
const (
	AuditLoginSuccess        = "login_success"
	AuditLoginFailure        = "login_failure"
	AuditMFARequired         = "mfa_required"
	AuditMFASuccess          = "mfa_success"
	AuditMFAFailure          = "mfa_failure"
	AuditMFAResend           = "mfa_resend"
	AuditRefreshSuccess      = "refresh_success"
	AuditRefreshFailure      = "refresh_failure"
	AuditBootstrap           = "bootstrap"
	AuditLogout              = "logout"
	AuditLockout             = "lockout"
	AuditIdentifierValidated = "identifier_validated"
)

// auditEmitter builds events for the session manager and login flow. The
// zero value emits nothing.
type auditEmitter struct {
	relay *audit.Relay
}

func (a auditEmitter) emit(ctx context.Context, kind, identifier, userID string, success bool, err error, attrs map[string]string) {
	if a.relay == nil {
		return
	}
	event := AuditEvent{
		Kind:       kind,
		Identifier: identifier,
		UserID:     userID,
		Outcome:    audit.Failure,
		Attrs:      attrs,
	}
	if success {
		event.Outcome = audit.Success
	}
	if err != nil {
		event.Reason = err.Error()
	}
	a.relay.Emit(ctx, event)
}

func newAuditRelay(cfg AuditConfig, sink AuditSink) *audit.Relay {
	if !cfg.Enabled {
		return nil
	}
	policy := audit.Block
	if cfg.DropIfFull {
		policy = audit.Drop
	}
	return audit.NewRelay(sink, cfg.BufferSize, policy)
}
