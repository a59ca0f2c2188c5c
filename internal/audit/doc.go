// Package audit relays session lifecycle events (sign-in, MFA, refresh,
// logout, lockout) to a pluggable [Sink] without putting the sink on the
// caller's path.
//
// [Relay] owns a bounded queue and one forwarding goroutine. Its
// [OverflowPolicy] chooses between waiting for room and dropping the event.
//
// The package does not decide which events exist; the session manager and
// login flow do. It imports nothing from goAuthClient.
package audit
