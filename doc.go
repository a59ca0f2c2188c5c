// Package goAuthClient manages client-side authentication against the
// asset console's REST backend: restoring a session from the refresh
// cookie, the identifier, password and MFA login steps, bearer-token
// lifecycle with silent refresh, CSRF header attachment, and a cooperative
// brute-force throttle.
//
// A process builds one [Client] through [Builder] and closes it on
// shutdown. [SessionManager] owns the in-memory access token and current
// user; [LoginFlow] drives a login screen; [BruteForceGuard] counts failed
// attempts in an injected [kvstore.Store].
//
// # Architecture boundaries
//
// goAuthClient is the public surface. HTTP mechanics live in transport,
// token inspection in jwt, storage in kvstore, and audit buffering in
// internal/audit.
//
// # What this package must NOT do
//
//   - Write the access token anywhere but process memory.
//   - Retry a request more than once, and only after a successful refresh.
//   - Treat the client-side throttle as a security boundary. The server's
//     locked signal is authoritative; the guard only spares the user and the
//     backend a doomed round trip.
package goAuthClient
