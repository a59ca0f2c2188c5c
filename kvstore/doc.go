// Package kvstore provides the small key/value abstraction the session core
// persists client-side state through: attempt records for the brute-force
// guard and the durable "remember me" flag.
//
// # Implementations
//
//   - [Memory]: process-local map with per-key TTL and an injectable clock.
//   - [Redis]: go-redis backed store for attempt records shared between processes.
//   - [Namespace]: prefixes every key of an underlying [Store].
//
// # What this package must NOT do
//
//   - Store access tokens. Tokens live only in memory inside the transport.
//   - Interpret values. Encoding is owned by callers.
package kvstore
