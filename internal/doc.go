// Package internal groups packages private to goAuthClient.
//
//   - audit: queued event relay to pluggable sinks
//   - backendtest: an in-process fake of the auth backend for tests and examples
package internal
