// Package transport is the HTTP layer between the session core and the REST
// backend.
//
// [Client] holds the in-memory access token, attaches it as a bearer header
// (except on the refresh endpoint), echoes the CSRF cookie as a header on
// mutating requests, and maps failures onto two structured errors:
// [*HTTPError] for non-2xx responses and [*NetworkError] for requests that
// never produced a status.
//
// # What this package must NOT do
//
//   - Retry. Refresh-then-retry is coordinated by the session manager.
//   - Persist the access token anywhere but process memory.
//   - Cache the CSRF token across requests; the cookie may rotate.
package transport
