// Package jwt inspects access tokens on the client side and signs them for
// the in-process test backend.
//
// The client never verifies signatures: it holds no key, and the server
// remains the authority on token validity. [Inspect] only reads the
// expiry so the session manager can refresh ahead of time.
package jwt
