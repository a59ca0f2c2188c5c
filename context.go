package goAuthClient

import (
	"context"

	"github.com/MrEthical07/goAuthClient/transport"
)

// WithRequestID pins the X-Request-ID sent by calls made with ctx, so a
// login attempt can be correlated with backend logs. Without it every
// request gets a fresh UUID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return transport.WithRequestID(ctx, id)
}
