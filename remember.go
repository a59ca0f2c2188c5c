package goAuthClient

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goAuthClient/kvstore"
)

// RememberMe is the durable "remember me" preference. It holds no
// credential: the refresh cookie does the remembering, this flag only
// decides whether the UI pre-selects the option.
type RememberMe struct {
	store kvstore.Store
	key   string
}

func NewRememberMe(store kvstore.Store, key string) *RememberMe {
	if key == "" {
		key = "auth_remember_flag"
	}
	return &RememberMe{store: store, key: key}
}

// Get reports the stored flag; an absent flag is false.
func (r *RememberMe) Get(ctx context.Context) (bool, error) {
	raw, err := r.store.Get(ctx, r.key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return string(raw) == "true", nil
}

// Set stores the flag without expiry, or deletes it when false.
func (r *RememberMe) Set(ctx context.Context, remember bool) error {
	var err error
	if remember {
		err = r.store.Set(ctx, r.key, []byte("true"), 0)
	} else {
		err = r.store.Delete(ctx, r.key)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
