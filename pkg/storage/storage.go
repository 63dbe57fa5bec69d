package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lumentreeinfo/lumentree/pkg/types"
)

var (
	ErrTokenNotFound = errors.New("token not found")
)

// TokenStore persists upstream session tokens so a restart does not force a
// fresh login for every device.
type TokenStore interface {
	// GetToken returns the stored token for the device or ErrTokenNotFound.
	GetToken(ctx context.Context, deviceID string) (types.StoredToken, error)
	// SetToken stores the token, replacing any existing one.
	SetToken(ctx context.Context, token types.StoredToken) error
	// DeleteToken removes the stored token. Missing tokens are not an error.
	DeleteToken(ctx context.Context, deviceID string) error

	// Lifecycle
	Close() error
}

// nopStore is used when no persistent store is configured.
type nopStore struct{}

func (nopStore) GetToken(ctx context.Context, deviceID string) (types.StoredToken, error) {
	return types.StoredToken{}, ErrTokenNotFound
}

func (nopStore) SetToken(ctx context.Context, token types.StoredToken) error {
	return nil
}

func (nopStore) DeleteToken(ctx context.Context, deviceID string) error {
	return nil
}

func (nopStore) Close() error {
	return nil
}

// Nop returns a TokenStore that stores nothing.
func Nop() TokenStore {
	return nopStore{}
}

// Purger is implemented by stores that need expired tokens removed
// explicitly.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
