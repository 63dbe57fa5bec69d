package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/lumentreeinfo/lumentree/pkg/log"
	"github.com/lumentreeinfo/lumentree/pkg/metrics"
	"github.com/lumentreeinfo/lumentree/pkg/storage"
	"github.com/lumentreeinfo/lumentree/pkg/types"
)

// ErrAuthFailure is returned when the upstream refused or failed to issue a
// token. Failed results are never cached.
var ErrAuthFailure = errors.New("authentication failed")

const (
	DefaultTTL        = time.Hour
	DefaultSize       = 1024
	defaultAuthBudget = 30 * time.Second
)

// Authenticator issues a fresh upstream token for a device.
type Authenticator interface {
	GenerateToken(ctx context.Context, deviceID string) (string, error)
}

// Cache holds at most one live token per device. Concurrent lookups for the
// same device share a single authentication call; different devices never
// wait on each other.
type Cache struct {
	auth       Authenticator
	ttl        time.Duration
	authBudget time.Duration
	entries    *lru.Cache
	flights    singleflight.Group
	store      storage.TokenStore
	now        func() time.Time
}

// NewCache builds a cache. store may be nil.
func NewCache(auth Authenticator, ttl time.Duration, size int, store storage.TokenStore) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create token lru: %w", err)
	}
	if store == nil {
		store = storage.Nop()
	}
	return &Cache{
		auth:       auth,
		ttl:        ttl,
		authBudget: defaultAuthBudget,
		entries:    entries,
		store:      store,
		now:        time.Now,
	}, nil
}

// Token returns a valid token for the device, authenticating if none is
// cached or the cached one expired.
func (c *Cache) Token(ctx context.Context, deviceID string) (string, error) {
	if deviceID == "" {
		return "", errors.New("deviceID cannot be empty")
	}
	if t, ok := c.cached(deviceID); ok {
		metrics.TokenCache.WithLabelValues("hit").Inc()
		return t.Token, nil
	}

	// detached from the caller: other callers may be waiting on this login
	ch := c.flights.DoChan(deviceID, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.authBudget)
		defer cancel()
		return c.fill(fctx, deviceID)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(types.StoredToken).Token, nil
	}
}

func (c *Cache) cached(deviceID string) (types.StoredToken, bool) {
	v, ok := c.entries.Get(deviceID)
	if !ok {
		return types.StoredToken{}, false
	}
	t := v.(types.StoredToken)
	if !t.Valid(c.now()) {
		c.entries.Remove(deviceID)
		return types.StoredToken{}, false
	}
	return t, true
}

func (c *Cache) fill(ctx context.Context, deviceID string) (types.StoredToken, error) {
	// another flight may have finished between the lookup and this one
	if t, ok := c.cached(deviceID); ok {
		return t, nil
	}

	stored, err := c.store.GetToken(ctx, deviceID)
	switch {
	case err == nil && stored.Valid(c.now()):
		metrics.TokenCache.WithLabelValues("restored").Inc()
		log.Ctx(ctx).DebugContext(ctx, "restored lumentree token from store", slog.String("deviceId", deviceID))
		c.entries.Add(deviceID, stored)
		return stored, nil
	case err != nil && !errors.Is(err, storage.ErrTokenNotFound):
		log.Ctx(ctx).WarnContext(ctx, "failed to read stored token", slog.String("deviceId", deviceID), slog.Any("error", err))
	}

	metrics.TokenCache.WithLabelValues("miss").Inc()
	value, err := c.auth.GenerateToken(ctx, deviceID)
	if err == nil && value == "" {
		err = errors.New("empty token")
	}
	if err != nil {
		metrics.TokenCache.WithLabelValues("auth_error").Inc()
		log.Ctx(ctx).WarnContext(ctx, "lumentree authentication failed", slog.String("deviceId", deviceID), slog.Any("error", err))
		if errors.Is(err, ErrAuthFailure) {
			return types.StoredToken{}, err
		}
		return types.StoredToken{}, fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}

	t := types.StoredToken{
		DeviceID: deviceID,
		Token:    value,
		Expiry:   c.now().Add(c.ttl),
	}
	c.entries.Add(deviceID, t)
	if err := c.store.SetToken(ctx, t); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist token", slog.String("deviceId", deviceID), slog.Any("error", err))
	}
	return t, nil
}

// Invalidate drops the device's token if it is still the one given. Pass an
// empty token to drop unconditionally. Used when the upstream rejects a token
// before its expiry.
func (c *Cache) Invalidate(ctx context.Context, deviceID, token string) {
	if v, ok := c.entries.Peek(deviceID); ok {
		if token != "" && v.(types.StoredToken).Token != token {
			// already replaced by a newer login
			return
		}
		c.entries.Remove(deviceID)
	}
	if err := c.store.DeleteToken(ctx, deviceID); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to delete stored token", slog.String("deviceId", deviceID), slog.Any("error", err))
	}
}

// Len returns the number of cached tokens, including ones that expired but
// have not been looked up since.
func (c *Cache) Len() int {
	return c.entries.Len()
}
