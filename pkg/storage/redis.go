package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/lumentreeinfo/lumentree/pkg/types"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisDialTimeout  = 5 * time.Second
	defaultRedisReadTimeout  = 3 * time.Second
	defaultRedisWriteTimeout = 3 * time.Second
)

// RedisStore implements TokenStore with one key per device. Keys expire with
// the token so Redis does the cleanup.
type RedisStore struct {
	client   *redis.Client
	addr     string
	password string
	prefix   string
	sealer   *sealer
}

type redisToken struct {
	Token  []byte    `json:"token"`
	Expiry time.Time `json:"expiry"`
}

func configuredRedis() *RedisStore {
	addr := lflag.String("redis-addr", "", "Redis address (host:port) for the redis token store")
	password := lflag.String("redis-password", "", "Redis password")
	prefix := lflag.String("redis-key-prefix", "lumentree:token:", "Prefix for redis token keys")

	r := &RedisStore{}
	lflag.Do(func() {
		r.addr = strings.TrimSpace(*addr)
		r.password = *password
		r.prefix = *prefix
	})
	return r
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Init dials redis and validates the connection with PING.
func (r *RedisStore) Init(ctx context.Context) error {
	if r.addr == "" {
		return errors.New("redis: addr is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         r.addr,
		Password:     r.password,
		DialTimeout:  defaultRedisDialTimeout,
		ReadTimeout:  defaultRedisReadTimeout,
		WriteTimeout: defaultRedisWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, defaultRedisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}
	r.client = client
	return nil
}

// Close closes the redis client.
func (r *RedisStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RedisStore) key(deviceID string) string {
	return r.prefix + deviceID
}

// GetToken returns the stored token or ErrTokenNotFound.
func (r *RedisStore) GetToken(ctx context.Context, deviceID string) (types.StoredToken, error) {
	if deviceID == "" {
		return types.StoredToken{}, fmt.Errorf("deviceID cannot be empty")
	}
	raw, err := r.client.Get(ctx, r.key(deviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.StoredToken{}, ErrTokenNotFound
		}
		return types.StoredToken{}, fmt.Errorf("failed to get token: %w", err)
	}
	var rt redisToken
	if err := json.Unmarshal(raw, &rt); err != nil {
		return types.StoredToken{}, fmt.Errorf("failed to decode token: %w", err)
	}
	token, err := r.sealer.open(ctx, rt.Token)
	if err != nil {
		return types.StoredToken{}, err
	}
	return types.StoredToken{DeviceID: deviceID, Token: token, Expiry: rt.Expiry}, nil
}

// SetToken stores the token with a TTL matching its expiry.
func (r *RedisStore) SetToken(ctx context.Context, token types.StoredToken) error {
	if token.DeviceID == "" {
		return fmt.Errorf("deviceID cannot be empty")
	}
	ttl := time.Until(token.Expiry)
	if ttl <= 0 {
		return r.DeleteToken(ctx, token.DeviceID)
	}
	sealed, err := r.sealer.seal(ctx, token.Token)
	if err != nil {
		return err
	}
	data, err := json.Marshal(redisToken{Token: sealed, Expiry: token.Expiry})
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(token.DeviceID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// DeleteToken removes the key.
func (r *RedisStore) DeleteToken(ctx context.Context, deviceID string) error {
	if err := r.client.Del(ctx, r.key(deviceID)).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
