package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the token store based on flags.
func Configured() TokenStore {
	provider := lflag.String("token-store", "none", "Where to persist upstream tokens (available: none, firestore, redis)")
	encryptionKey := lflag.String("token-encryption-key", "", "32 character key used to encrypt persisted tokens")

	var p configuredStore

	fs := configuredFirestore()
	rs := configuredRedis()

	lflag.Do(func() {
		var box *sealer
		if *encryptionKey != "" {
			var err error
			box, err = newSealer(*encryptionKey)
			if err != nil {
				panic(fmt.Sprintf("token encryption key: %v", err))
			}
		}

		switch *provider {
		case "none", "":
			p.TokenStore = Nop()
		case "firestore":
			fs.sealer = box
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			p.TokenStore = fs
		case "redis":
			rs.sealer = box
			if err := rs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("redis init failed: %v", err))
			}
			p.TokenStore = rs
		default:
			panic(fmt.Sprintf("unknown token store: %s", *provider))
		}
	})

	return &p
}

// configuredStore is filled in once flags are parsed.
type configuredStore struct {
	TokenStore
}

// PurgeExpired purges through the underlying store if it supports it.
func (c *configuredStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if p, ok := c.TokenStore.(Purger); ok {
		return p.PurgeExpired(ctx, now)
	}
	return 0, nil
}
