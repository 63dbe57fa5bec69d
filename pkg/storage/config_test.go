package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type purgingStore struct {
	TokenStore
	purged int
}

func (p *purgingStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	p.purged++
	return 3, nil
}

func TestConfiguredStore(t *testing.T) {
	t.Run("Delegates Purge", func(t *testing.T) {
		inner := &purgingStore{TokenStore: Nop()}
		var s TokenStore = &configuredStore{TokenStore: inner}

		p, ok := s.(Purger)
		require.True(t, ok)
		n, err := p.PurgeExpired(context.Background(), time.Now())
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, 1, inner.purged)
	})

	t.Run("No Purge Support", func(t *testing.T) {
		s := &configuredStore{TokenStore: Nop()}
		n, err := s.PurgeExpired(context.Background(), time.Now())
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		_, err = s.GetToken(context.Background(), "P1")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})
}
