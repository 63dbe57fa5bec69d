package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		s, err := newSealer("0123456789abcdef0123456789abcdef")
		require.NoError(t, err)

		sealed, err := s.seal(ctx, "token-123")
		require.NoError(t, err)
		assert.NotContains(t, string(sealed), "token-123")

		opened, err := s.open(ctx, sealed)
		require.NoError(t, err)
		assert.Equal(t, "token-123", opened)
	})

	t.Run("nonce differs per seal", func(t *testing.T) {
		s, err := newSealer("0123456789abcdef0123456789abcdef")
		require.NoError(t, err)
		a, err := s.seal(ctx, "same")
		require.NoError(t, err)
		b, err := s.seal(ctx, "same")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("wrong key", func(t *testing.T) {
		s1, err := newSealer("0123456789abcdef0123456789abcdef")
		require.NoError(t, err)
		s2, err := newSealer("fedcba9876543210fedcba9876543210")
		require.NoError(t, err)
		sealed, err := s1.seal(ctx, "token")
		require.NoError(t, err)
		_, err = s2.open(ctx, sealed)
		assert.ErrorContains(t, err, "failed to decrypt token")
	})

	t.Run("malformed", func(t *testing.T) {
		s, err := newSealer("0123456789abcdef0123456789abcdef")
		require.NoError(t, err)
		_, err = s.open(ctx, []byte("x"))
		assert.ErrorContains(t, err, "malformed")
	})

	t.Run("bad key length", func(t *testing.T) {
		_, err := newSealer("short")
		assert.ErrorContains(t, err, "must be 32 bytes")
	})

	t.Run("nil sealer passes through", func(t *testing.T) {
		var s *sealer
		sealed, err := s.seal(ctx, "plain")
		require.NoError(t, err)
		opened, err := s.open(ctx, sealed)
		require.NoError(t, err)
		assert.Equal(t, "plain", opened)
	})
}
