package storage

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRedisStore(t *testing.T) {
	t.Run("key prefix", func(t *testing.T) {
		r := NewRedisStore(nil, "lumentree:token:")
		assert.Equal(t, "lumentree:token:P250812032", r.key("P250812032"))
	})

	t.Run("init requires addr", func(t *testing.T) {
		r := &RedisStore{}
		assert.ErrorContains(t, r.Init(context.Background()), "addr is empty")
	})

	t.Run("empty device id", func(t *testing.T) {
		r := NewRedisStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "p:")
		defer r.Close()
		_, err := r.GetToken(context.Background(), "")
		assert.ErrorContains(t, err, "deviceID cannot be empty")
	})

	t.Run("nop store", func(t *testing.T) {
		s := Nop()
		_, err := s.GetToken(context.Background(), "P1")
		assert.ErrorIs(t, err, ErrTokenNotFound)
		assert.NoError(t, s.Close())
	})
}
