package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/lumentreeinfo/lumentree/pkg/log"
)

// sealer encrypts token values at rest with AES-256-GCM. A nil sealer stores
// values as-is.
type sealer struct {
	gcm cipher.AEAD
}

func newSealer(key string) (*sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key length %d (must be 32 bytes)", len(key))
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &sealer{gcm: gcm}, nil
}

func (s *sealer) seal(ctx context.Context, plaintext string) ([]byte, error) {
	if s == nil {
		return []byte(plaintext), nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate nonce", slog.Any("error", err))
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (s *sealer) open(ctx context.Context, data []byte) (string, error) {
	if s == nil {
		return string(data), nil
	}
	if len(data) < s.gcm.NonceSize() {
		log.Ctx(ctx).ErrorContext(ctx, "malformed encrypted token", slog.Int("length", len(data)))
		return "", errors.New("malformed encrypted token")
	}
	nonce, ciphertext := data[:s.gcm.NonceSize()], data[s.gcm.NonceSize():]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt token", slog.Any("error", err))
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}
	return string(plaintext), nil
}
