package storage

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrSealKey reports a key that is not chacha20poly1305.KeySize bytes.
var ErrSealKey = errors.New("storage: seal key must be 32 bytes")

// ErrOpen reports a stored value that failed authentication.
var ErrOpen = errors.New("storage: sealed value failed authentication")

// Sealed encrypts values before handing them to an inner SecureStorage. The
// storage key is bound as additional data so values cannot be swapped
// between keys.
type Sealed struct {
	inner SecureStorage
	aead  cipher.AEAD
	rand  io.Reader
}

func NewSealed(inner SecureStorage, key []byte) (*Sealed, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrSealKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealed{inner: inner, aead: aead, rand: rand.Reader}, nil
}

func (s *Sealed) Load(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrOpen
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(key))
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}

func (s *Sealed) Save(ctx context.Context, key string, version int64, value []byte) error {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+chacha20poly1305.Overhead)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return fmt.Errorf("storage: nonce: %w", err)
	}
	return s.inner.Save(ctx, key, version, s.aead.Seal(nonce, nonce, value, []byte(key)))
}

func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
