// Package securestore encrypts structured values at rest. It sits on a
// pluggable KV medium and is namespace-agnostic: callers bring fully
// namespaced keys, the store only adds its own wrapper prefix.
package securestore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"tableside/internal/store"
)

const (
	keyPrefix = "secure_"
	secretKey = "secure_session_secret"

	hkdfInfo = "tableside/securestore/v1"
)

// Store seals values with ChaCha20-Poly1305. The data key is derived
// from a random master secret cached in the session-scoped medium, so
// ciphertexts written in one session are unreadable in the next unless
// that medium itself survives. Undecryptable records are purged on
// read, never surfaced as errors.
type Store struct {
	medium  store.KV
	session store.KV
	aead    cipher.AEAD
	logger  *zap.Logger
}

// New loads (or generates) the session secret from session and derives
// the sealing key. medium is where records live; it may be the same KV
// as session for a purely session-scoped store.
func New(ctx context.Context, medium, session store.KV, logger *zap.Logger) (*Store, error) {
	secret, err := loadOrCreateSecret(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("session secret: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	return &Store{medium: medium, session: session, aead: aead, logger: logger}, nil
}

func loadOrCreateSecret(ctx context.Context, session store.KV) ([]byte, error) {
	raw, err := session.Get(ctx, secretKey)
	if err == nil {
		if secret, decErr := base64.StdEncoding.DecodeString(raw); decErr == nil && len(secret) == 32 {
			return secret, nil
		}
		// Unusable secret: replace it. Old ciphertexts become
		// unreadable and will self-heal away on read.
		_ = session.Delete(ctx, secretKey)
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		return nil, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := session.Set(ctx, secretKey, base64.StdEncoding.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}

// Set marshals value to JSON, seals it and writes it under key.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	plain, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := s.aead.Seal(nonce, nonce, plain, []byte(key))
	return s.medium.Set(ctx, keyPrefix+key, base64.StdEncoding.EncodeToString(sealed))
}

// Get unseals the record under key into dest. It reports false when the
// key is absent. A record that fails to decode, decrypt or unmarshal is
// deleted and reported absent: callers never check integrity themselves.
func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := s.medium.Get(ctx, keyPrefix+key)
	if errors.Is(err, store.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	plain, ok := s.open(key, raw)
	if !ok {
		s.logger.Warn("purging undecryptable record", zap.String("key", key))
		_ = s.medium.Delete(ctx, keyPrefix+key)
		return false, nil
	}
	if err := json.Unmarshal(plain, dest); err != nil {
		s.logger.Warn("purging malformed record", zap.String("key", key), zap.Error(err))
		_ = s.medium.Delete(ctx, keyPrefix+key)
		return false, nil
	}
	return true, nil
}

func (s *Store) open(key, raw string) ([]byte, bool) {
	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(sealed) < s.aead.NonceSize() {
		return nil, false
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, false
	}
	return plain, true
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.medium.Delete(ctx, keyPrefix+key)
}

// Clear removes every sealed record from the medium. The session secret
// is kept so the store stays usable afterwards.
func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.medium.Keys(ctx, keyPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == secretKey {
			continue
		}
		if err := s.medium.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
