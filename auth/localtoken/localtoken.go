// Package localtoken is the shipped auth.Authenticator: tokens are sealed
// and opened with XChaCha20-Poly1305, the same AEAD PASETO v4.local uses.
// A full PASETO implementation is out of scope and absent from this
// module's dependency graph (see DESIGN.md); this is a pragmatic
// stand-in with the same authenticated-encryption properties.
package localtoken

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/graft-sh/graft/auth"
)

// Authenticator seals claims into a token with one long-lived symmetric
// key, shared out of band between a cluster's metastore and pagestore
// nodes (there is no key-distribution protocol here; spec.md scopes that
// out).
type Authenticator struct {
	aead cipher.AEAD
	ttl  time.Duration
}

// New builds an Authenticator from a 32-byte key. Use NewWithTTL to set a
// token lifetime other than the default (1 hour).
func New(key []byte) (*Authenticator, error) {
	return NewWithTTL(key, time.Hour)
}

func NewWithTTL(key []byte, ttl time.Duration) (*Authenticator, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("localtoken: init aead: %w", err)
	}
	return &Authenticator{aead: aead, ttl: ttl}, nil
}

// GenerateKey returns a fresh random key suitable for New.
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("localtoken: generate key: %w", err)
	}
	return key, nil
}

// Issue seals subject and an expiry into an opaque token: nonce || ciphertext.
func (a *Authenticator) Issue(subject string) ([]byte, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("localtoken: nonce: %w", err)
	}

	expiry := time.Now().Add(a.ttl).Unix()
	plain := make([]byte, 8+len(subject))
	binary.BigEndian.PutUint64(plain[:8], uint64(expiry))
	copy(plain[8:], subject)

	sealed := a.aead.Seal(nil, nonce, plain, nil)
	return append(nonce, sealed...), nil
}

// Verify opens token and checks its expiry.
func (a *Authenticator) Verify(token []byte) (auth.Claims, error) {
	nonceSize := a.aead.NonceSize()
	if len(token) < nonceSize {
		return auth.Claims{}, fmt.Errorf("localtoken: token too short")
	}
	nonce, sealed := token[:nonceSize], token[nonceSize:]

	plain, err := a.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return auth.Claims{}, fmt.Errorf("localtoken: open: %w", err)
	}
	if len(plain) < 8 {
		return auth.Claims{}, fmt.Errorf("localtoken: malformed claims")
	}
	expiry := int64(binary.BigEndian.Uint64(plain[:8]))
	if time.Now().Unix() > expiry {
		return auth.Claims{}, fmt.Errorf("localtoken: expired")
	}
	return auth.Claims{Subject: string(plain[8:])}, nil
}

var _ auth.Authenticator = (*Authenticator)(nil)
