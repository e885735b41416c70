package sink

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devblac/chain-inspector/internal/event"
)

const (
	timestampKey = "timestamp"
	signatureKey = "signature"
)

// Signer authenticates payloads with HMAC-SHA256 over their canonical JSON.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// SignerOption customizes a Signer.
type SignerOption func(*Signer)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) { s.now = now }
}

// NewSigner builds a signer keyed with the shared secret.
func NewSigner(secret string, opts ...SignerOption) *Signer {
	s := &Signer{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign stamps payload with the current Unix time and signs it.
func (s *Signer) Sign(payload event.Fields) (event.Fields, error) {
	return s.SignAt(payload, s.now().Unix())
}

// SignAt returns payload followed by timestamp and signature. The signature
// covers the compact JSON of payload+timestamp in field order, so equal
// inputs always produce equal envelopes.
func (s *Signer) SignAt(payload event.Fields, ts int64) (event.Fields, error) {
	stamped := payload.With(event.Field{Key: timestampKey, Value: ts})
	sig, err := s.mac(stamped)
	if err != nil {
		return nil, err
	}
	return stamped.With(event.Field{Key: signatureKey, Value: sig}), nil
}

// Verify reports whether env carries a valid signature as its last field.
func (s *Signer) Verify(env event.Fields) (bool, error) {
	if len(env) == 0 || env[len(env)-1].Key != signatureKey {
		return false, errors.New("envelope has no trailing signature")
	}
	got, ok := env[len(env)-1].Value.(string)
	if !ok {
		return false, fmt.Errorf("signature has type %T", env[len(env)-1].Value)
	}
	want, err := s.mac(env[:len(env)-1])
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(got), []byte(want)), nil
}

func (s *Signer) mac(fields event.Fields) (string, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	h := hmac.New(sha256.New, s.secret)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
