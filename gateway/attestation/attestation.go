// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

// Package attestation signs verification verdicts so downstream systems
// can check a result came from this gateway without calling back. Tokens
// are Ed25519 JWTs; verification needs only the published public key.
package attestation

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL bounds how long an attestation stays valid.
const TokenTTL = 24 * time.Hour

// Claims is the signed payload of an attestation token. EntryHash links
// the token to the audit log entry for the same verification.
type Claims struct {
	TenantID    int64   `json:"tenant_id"`
	Fingerprint string  `json:"fingerprint"`
	Engine      string  `json:"engine"`
	Verdict     string  `json:"verdict"`
	Confidence  float64 `json:"confidence"`
	EntryHash   string  `json:"entry_hash"`
	jwt.RegisteredClaims
}

// Signer issues and verifies attestation tokens with a single Ed25519
// key pair.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewSigner creates a signer from an Ed25519 seed. An empty seed
// generates an ephemeral key pair, which is fine for single-instance
// deployments but rotates attestations on restart.
func NewSigner(seed []byte) (*Signer, error) {
	if len(seed) == 0 {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generating attestation key: %w", err)
		}
		return &Signer{private: priv, public: pub}, nil
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("attestation seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{private: priv, public: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign issues a token over one verification outcome.
func (s *Signer) Sign(claims Claims) (string, error) {
	now := time.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    "qwed-gateway",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.private)
	if err != nil {
		return "", fmt.Errorf("signing attestation: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns its claims when the signature and
// expiry check out.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.public, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid attestation: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid attestation")
	}
	return claims, nil
}

// PublicKey returns the verification key, base64-encoded for the
// /attestation/keys endpoint.
func (s *Signer) PublicKey() string {
	return base64.StdEncoding.EncodeToString(s.public)
}
