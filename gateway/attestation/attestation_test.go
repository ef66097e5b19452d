// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package attestation

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleClaims() Claims {
	return Claims{
		TenantID:    7,
		Fingerprint: "abc123",
		Engine:      "math",
		Verdict:     "VERIFIED",
		Confidence:  1.0,
		EntryHash:   "deadbeef",
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	s, err := NewSigner(nil)
	require.NoError(t, err)

	token, err := s.Sign(sampleClaims())
	require.NoError(t, err)

	got, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.TenantID)
	assert.Equal(t, "VERIFIED", got.Verdict)
	assert.Equal(t, "deadbeef", got.EntryHash)
	assert.Equal(t, "qwed-gateway", got.Issuer)
}

func TestVerify_RejectsOtherKey(t *testing.T) {
	s1, err := NewSigner(nil)
	require.NoError(t, err)
	s2, err := NewSigner(nil)
	require.NoError(t, err)

	token, err := s1.Sign(sampleClaims())
	require.NoError(t, err)

	_, err = s2.Verify(token)
	assert.Error(t, err)
}

func TestVerify_RejectsTamperedToken(t *testing.T) {
	s, err := NewSigner(nil)
	require.NoError(t, err)

	token, err := s.Sign(sampleClaims())
	require.NoError(t, err)

	_, err = s.Verify(token[:len(token)-2] + "xx")
	assert.Error(t, err)
}

func TestNewSigner_DeterministicFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 32)
	s1, err := NewSigner(seed)
	require.NoError(t, err)
	s2, err := NewSigner(seed)
	require.NoError(t, err)

	assert.Equal(t, s1.PublicKey(), s2.PublicKey())

	token, err := s1.Sign(sampleClaims())
	require.NoError(t, err)
	_, err = s2.Verify(token)
	assert.NoError(t, err)
}

func TestNewSigner_RejectsBadSeedLength(t *testing.T) {
	_, err := NewSigner([]byte("short"))
	assert.Error(t, err)
}

func TestPublicKey_IsBase64(t *testing.T) {
	s, err := NewSigner(nil)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(s.PublicKey())
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
