// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package tenant

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// KeyPrefix is the prefix of all issued API keys.
const KeyPrefix = "qwed_live"

// GenerateAPIKey creates a new API key and its storage fingerprint.
// The plaintext key is shown to the caller exactly once; only the
// fingerprint is persisted.
func GenerateAPIKey(secret []byte) (plaintext, fingerprint string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating key material: %w", err)
	}
	plaintext = fmt.Sprintf("%s_%s", KeyPrefix, base64.RawURLEncoding.EncodeToString(raw))
	return plaintext, Fingerprint(secret, plaintext), nil
}

// Fingerprint hashes an API key with HMAC-SHA256 for storage and lookup.
// The gateway secret acts as the HMAC key so a leaked database does not
// allow offline key recovery.
func Fingerprint(secret []byte, apiKey string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(apiKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// MaskKey masks an API key for display.
// Example: qwed_live_abc123... -> qwed_live_****3def
func MaskKey(apiKey string) string {
	if len(apiKey) < 16 {
		return "****"
	}
	return apiKey[:10] + "****" + apiKey[len(apiKey)-4:]
}
