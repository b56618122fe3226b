// Package auth provides API key generation, hashing and request auth context.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Keys look like prl_{env}_{prefix}_{secret}, for example
// prl_live_7a9x3k_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b. The prefix is stored in
// clear for lookup; only the Argon2id hash of the whole key is persisted.
const (
	KeyScheme    = "prl"
	KeyPrefixLen = 6  // hex of 3 random bytes
	KeySecretLen = 32 // hex of 16 random bytes
)

// Key environments.
const (
	EnvLive = "live"
	EnvTest = "test"
)

var (
	// ErrInvalidKeyFormat indicates the key format is invalid.
	ErrInvalidKeyFormat = errors.New("invalid API key format")

	keyFormatRegex = regexp.MustCompile(`^` + KeyScheme + `_(live|test)_([a-f0-9]{6})_([a-f0-9]{32})$`)
)

// GeneratedKey contains the parts of a newly generated API key.
type GeneratedKey struct {
	Plaintext string // shown to the caller once
	Hash      string
	Prefix    string
}

// GenerateAPIKey creates a key for env, hashed with DefaultHashParams.
// Unknown environments fall back to EnvLive.
func GenerateAPIKey(env string) (*GeneratedKey, error) {
	return GenerateAPIKeyWithParams(env, DefaultHashParams)
}

// GenerateAPIKeyWithParams is GenerateAPIKey with explicit hash costs.
func GenerateAPIKeyWithParams(env string, params HashParams) (*GeneratedKey, error) {
	if env != EnvLive && env != EnvTest {
		env = EnvLive
	}

	prefix, err := randomHex(KeyPrefixLen / 2)
	if err != nil {
		return nil, fmt.Errorf("generate prefix: %w", err)
	}
	secret, err := randomHex(KeySecretLen / 2)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	plaintext := fmt.Sprintf("%s_%s_%s_%s", KeyScheme, env, prefix, secret)

	hash, err := HashKeyWithParams(plaintext, params)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	return &GeneratedKey{
		Plaintext: plaintext,
		Hash:      hash,
		Prefix:    prefix,
	}, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ParsedKey contains the parsed parts of an API key.
type ParsedKey struct {
	Env    string
	Prefix string
	Secret string
}

// ParseAPIKey splits a plaintext key into its parts.
func ParseAPIKey(key string) (*ParsedKey, error) {
	matches := keyFormatRegex.FindStringSubmatch(key)
	if matches == nil {
		return nil, ErrInvalidKeyFormat
	}

	return &ParsedKey{
		Env:    matches[1],
		Prefix: matches[2],
		Secret: matches[3],
	}, nil
}

// ValidateKeyFormat checks if the key matches the expected format.
func ValidateKeyFormat(key string) bool {
	return keyFormatRegex.MatchString(key)
}
