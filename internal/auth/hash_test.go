package auth

import (
	"errors"
	"strings"
	"testing"
)

// cheap keeps the suite fast; production uses DefaultHashParams.
var cheap = HashParams{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

const sampleKey = "prl_live_abc123_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b"

func TestHashKey_Format(t *testing.T) {
	hash, err := HashKey(sampleKey)
	if err != nil {
		t.Fatalf("HashKey failed: %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=4$") {
		t.Errorf("unexpected hash header: %s", hash)
	}
	if parts := strings.Split(hash, "$"); len(parts) != 6 {
		t.Errorf("expected 6 PHC parts, got %d", len(parts))
	}
}

func TestHashKey_Salted(t *testing.T) {
	a, err := HashKeyWithParams(sampleKey, cheap)
	if err != nil {
		t.Fatal(err)
	}
	b, err := HashKeyWithParams(sampleKey, cheap)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two hashes of the same key should differ")
	}
}

func TestVerifyKey(t *testing.T) {
	hash, err := HashKeyWithParams(sampleKey, cheap)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		key     string
		hash    string
		want    bool
		wantErr error
	}{
		{"match", sampleKey, hash, true, nil},
		{"wrong key", strings.Replace(sampleKey, "abc123", "abc124", 1), hash, false, nil},
		{"empty hash", sampleKey, "", false, ErrInvalidHash},
		{"not argon2id", sampleKey, "$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA", false, ErrInvalidHash},
		{"bad params", sampleKey, "$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA", false, ErrInvalidHash},
		{"bad salt", sampleKey, "$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA", false, ErrInvalidHash},
		{"old version", sampleKey, "$argon2id$v=16$m=1024,t=1,p=1$c2FsdA$aGFzaA", false, ErrIncompatibleVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VerifyKey(tt.key, tt.hash)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("VerifyKey = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey(sampleKey)
	if a != CacheKey(sampleKey) {
		t.Error("CacheKey should be deterministic")
	}
	if len(a) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a))
	}
	if a == CacheKey(sampleKey+"x") {
		t.Error("different keys should not collide")
	}
	if strings.Contains(a, "abc123") {
		t.Error("cache key must not embed the key")
	}
}
