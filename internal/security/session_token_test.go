package security

import (
	"encoding/base64"
	"testing"
)

func TestNewSessionToken_Entropy(t *testing.T) {
	token, err := NewSessionToken()
	if err != nil {
		t.Fatalf("NewSessionToken: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if len(raw) != SessionTokenBytes {
		t.Errorf("decoded length = %d, want %d", len(raw), SessionTokenBytes)
	}
}

func TestNewSessionToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		token, err := NewSessionToken()
		if err != nil {
			t.Fatalf("NewSessionToken: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token after %d draws", i)
		}
		seen[token] = true
	}
}

func TestHashSessionToken_Consistent(t *testing.T) {
	hash1 := HashSessionToken("token-abc")
	hash2 := HashSessionToken("token-abc")
	if hash1 != hash2 {
		t.Errorf("HashSessionToken not consistent: %q vs %q", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(hash1))
	}
	if HashSessionToken("token-abd") == hash1 {
		t.Error("different tokens produced the same hash")
	}
}
