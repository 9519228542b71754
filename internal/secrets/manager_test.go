package secrets

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m, err := NewManager("", true)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	plaintext := []byte(`{"dbPassword":"hunter2"}`)
	ciphertext, err := m.Encrypt("deploy-1", plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := m.Decrypt("deploy-1", ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptWrongDeploymentFails(t *testing.T) {
	m, err := NewManager("", true)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ciphertext, err := m.Encrypt("deploy-1", []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := m.Decrypt("deploy-2", ciphertext); err == nil {
		t.Error("expected decrypt to fail under a different deployment's derived key")
	}
}

func TestNewManagerRequiresKeyOutsideDevMode(t *testing.T) {
	if _, err := NewManager("", false); err == nil {
		t.Error("expected error when MASTER_KEY missing and devMode=false")
	}
}

func TestNewManagerAcceptsHexKey(t *testing.T) {
	hexKey := "0000000000000000000000000000000000000000000000000000000000000001"[:64]
	if _, err := NewManager(hexKey, false); err != nil {
		t.Errorf("NewManager with valid hex key: %v", err)
	}
}

func TestGeneratePasswordLength(t *testing.T) {
	p, err := GeneratePassword(16)
	if err != nil {
		t.Fatalf("GeneratePassword: %v", err)
	}
	if len(p) != 16 {
		t.Errorf("len(password) = %d, want 16", len(p))
	}
}

func TestGenerateUsernameStem(t *testing.T) {
	u, err := GenerateUsername("db")
	if err != nil {
		t.Fatalf("GenerateUsername: %v", err)
	}
	if !strings.HasPrefix(u, "db") {
		t.Errorf("unexpected username %q: want db prefix", u)
	}
	for _, c := range u[len("db"):] {
		if c < '0' || c > '9' {
			t.Errorf("unexpected username %q: suffix must be all digits", u)
			break
		}
	}
}
