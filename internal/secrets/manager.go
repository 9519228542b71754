// Package secrets encrypts and decrypts the per-deployment config values
// flagged Secret in a manifest's ConfigField, following the master-key
// AES-GCM scheme the teacher's own secrets manager uses.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const masterKeyEnv = "MASTER_KEY"

// Manager encrypts/decrypts deployment secret blobs with AES-256-GCM. A
// single master key is held in memory; per-deployment subkeys are derived
// from it via HKDF so that no two deployments' ciphertexts share a key,
// without needing to persist a key per deployment.
type Manager struct {
	master []byte // 32 bytes
}

// NewManager builds a Manager from a raw master key, which may be hex
// (64 chars) or, outside production, a 32-byte plaintext dev key.
func NewManager(rawKey string, devMode bool) (*Manager, error) {
	key, err := normalizeMasterKey(rawKey, devMode)
	if err != nil {
		return nil, err
	}
	return &Manager{master: key}, nil
}

// subkey derives a deployment-scoped 32-byte AES key from the master key,
// so rotating one deployment's plaintext never requires touching another's
// ciphertext.
func (m *Manager) subkey(deploymentID string) ([]byte, error) {
	h := hkdf.New(sha256.New, m.master, nil, []byte("fleet-secret:"+deploymentID))
	out := make([]byte, 32)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, fmt.Errorf("secrets: derive subkey: %w", err)
	}
	return out, nil
}

func (m *Manager) aead(deploymentID string) (cipher.AEAD, error) {
	key, err := m.subkey(deploymentID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext (a JSON-encoded map of secret config field
// values) for a specific deployment.
func (m *Manager) Encrypt(deploymentID string, plaintext []byte) ([]byte, error) {
	aead, err := m.aead(deploymentID)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, ciphertext...), nil
}

// Decrypt opens a ciphertext previously produced by Encrypt for the same
// deploymentID.
func (m *Manager) Decrypt(deploymentID string, raw []byte) ([]byte, error) {
	aead, err := m.aead(deploymentID)
	if err != nil {
		return nil, err
	}
	n := aead.NonceSize()
	if len(raw) < n {
		return nil, fmt.Errorf("secrets: ciphertext too short")
	}
	nonce, ciphertext := raw[:n], raw[n:]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt failed: %w", err)
	}
	return plain, nil
}

func normalizeMasterKey(raw string, devMode bool) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		if !devMode {
			return nil, fmt.Errorf("secrets: %s is required", masterKeyEnv)
		}
		// Deterministic, obviously-insecure dev key so local runs never
		// need a real master key.
		return sha256Sum([]byte("fleet-orchestrator-dev-key")), nil
	}
	if isHex(trimmed) {
		decoded, err := hex.DecodeString(trimmed)
		if err == nil && len(decoded) == 32 {
			return decoded, nil
		}
	}
	if len(trimmed) == 32 && devMode {
		return []byte(trimmed), nil
	}
	return nil, fmt.Errorf("secrets: %s must be 32 bytes (or 64 hex chars)", masterKeyEnv)
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
