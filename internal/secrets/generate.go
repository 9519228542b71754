package secrets

import (
	"crypto/rand"
	"fmt"
)

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
const digitAlphabet = "0123456789"

// GeneratePassword returns a random alphanumeric string of length n,
// suitable for a manifest's ConfigField{Generated: true, Type: Password}.
func GeneratePassword(n int) (string, error) {
	if n <= 0 {
		n = 24
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("secrets: generate password: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = passwordAlphabet[int(b)%len(passwordAlphabet)]
	}
	return string(out), nil
}

// GenerateUsername returns a name-stem-plus-digits username of the form
// "svc8294017" for a ConfigField{Generated: true, Secret: true} whose
// name looks like a user field.
func GenerateUsername(stem string) (string, error) {
	if stem == "" {
		stem = "svc"
	}
	suffix, err := randomDigits(7)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s", stem, suffix), nil
}

// randomDigits returns a random string of n decimal digits.
func randomDigits(n int) (string, error) {
	if n <= 0 {
		n = 7
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("secrets: generate digits: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = digitAlphabet[int(b)%len(digitAlphabet)]
	}
	return string(out), nil
}
