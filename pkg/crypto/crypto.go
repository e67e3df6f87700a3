// Package crypto generates the placeholder credentials required by the
// sourcebans admin table. They satisfy NOT NULL columns for the web panel
// and are never used to authenticate anyone.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// PlaceholderPasswordLength matches the random tail the web panel expects.
const PlaceholderPasswordLength = 52

// RandomString returns n characters drawn from [a-zA-Z0-9].
func RandomString(n int) (string, error) {
	return randomString(rand.Reader, n)
}

func randomString(r io.Reader, n int) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(r, limit)
		if err != nil {
			return "", fmt.Errorf("crypto: random string: %w", err)
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}

// PlaceholderEmail returns an address of the form xxxxxxxx@yyyyyyyy.com.
func PlaceholderEmail() (string, error) {
	local, err := RandomString(8)
	if err != nil {
		return "", err
	}
	domain, err := RandomString(8)
	if err != nil {
		return "", err
	}
	return local + "@" + domain + ".com", nil
}

// PlaceholderPassword returns a bcrypt hash of a random secret that is
// discarded immediately.
func PlaceholderPassword() (string, error) {
	secret, err := RandomString(PlaceholderPasswordLength)
	if err != nil {
		return "", err
	}
	// bcrypt only reads the first 72 bytes; 52 fits.
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("crypto: hash placeholder: %w", err)
	}
	return string(hash), nil
}
