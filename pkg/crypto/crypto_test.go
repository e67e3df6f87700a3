package crypto

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestRandomString(t *testing.T) {
	s, err := RandomString(32)
	if err != nil {
		t.Fatalf("RandomString: %v", err)
	}
	if len(s) != 32 {
		t.Fatalf("len = %d, want 32", len(s))
	}
	for _, r := range s {
		if !strings.ContainsRune(alphabet, r) {
			t.Fatalf("unexpected character %q in %q", r, s)
		}
	}
}

func TestPlaceholderEmail(t *testing.T) {
	email, err := PlaceholderEmail()
	if err != nil {
		t.Fatalf("PlaceholderEmail: %v", err)
	}
	at := strings.IndexByte(email, '@')
	if at != 8 || !strings.HasSuffix(email, ".com") || len(email) != 8+1+8+4 {
		t.Errorf("PlaceholderEmail = %q, want xxxxxxxx@yyyyyyyy.com", email)
	}
}

func TestPlaceholderPassword(t *testing.T) {
	hash, err := PlaceholderPassword()
	if err != nil {
		t.Fatalf("PlaceholderPassword: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("bcrypt.Cost: %v", err)
	}
	if cost != bcrypt.DefaultCost {
		t.Errorf("cost = %d, want %d", cost, bcrypt.DefaultCost)
	}

	other, err := PlaceholderPassword()
	if err != nil {
		t.Fatalf("PlaceholderPassword: %v", err)
	}
	if other == hash {
		t.Errorf("two placeholders should differ")
	}
}
