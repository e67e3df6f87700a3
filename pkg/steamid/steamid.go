// Package steamid converts between the Steam identity encodings used by the
// sourcebans store (Steam2, "STEAM_0:X:Y") and the game host (Steam64).
package steamid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// base is the Steam64 value of account 0 in the public universe.
const base uint64 = 76561197960265728

// ErrMalformedIdentity is returned when an identifier cannot be parsed in any
// supported encoding.
var ErrMalformedIdentity = errors.New("steamid: malformed identity")

// ToSteam2 converts a Steam64 decimal string to the canonical Steam2 form.
func ToSteam2(steam64 string) (string, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(steam64), 10, 64)
	if err != nil || id < base {
		return "", fmt.Errorf("%w: %q", ErrMalformedIdentity, steam64)
	}
	return format2(id), nil
}

// ToSteam64 converts a Steam2 string ("STEAM_0:1:123" or "STEAM_1:1:123") to
// its Steam64 decimal form.
func ToSteam64(steam2 string) (string, error) {
	id, err := parse2(steam2)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(id, 10), nil
}

// Normalize accepts Steam64, Steam2 or Steam3 ("[U:1:N]") input and returns
// the Steam2 form stored in the database.
func Normalize(id string) (string, error) {
	n, err := ID64(id)
	if err != nil {
		return "", err
	}
	return format2(n), nil
}

// ID64 parses any supported encoding into a numeric Steam64 id.
func ID64(id string) (uint64, error) {
	s := strings.TrimSpace(id)
	switch {
	case s == "":
		return 0, fmt.Errorf("%w: empty", ErrMalformedIdentity)
	case strings.HasPrefix(strings.ToUpper(s), "STEAM_"):
		return parse2(s)
	case strings.HasPrefix(s, "[U:") && strings.HasSuffix(s, "]"):
		return parse3(s)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n < base {
		return 0, fmt.Errorf("%w: %q", ErrMalformedIdentity, id)
	}
	return n, nil
}

func format2(id uint64) string {
	return fmt.Sprintf("STEAM_0:%d:%d", id%2, (id-base)/2)
}

func parse2(s string) (uint64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedIdentity, s)
	}
	universe := strings.ToUpper(parts[0])
	if universe != "STEAM_0" && universe != "STEAM_1" {
		return 0, fmt.Errorf("%w: %q", ErrMalformedIdentity, s)
	}
	server, err := strconv.ParseUint(parts[1], 10, 1)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedIdentity, s)
	}
	account, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedIdentity, s)
	}
	return base + account*2 + server, nil
}

func parse3(s string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(s, "[U:1:"), "]"), 10, 32)
	if err != nil || !strings.HasPrefix(s, "[U:1:") {
		return 0, fmt.Errorf("%w: %q", ErrMalformedIdentity, s)
	}
	return base + n, nil
}
