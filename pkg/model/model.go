// Package model defines the core domain types for the moderation engine.
package model

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const MaxReasonLength = 255

var (
	ErrAdminNotFound  = errors.New("admin not found")
	ErrInvalidPattern = errors.New("pattern too short")
	ErrReasonTooLong  = fmt.Errorf("reason exceeds %d characters", MaxReasonLength)
	ErrNegativeLength = errors.New("duration must not be negative")
)

// RemovalType tags how a ban or mute left the active state.
type RemovalType string

const (
	RemovalManual  RemovalType = "U" // unban / unmute command
	RemovalExpired RemovalType = "E" // wall-clock expiry sweep
)

func (t RemovalType) String() string {
	switch t {
	case RemovalManual:
		return "manual"
	case RemovalExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Removal is the soft-delete metadata shared by bans and mutes.
type Removal struct {
	By     int64       `json:"by"`
	Type   RemovalType `json:"type"`
	At     time.Time   `json:"at"`
	Reason string      `json:"reason,omitempty"`
}

// Issuer identifies whoever runs an administrative command.
type Issuer struct {
	Identity string
	Name     string
	IP       string
}

// Console is the server console. It has no admin row, so writes attributed
// to it fail with ErrAdminNotFound.
var Console = Issuer{Name: "Console"}

// ValidateReason checks the free-text reason fits the store column.
func ValidateReason(reason string) error {
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return ErrReasonTooLong
	}
	return nil
}

// ValidateDuration checks a duration in minutes. Zero means permanent.
func ValidateDuration(minutes int) error {
	if minutes < 0 {
		return ErrNegativeLength
	}
	return nil
}

// Expiry computes the stored (length seconds, ends) pair for a penalty
// created at now lasting the given minutes.
func Expiry(now time.Time, minutes int) (int64, time.Time) {
	length := int64(minutes) * 60
	return length, time.Unix(now.Unix()+length, 0).UTC()
}

// active reports the shared active predicate: not removed and either
// permanent or not yet past its end.
func active(removal *Removal, length int64, ends, now time.Time) bool {
	if removal != nil {
		return false
	}
	return length == 0 || ends.After(now)
}

// RemovalResult tracks a batch soft-delete row by row. Every matched id
// lands in exactly one of Removed, AlreadyRemoved or Failed.
type RemovalResult struct {
	Matched []int64
	Removed []int64
	// AlreadyRemoved holds rows that matched but were removed concurrently
	// before this batch reached them.
	AlreadyRemoved []int64
	Failed         map[int64]error
}

// Err joins per-row failures, nil when every matched row was removed.
func (r RemovalResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, id := range r.Matched {
		if err, ok := r.Failed[id]; ok {
			errs = append(errs, fmt.Errorf("row %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
