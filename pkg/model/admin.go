package model

import "strings"

// Capability is a named permission understood by the host's evaluator,
// e.g. "@css/kick".
type Capability string

// GroupPrefix marks group references in exported snapshots.
const GroupPrefix = "#"

// Admin represents an administrator row.
type Admin struct {
	ID       int64  `json:"id"`
	Identity string `json:"identity"` // Steam2
	Name     string `json:"name"`
	Group    string `json:"group"`
	Immunity *int   `json:"immunity"` // nil = not yet provisioned
	Email    string `json:"-"`
	Password string `json:"-"`
}

// Provisioned returns true once the admin row carries an immunity value.
func (a *Admin) Provisioned() bool {
	return a.Immunity != nil
}

// Group is a named bundle of flag characters and an immunity rank.
type Group struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Flags    string `json:"flags"`
	Immunity int    `json:"immunity"`
}

// GroupKey returns the exported key for a group name.
func GroupKey(name string) string {
	return GroupPrefix + name
}

// AdminKey returns the exported key for an admin display name.
func AdminKey(name string) string {
	return strings.ToLower(name)
}
