// Package rbac maps sourcebans flag characters to host capabilities.
package rbac

import "github.com/NicolasHaas/simpleadmin/pkg/model"

const (
	CapVIP       model.Capability = "@css/vip"
	CapGeneric   model.Capability = "@css/generic"
	CapKick      model.Capability = "@css/kick"
	CapPermBan   model.Capability = "@css/permban"
	CapSlay      model.Capability = "@css/slay"
	CapChangeMap model.Capability = "@css/changemap"
	CapCvar      model.Capability = "@css/cvar"
	CapChat      model.Capability = "@css/chat"
	CapRcon      model.Capability = "@css/rcon"
	CapRoot      model.Capability = "@css/root"
)

// flagMatrix maps flag characters to the capability they grant.
// Characters outside the table are not enforced by the host.
var flagMatrix = map[rune]model.Capability{
	'a': CapVIP,
	'b': CapGeneric,
	'c': CapKick,
	'd': CapPermBan,
	'f': CapSlay,
	'g': CapChangeMap,
	'h': CapCvar,
	'j': CapChat,
	'm': CapRcon,
	'z': CapRoot,
}

// Capability returns the capability for a single flag character.
func Capability(flag rune) (model.Capability, bool) {
	c, ok := flagMatrix[flag]
	return c, ok
}

// MapFlags converts a raw flag string into capabilities, keeping first-seen
// order and dropping duplicates and unknown characters.
func MapFlags(flags string) []model.Capability {
	caps := make([]model.Capability, 0, len(flags))
	seen := make(map[model.Capability]bool, len(flags))
	for _, r := range flags {
		c, ok := flagMatrix[r]
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		caps = append(caps, c)
	}
	return caps
}

// HasCapability checks caps for want. Root grants everything.
func HasCapability(caps []model.Capability, want model.Capability) bool {
	for _, c := range caps {
		if c == want || c == CapRoot {
			return true
		}
	}
	return false
}

// CanTarget reports whether an admin with issuer immunity may act on a
// subject with target immunity. The core never calls this; it is exported
// for the host's command layer.
func CanTarget(issuer, target int) bool {
	return issuer >= target
}
