package model

import "time"

// Ban represents a banned identity and/or IP.
type Ban struct {
	ID       int64     `json:"id"`
	Identity string    `json:"identity"` // Steam2, empty for IP-only bans
	Name     string    `json:"name"`
	IP       string    `json:"ip"`
	Reason   string    `json:"reason"`
	IssuerID int64     `json:"issuer_id"`
	IssuerIP string    `json:"issuer_ip"`
	ServerID int       `json:"server_id"`
	Created  time.Time `json:"created"`
	Length   int64     `json:"length"` // seconds, 0 = permanent
	Ends     time.Time `json:"ends"`
	Removal  *Removal  `json:"removal,omitempty"`
}

// Active reports whether the ban is enforced at now.
func (b *Ban) Active(now time.Time) bool {
	return active(b.Removal, b.Length, b.Ends, now)
}

// Permanent returns true for bans with no end.
func (b *Ban) Permanent() bool {
	return b.Length == 0
}
