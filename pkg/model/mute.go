package model

import "time"

// MuteType selects the channel a mute silences.
type MuteType int

const (
	MuteVoice MuteType = 1
	MuteText  MuteType = 2
)

func (t MuteType) String() string {
	switch t {
	case MuteVoice:
		return "voice"
	case MuteText:
		return "text"
	default:
		return "unknown"
	}
}

// ParseMuteType maps a raw command argument to a MuteType. Only 1 selects
// voice; everything else is a text mute.
func ParseMuteType(v int) MuteType {
	if v == int(MuteVoice) {
		return MuteVoice
	}
	return MuteText
}

// Mute represents a communication restriction.
type Mute struct {
	ID       int64     `json:"id"`
	Identity string    `json:"identity"`
	Name     string    `json:"name"`
	Reason   string    `json:"reason"`
	IssuerID int64     `json:"issuer_id"`
	Created  time.Time `json:"created"`
	Length   int64     `json:"length"` // seconds, 0 = permanent
	Ends     time.Time `json:"ends"`
	Passed   int64     `json:"passed"` // enforcement sweeps observed
	Type     MuteType  `json:"type"`
	Removal  *Removal  `json:"removal,omitempty"`
}

// Active reports whether the mute is enforced at now.
func (m *Mute) Active(now time.Time) bool {
	return active(m.Removal, m.Length, m.Ends, now)
}

// Served returns true once a timed mute has been observed for at least its
// nominal length in sweep units.
func (m *Mute) Served() bool {
	return m.Length > 0 && m.Passed >= m.Length
}
