package model

// LiveSession is a connected player as reported by the host. It is never
// persisted.
type LiveSession struct {
	Identity string // Steam64 as the host reports it
	Name     string
	IP       string
	Handle   int // host user id; <= 0 while the player is still connecting
	Slot     int
}

// HasHandle reports whether the host can target this session.
func (s LiveSession) HasHandle() bool {
	return s.Handle > 0
}
