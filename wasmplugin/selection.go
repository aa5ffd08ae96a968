package wasmplugin

import "strings"

// KeyframeSelection is a set of selected frame indices, keyed by a bone or
// morph name for the named selection setters.
type KeyframeSelection struct {
	Name   string
	Frames []uint32
}

// Valid reports whether Name can cross the guest boundary.
func (s KeyframeSelection) Valid() bool {
	return !strings.ContainsRune(s.Name, 0)
}
