// Package discotest is a minimal in-process stand-in for the discovery
// collaborator spec.md assumes is external (§1, §6): it drives a
// controlpoint.Discoverer with the two events that interface needs,
// stripped down from the teacher's SSDP wire framing (ssdp/server.go's
// Device/NTs shape and its M-SEARCH/NOTIFY messages) to plain Go calls.
// It exists only for controlpoint's tests.
package discotest

// Discoverer is the subset of controlpoint.Discoverer this package
// drives; declared locally so discotest does not import controlpoint.
type Discoverer interface {
	ResourceAvailable(usn string, locations []string)
	ResourceUnavailable(usn string)
}

// Source is a fake discovery transport: a test calls Announce/Withdraw to
// simulate SSDP alive/byebye traffic reaching a Discoverer.
type Source struct {
	target Discoverer
}

// NewSource builds a Source that drives target.
func NewSource(target Discoverer) *Source {
	return &Source{target: target}
}

// Announce simulates one or more ssdp:alive NOTIFYs (or an M-SEARCH
// response) for usn, reachable at any of locations.
func (s *Source) Announce(usn string, locations ...string) {
	s.target.ResourceAvailable(usn, locations)
}

// Withdraw simulates an ssdp:byebye NOTIFY for usn.
func (s *Source) Withdraw(usn string) {
	s.target.ResourceUnavailable(usn)
}
