// Package staging implements the staging-session state machine: identifier
// minting (C2), the in-memory session registry (C4), and the state
// transition engine (C8).
package staging

import "time"

// State is one of the lifecycle states a StagingSession may occupy.
type State string

const (
	Open      State = "open"
	Closing   State = "closing"
	Closed    State = "closed"
	Promoting State = "promoting"
	Released  State = "released"
	Failed    State = "failed"
	Dropped   State = "dropped"
)

// Terminal reports whether state accepts no further transitions.
func (s State) Terminal() bool {
	switch s {
	case Released, Failed, Dropped:
		return true
	default:
		return false
	}
}

// Session is the single entity the state machine manages, mirroring
// spec's StagingSession. BundleHandle and PortalDeployID are opaque to
// this package; callers (the api and portal packages) attach whatever
// concrete handle type they use.
type Session struct {
	ID               string
	Profile          string
	Description      string
	Fingerprint      string
	State            State
	BundleHandle     interface{}
	PortalDeployID   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastActivityAt   time.Time
}

// PollType renders the <type> leaf of a repository poll response, per
// spec.md's handler table for GET /service/local/staging/repository/<id>.
func (s *Session) PollType() string {
	switch s.State {
	case Open:
		return "open"
	case Closing, Closed, Promoting:
		return "closed"
	case Released:
		return "released"
	default:
		return "not_found"
	}
}
