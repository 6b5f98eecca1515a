// Package portal implements the Portal client (C6): uploading a sealed
// bundle as a single deployment and polling its status to a terminal
// outcome.
package portal

import "time"

// PublishingType selects how the Portal should treat a deployment once
// validation succeeds, mirroring the original source's PublishingType axis
// (portal_api/src/api_types.rs) that spec.md's distillation left implicit.
type PublishingType string

const (
	// UserManaged deployments stop at VALIDATED and require an explicit
	// promote call — this is the default and matches NXRM2's bulk/promote
	// step.
	UserManaged PublishingType = "USER_MANAGED"
	// Automatic deployments are published by the Portal itself as soon as
	// validation succeeds, without an explicit promote call.
	Automatic PublishingType = "AUTOMATIC"
)

// DeploymentStatus is the Portal's reported state for one deployment.
type DeploymentStatus string

const (
	StatusPending    DeploymentStatus = "PENDING"
	StatusValidating DeploymentStatus = "VALIDATING"
	StatusValidated  DeploymentStatus = "VALIDATED"
	StatusPublishing DeploymentStatus = "PUBLISHING"
	StatusPublished  DeploymentStatus = "PUBLISHED"
	StatusFailed     DeploymentStatus = "FAILED"
	StatusRejected   DeploymentStatus = "REJECTED"
)

// Terminal reports whether status requires no further polling. VALIDATED
// is terminal because a USER_MANAGED deployment settles there until an
// explicit promote call, not because validation itself is the end state.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case StatusValidated, StatusPublished, StatusFailed, StatusRejected:
		return true
	default:
		return false
	}
}

// File is one (relative path, content) pair drawn from a bundle's entries,
// read lazily by Upload.
type File struct {
	RelativePath string
	Open         func() (ReadCloser, error)
	Size         int64
}

// ReadCloser is the minimal reader interface Upload needs from a bundle
// entry; satisfied by *os.File and any io.ReadCloser.
type ReadCloser interface {
	Read(p []byte) (int, error)
	Close() error
}

// DeploymentResult is what Upload returns once the Portal has accepted the
// bundle and assigned it an id.
type DeploymentResult struct {
	DeploymentID string
}

// StatusResult is one poll response from the Portal.
type StatusResult struct {
	Status       DeploymentStatus
	DeploymentID string
	Errors       []string
}

// BackoffPolicy configures the capped exponential backoff used while
// polling deployment status, per spec.md section 4.6.
type BackoffPolicy struct {
	Initial    time.Duration
	Cap        time.Duration
	JitterFrac float64
}

// DefaultBackoff matches spec.md's literal numbers: 2s initial, 30s cap,
// +-10% jitter.
var DefaultBackoff = BackoffPolicy{
	Initial:    2 * time.Second,
	Cap:        30 * time.Second,
	JitterFrac: 0.10,
}

// MaxTransportRetries is the number of times a transport-level error (not
// a 4xx response) is retried before the caller gives up.
const MaxTransportRetries = 5
