package bundle

import "errors"

// Error kinds surfaced by the bundle store, mapped onto HTTP statuses by
// the api package (spec.md section 7).
var (
	ErrStorageUnavailable = errors.New("bundle storage unavailable")
	ErrPathEscape         = errors.New("path escapes bundle root")
	ErrConflict           = errors.New("concurrent write to the same path")
	ErrSealed             = errors.New("bundle is sealed")
	ErrNotFound           = errors.New("bundle entry not found")
	ErrFileTooLarge       = errors.New("file exceeds the configured per-file limit")
	ErrSessionTooLarge    = errors.New("bundle exceeds the configured per-session limit")
)
