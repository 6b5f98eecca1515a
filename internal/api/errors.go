package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sonatype/central-nxrm-two-portal/internal/bundle"
	"github.com/sonatype/central-nxrm-two-portal/internal/credentials"
	"github.com/sonatype/central-nxrm-two-portal/internal/portal"
	"github.com/sonatype/central-nxrm-two-portal/internal/staging"
	"github.com/sonatype/central-nxrm-two-portal/pkg/nxrm2xml"
)

// writeError maps an internal error kind to its HTTP status and
// NXRM2-shaped body, per spec.md section 7. Every handler funnels its
// failures through here so the mapping lives in exactly one place.
func writeError(c *gin.Context, err error) {
	status, field, message := classify(err)
	nxrm2xml.RespondError(c, status, field, message)
}

func classify(err error) (status int, field, message string) {
	var illegal *staging.ErrIllegalTransition
	var rejected *portal.ErrRejected

	switch {
	case errors.As(err, &illegal):
		return http.StatusConflict, "state", err.Error()
	case errors.Is(err, staging.ErrNotFound):
		return http.StatusNotFound, "id", "staging repository not found"
	case errors.Is(err, staging.ErrFingerprintMismatch):
		return http.StatusForbidden, "*", "credential does not match the session owner"
	case errors.Is(err, credentials.ErrMalformedHeader):
		return http.StatusUnauthorized, "*", "authentication required"
	case errors.Is(err, bundle.ErrPathEscape):
		return http.StatusBadRequest, "path", "relative path escapes the staging repository"
	case errors.Is(err, bundle.ErrConflict):
		return http.StatusConflict, "path", "a write to this path is already in progress"
	case errors.Is(err, bundle.ErrSealed):
		return http.StatusConflict, "state", "staging repository is no longer open for uploads"
	case errors.Is(err, bundle.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "*", "file exceeds the configured per-file limit"
	case errors.Is(err, bundle.ErrSessionTooLarge):
		return http.StatusRequestEntityTooLarge, "*", "staging repository exceeds the configured size limit"
	case errors.Is(err, bundle.ErrNotFound):
		return http.StatusNotFound, "path", "file not found in staging repository"
	case errors.Is(err, bundle.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "*", "staging storage is temporarily unavailable"
	case errors.As(err, &rejected):
		return http.StatusBadGateway, "*", "portal rejected the publish request"
	default:
		return http.StatusBadRequest, "*", "malformed request"
	}
}
