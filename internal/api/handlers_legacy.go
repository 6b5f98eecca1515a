package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sonatype/central-nxrm-two-portal/internal/bundle"
	"github.com/sonatype/central-nxrm-two-portal/internal/portal"
)

// legacyDeployPutHandler answers PUT /service/local/staging/deploy/maven2/<path...>,
// the profile-less deploy path some Maven clients use instead of the
// explicit start/deployByRepositoryId/finish dance. It finds or opens the
// caller's implicit session and streams directly into its bundle,
// grounded on the original implementation's open_no_profile_repository.
func (a *App) legacyDeployPutHandler(c *gin.Context) {
	relativePath := strings.TrimPrefix(c.Param("path"), "/")
	pair := PairFromContext(c)

	if containsMavenMetadata(relativePath) {
		c.Status(http.StatusCreated)
		return
	}

	session, err := a.findOrCreateImplicitSession(pair)
	if err != nil {
		writeError(c, err)
		return
	}

	handle, err := a.openSessionForWrite(session.ID, pair)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := handle.Put(c.Request.Context(), relativePath, c.Request.Body); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// legacyDeployGetHandler is the upload-probe GET counterpart of
// legacyDeployPutHandler.
func (a *App) legacyDeployGetHandler(c *gin.Context) {
	relativePath := strings.TrimPrefix(c.Param("path"), "/")
	pair := PairFromContext(c)

	for _, id := range a.Registry.LookupByOwner(implicitProfile, a.Fingerprinter.Fingerprint(pair)) {
		session, ok := a.Registry.Get(id)
		if !ok {
			continue
		}
		handle, ok := session.BundleHandle.(*bundle.Handle)
		if ok && handle.Has(relativePath) {
			c.Status(http.StatusOK)
			return
		}
	}
	c.Status(http.StatusNotFound)
}

// manualUploadHandler answers POST /service/local/manual/upload: closes
// the caller's open implicit session (creating an empty one first if none
// is open) and immediately hands it to the Portal client, honoring the publishing_type query parameter the same way
// the original manual_upload_default_repository handler does.
func (a *App) manualUploadHandler(c *gin.Context) {
	pair := PairFromContext(c)

	session, err := a.findOrCreateImplicitSession(pair)
	if err != nil {
		writeError(c, err)
		return
	}

	closed, err := a.closeSession(session.ID, pair)
	if err != nil {
		writeError(c, err)
		return
	}

	publishingType := manualPublishingType(c.Query("publishing_type"))
	log.Debug().Str("session_id", closed.ID).Str("publishing_type", string(publishingType)).Msg("manual upload requested")

	go a.finishSession(closed, pair, publishingType)
	c.Status(http.StatusOK)
}

func manualPublishingType(raw string) portal.PublishingType {
	if strings.EqualFold(raw, "automatic") {
		return portal.Automatic
	}
	return portal.UserManaged
}
