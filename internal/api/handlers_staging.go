package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sonatype/central-nxrm-two-portal/internal/bundle"
	"github.com/sonatype/central-nxrm-two-portal/internal/credentials"
	"github.com/sonatype/central-nxrm-two-portal/internal/portal"
	"github.com/sonatype/central-nxrm-two-portal/internal/staging"
	"github.com/sonatype/central-nxrm-two-portal/pkg/nxrm2xml"
)

// startHandler answers POST /service/local/staging/profiles/<profile>/start:
// mints an id, creates a bundle, and opens a session, per spec.md section
// 4.5.
func (a *App) startHandler(c *gin.Context) {
	profile := c.Param("profile")
	pair := PairFromContext(c)

	var request nxrm2xml.PromoteRequest
	if err := nxrm2xml.DecodeBody(c.Request, &request); err != nil {
		writeError(c, err)
		return
	}

	fingerprint := a.Fingerprinter.Fingerprint(pair)

	session, err := a.Registry.Create(profile, request.Data.Description, fingerprint, nil)
	if err != nil {
		writeError(c, err)
		return
	}

	handle, err := a.Bundles.Create(session.ID)
	if err != nil {
		a.Registry.Destroy(session.ID)
		writeError(c, err)
		return
	}
	if err := a.Registry.WithSession(session.ID, func(s *staging.Session) error {
		s.BundleHandle = handle
		return nil
	}); err != nil {
		writeError(c, err)
		return
	}

	nxrm2xml.Respond(c, http.StatusCreated, nxrm2xml.PromoteResponse{
		Data: nxrm2xml.PromoteResponseData{
			StagedRepositoryID: session.ID,
			Description:        request.Data.Description,
		},
	})
}

// deployByRepositoryIDPutHandler answers
// PUT /service/local/staging/deployByRepositoryId/<id>/<path...>: streams
// the request body into the session's bundle under path.
func (a *App) deployByRepositoryIDPutHandler(c *gin.Context) {
	id := c.Param("id")
	relativePath := strings.TrimPrefix(c.Param("path"), "/")
	pair := PairFromContext(c)

	if containsMavenMetadata(relativePath) {
		c.Status(http.StatusCreated)
		return
	}

	handle, err := a.openSessionForWrite(id, pair)
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

// deployByRepositoryIDGetHandler answers the upload-probe GET variant.
func (a *App) deployByRepositoryIDGetHandler(c *gin.Context) {
	id := c.Param("id")
	relativePath := strings.TrimPrefix(c.Param("path"), "/")
	pair := PairFromContext(c)

	session, ok := a.Registry.Get(id)
	if !ok || !a.Fingerprinter.Matches(session.Fingerprint, pair) {
		c.Status(http.StatusNotFound)
		return
	}
	handle, ok := session.BundleHandle.(*bundle.Handle)
	if !ok || !handle.Has(relativePath) {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

// finishHandler answers POST /service/local/staging/profiles/<profile>/finish:
// transitions Open to Closing (which seals the bundle synchronously via the
// registry's transition hook) and hands the upload off to the Portal
// client asynchronously.
func (a *App) finishHandler(c *gin.Context) {
	pair := PairFromContext(c)

	var request nxrm2xml.PromoteRequest
	if err := nxrm2xml.DecodeBody(c.Request, &request); err != nil {
		writeError(c, err)
		return
	}
	id := request.Data.StagedRepositoryID

	session, err := a.closeSession(id, pair)
	if err != nil {
		writeError(c, err)
		return
	}

	go a.finishSession(session, pair, portal.UserManaged)
	c.Status(http.StatusCreated)
}

// bulkCloseHandler answers POST /service/local/staging/bulk/close: applies
// the Open->Closing transition to every listed id, reporting partial
// failures per id rather than aborting the whole batch.
func (a *App) bulkCloseHandler(c *gin.Context) {
	pair := PairFromContext(c)

	var request nxrm2xml.StagingActionRequest
	if err := nxrm2xml.DecodeBody(c.Request, &request); err != nil {
		writeError(c, err)
		return
	}

	var errs []nxrm2xml.ErrorItem
	for _, id := range request.Data.StagedRepositoryIDs {
		session, err := a.closeSession(id, pair)
		if err != nil {
			errs = append(errs, nxrm2xml.ErrorItem{ID: id, Msg: err.Error()})
			continue
		}
		go a.finishSession(session, pair, portal.UserManaged)
	}

	if len(errs) > 0 {
		nxrm2xml.Respond(c, http.StatusOK, nxrm2xml.ErrorResponse{Errors: errs})
		return
	}
	c.Status(http.StatusOK)
}

// bulkPromoteHandler answers POST /service/local/staging/bulk/promote:
// applies the Closed->Promoting transition to every listed id and asks the
// Portal to publish each one.
func (a *App) bulkPromoteHandler(c *gin.Context) {
	pair := PairFromContext(c)

	var request nxrm2xml.StagingActionRequest
	if err := nxrm2xml.DecodeBody(c.Request, &request); err != nil {
		writeError(c, err)
		return
	}

	var errs []nxrm2xml.ErrorItem
	for _, id := range request.Data.StagedRepositoryIDs {
		session, ok := a.Registry.Get(id)
		if !ok {
			errs = append(errs, nxrm2xml.ErrorItem{ID: id, Msg: "staging repository not found"})
			continue
		}
		if !a.Fingerprinter.Matches(session.Fingerprint, pair) {
			errs = append(errs, nxrm2xml.ErrorItem{ID: id, Msg: "credential does not match the session owner"})
			continue
		}
		updated, err := a.Registry.Transition(id, staging.EventPromote)
		if err != nil {
			errs = append(errs, nxrm2xml.ErrorItem{ID: id, Msg: err.Error()})
			continue
		}
		go a.promoteSession(updated, pair)
	}

	if len(errs) > 0 {
		nxrm2xml.Respond(c, http.StatusOK, nxrm2xml.ErrorResponse{Errors: errs})
		return
	}
	c.Status(http.StatusOK)
}

// repositoryPollHandler answers GET /service/local/staging/repository/<id>.
func (a *App) repositoryPollHandler(c *gin.Context) {
	id := c.Param("id")
	session, ok := a.Registry.Get(id)
	if !ok {
		nxrm2xml.Respond(c, http.StatusNotFound, nxrm2xml.StagingProfileRepositoryResponse{
			RepositoryID: id,
			Type:         "not_found",
		})
		return
	}

	base := baseURL(c)
	nxrm2xml.Respond(c, http.StatusOK, nxrm2xml.StagingProfileRepositoryResponse{
		ProfileID:             session.Profile,
		ProfileName:           session.Profile,
		ProfileType:           "repository",
		RepositoryID:          session.ID,
		Type:                  session.PollType(),
		Policy:                "release",
		UserID:                "",
		RepositoryURI:         base + "/content/repositories/" + session.ID,
		Created:               session.CreatedAt.UTC().Format(timestampFormat),
		CreatedTimestamp:      session.CreatedAt.UnixMilli(),
		Updated:               session.UpdatedAt.UTC().Format(timestampFormat),
		UpdatedTimestamp:      session.UpdatedAt.UnixMilli(),
		Description:           session.Description,
		Provider:              "maven2",
		ReleaseRepositoryID:   "releases",
		ReleaseRepositoryName: "Releases",
		Transitioning:         session.State == staging.Closing || session.State == staging.Promoting,
	})
}

const timestampFormat = "2006-01-02T15:04:05.000Z"

// openSessionForWrite validates that id exists, is Open, and is owned by
// pair, and returns its bundle handle for the caller to write outside the
// registry lock.
func (a *App) openSessionForWrite(id string, pair credentials.Pair) (*bundle.Handle, error) {
	var handle *bundle.Handle
	err := a.Registry.WithSession(id, func(s *staging.Session) error {
		if !a.Fingerprinter.Matches(s.Fingerprint, pair) {
			return staging.ErrFingerprintMismatch
		}
		if s.State != staging.Open {
			return &staging.ErrIllegalTransition{From: s.State, Event: staging.EventFinish}
		}
		h, ok := s.BundleHandle.(*bundle.Handle)
		if !ok {
			return staging.ErrNotFound
		}
		handle = h
		return nil
	})
	return handle, err
}

// closeSession validates ownership and applies the finish/close
// transition, returning the updated session for the caller to hand to the
// Portal client.
func (a *App) closeSession(id string, pair credentials.Pair) (staging.Session, error) {
	session, ok := a.Registry.Get(id)
	if !ok {
		return staging.Session{}, staging.ErrNotFound
	}
	if !a.Fingerprinter.Matches(session.Fingerprint, pair) {
		return staging.Session{}, staging.ErrFingerprintMismatch
	}
	return a.Registry.Transition(id, staging.EventFinish)
}

func containsMavenMetadata(path string) bool {
	return strings.Contains(path, "maven-metadata.xml")
}
