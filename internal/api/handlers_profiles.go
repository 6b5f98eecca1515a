package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sonatype/central-nxrm-two-portal/pkg/nxrm2xml"
)

func baseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if forwarded := c.GetHeader("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request.Host)
}

// profilesListHandler answers GET /service/local/staging/profiles with one
// synthetic profile per namespace the caller may publish under. Basic
// credentials carry no namespace claims, so absent a bearer token the
// proxy falls back to a single profile named after the authenticated
// user, per spec.md section 4.5.
func (a *App) profilesListHandler(c *gin.Context) {
	pair := PairFromContext(c)
	namespaces := NamespacesFromContext(c)
	if len(namespaces) == 0 {
		namespaces = []string{pair.User}
	}

	base := baseURL(c)
	profiles := make([]nxrm2xml.StagingProfile, 0, len(namespaces))
	for _, namespace := range namespaces {
		resourceURI := fmt.Sprintf("%s/service/local/staging/profile_evaluate/%s", base, namespace)
		profiles = append(profiles, nxrm2xml.NewStagingProfile(base, namespace, resourceURI))
	}

	nxrm2xml.Respond(c, http.StatusOK, nxrm2xml.StagingProfilesEvaluateResponse{Data: profiles})
}

// profileEvaluateHandler answers GET /service/local/staging/profile_evaluate
// by returning a profile whose id equals the requested group, so later
// endpoints recover the namespace from the id alone.
func (a *App) profileEvaluateHandler(c *gin.Context) {
	group := c.Query("g")
	base := baseURL(c)
	resourceURI := fmt.Sprintf("%s/service/local/staging/profile_evaluate/%s", base, group)
	nxrm2xml.Respond(c, http.StatusOK, nxrm2xml.StagingProfilesEvaluateResponse{
		Data: []nxrm2xml.StagingProfile{nxrm2xml.NewStagingProfile(base, group, resourceURI)},
	})
}

// profileLookupHandler answers GET /service/local/staging/profiles/<id> by
// echoing a profile whose id equals the path segment, regardless of
// whether it was previously issued.
func (a *App) profileLookupHandler(c *gin.Context) {
	profileID := c.Param("profileId")
	base := baseURL(c)
	resourceURI := fmt.Sprintf("%s/service/local/staging/profiles/%s/%s", base, profileID, profileID)
	nxrm2xml.Respond(c, http.StatusOK, nxrm2xml.StagingProfilesResponse{
		Data: nxrm2xml.NewStagingProfile(base, profileID, resourceURI),
	})
}
