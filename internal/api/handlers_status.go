package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sonatype/central-nxrm-two-portal/pkg/nxrm2xml"
)

// statusHandler answers GET /service/local/status with a Nexus 2.x
// version string known to satisfy the supported publishing plugins, per
// spec.md section 4.5.
func (a *App) statusHandler(c *gin.Context) {
	nxrm2xml.Respond(c, http.StatusOK, nxrm2xml.StatusResponse{
		Data: nxrm2xml.StatusData{
			AppName:          "Nexus",
			FormattedAppName: "Nexus Repository Manager",
			Version:          "2.14.3-01",
			APIVersion:       "2.14.3-01",
			EditionLong:      "Professional",
			State:            "STARTED",
		},
	})
}
