package api

import (
	"github.com/gin-gonic/gin"
)

// NewRouter assembles the gin engine serving every emulated NXRM2 path
// (C5), grouped the way the teacher groups its registry-protocol routes
// (cmd/api-gateway/routes/*.go): one route group per concern, with
// CredentialMiddleware standing in for the teacher's AuthMiddleware.
func (a *App) NewRouter() *gin.Engine {
	if a.Config != nil && a.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(requestLogger())

	router.GET("/service/local/status", a.statusHandler)

	local := router.Group("/service/local/staging")
	local.Use(CredentialMiddleware(a.Verifier))
	{
		local.GET("/profiles", a.profilesListHandler)
		local.GET("/profile_evaluate", a.profileEvaluateHandler)
		local.GET("/profiles/:profileId", a.profileLookupHandler)
		local.POST("/profiles/:profile/start", a.startHandler)
		local.PUT("/deployByRepositoryId/:id/*path", a.deployByRepositoryIDPutHandler)
		local.GET("/deployByRepositoryId/:id/*path", a.deployByRepositoryIDGetHandler)
		local.POST("/profiles/:profile/finish", a.finishHandler)
		local.POST("/bulk/close", a.bulkCloseHandler)
		local.GET("/repository/:id", a.repositoryPollHandler)
		local.POST("/bulk/promote", a.bulkPromoteHandler)

		// Profile-less maven2 deploy and manual-upload paths, supplementing
		// the profile-scoped endpoints above with the original
		// implementation's "no profile" repository (original_source's
		// open_no_profile_repository / staging_deploy_maven2).
		local.PUT("/deploy/maven2/*path", a.legacyDeployPutHandler)
		local.GET("/deploy/maven2/*path", a.legacyDeployGetHandler)
	}

	manual := router.Group("/service/local/manual")
	manual.Use(CredentialMiddleware(a.Verifier))
	manual.POST("/upload", a.manualUploadHandler)

	router.NoRoute(a.fallbackHandler)
	return router
}
