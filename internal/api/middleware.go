package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sonatype/central-nxrm-two-portal/internal/credentials"
	"github.com/sonatype/central-nxrm-two-portal/pkg/nxrm2xml"
)

const (
	contextKeyPair       = "nxrm2_pair"
	contextKeyNamespaces = "nxrm2_namespaces"
)

// CredentialMiddleware implements C1: it decodes the Authorization header
// into a credential Pair (or verifies a bearer token and synthesizes one
// from its claims) and stores it in the gin context for handlers to read.
// A malformed or absent header aborts the request with an NXRM2-shaped
// 401, mirroring the teacher's AuthMiddleware abort-on-failure shape.
func CredentialMiddleware(verifier *credentials.BearerVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")

		if verifier != nil && credentials.IsBearer(header) {
			token, err := credentials.BearerToken(header)
			if err == nil {
				pair, namespaces, verifyErr := verifier.Verify(token)
				if verifyErr == nil {
					c.Set(contextKeyPair, pair)
					c.Set(contextKeyNamespaces, namespaces)
					c.Next()
					return
				}
				log.Debug().Err(verifyErr).Msg("bearer token failed verification")
			}
		}

		pair, err := credentials.ExtractBasic(header)
		if err != nil {
			log.Debug().Err(err).Msg("request missing usable credentials")
			nxrm2xml.RespondError(c, http.StatusUnauthorized, "*", "authentication required")
			c.Abort()
			return
		}

		c.Set(contextKeyPair, pair)
		c.Set(contextKeyNamespaces, []string{})
		c.Next()
	}
}

// PairFromContext returns the credential pair CredentialMiddleware placed
// on the request context.
func PairFromContext(c *gin.Context) credentials.Pair {
	value, _ := c.Get(contextKeyPair)
	pair, _ := value.(credentials.Pair)
	return pair
}

// NamespacesFromContext returns the bearer-claims namespaces, empty for
// Basic-authenticated requests (the proxy has no user/namespace directory
// of its own — see spec's Non-goals).
func NamespacesFromContext(c *gin.Context) []string {
	value, _ := c.Get(contextKeyNamespaces)
	namespaces, _ := value.([]string)
	return namespaces
}
