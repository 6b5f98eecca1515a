package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const contextKeyRequestID = "nxrm2_request_id"

// requestIDMiddleware mints a request id with google/uuid the way the
// teacher mints primary keys (`uuid.New()`), attaches it to the gin
// context and the response headers, and is the Go-native analogue of the
// original source's `tracing::instrument` span-per-request convention.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set(contextKeyRequestID, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func requestIDFromContext(c *gin.Context) string {
	value, _ := c.Get(contextKeyRequestID)
	id, _ := value.(string)
	return id
}

// maxFallbackBodyLog caps how much of an unrecognized request body gets
// logged, so a misbehaving client can't turn the fallback route into an
// unbounded memory sink.
const maxFallbackBodyLog = 4 << 10

// fallbackHandler is C7: every request that matches no known NXRM2 path is
// recorded at trace level (method, path, a redacted Authorization header,
// and a truncated body) and answered with a bare 404, so a captured trace
// of a client's real behavior can later inform a new handler instead of
// being silently dropped.
func (a *App) fallbackHandler(c *gin.Context) {
	body, _ := io.ReadAll(io.LimitReader(c.Request.Body, maxFallbackBodyLog))

	log.Trace().
		Str("request_id", requestIDFromContext(c)).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Str("query", c.Request.URL.RawQuery).
		Str("authorization", redactAuthorization(c.GetHeader("Authorization"))).
		Bytes("body", body).
		Msg("unrecognized request reached the fallback route")

	c.Status(http.StatusNotFound)
}

func redactAuthorization(header string) string {
	if header == "" {
		return ""
	}
	for i, r := range header {
		if r == ' ' {
			return header[:i] + " <redacted>"
		}
	}
	return "<redacted>"
}

// requestLogger mirrors the teacher's gin.Logger() slot in the middleware
// chain, but through zerolog at debug level instead of gin's default
// writer, matching the structured-logging convention used everywhere else
// in this proxy.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Debug().
			Str("request_id", requestIDFromContext(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("request handled")
	}
}
