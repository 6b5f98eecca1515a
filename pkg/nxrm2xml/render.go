package nxrm2xml

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// PrefersXML inspects an Accept header and reports whether the caller
// wants application/xml* over application/json*, defaulting to XML to
// match NXRM2's own default content type when the header is absent or
// unrecognized — the supported publishing plugins never send `Accept: */*`
// expecting JSON.
func PrefersXML(accept string) bool {
	if accept == "" {
		return true
	}
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		switch {
		case strings.HasPrefix(mediaType, "application/json"):
			return false
		case strings.HasPrefix(mediaType, "application/xml"), strings.HasPrefix(mediaType, "text/xml"):
			return true
		}
	}
	return true
}

// Respond renders payload as XML or JSON depending on the request's
// Accept header, and writes it with the matching status code. This is the
// single structural-polymorphism seam C5 uses: one tagged model, two
// renderers, selected once per request.
func Respond(c *gin.Context, status int, payload interface{}) {
	if PrefersXML(c.GetHeader("Accept")) {
		c.Status(status)
		c.Header("Content-Type", "application/xml; charset=utf-8")
		io.WriteString(c.Writer, xml.Header)
		encoder := xml.NewEncoder(c.Writer)
		encoder.Indent("", "  ")
		_ = encoder.Encode(payload)
		return
	}
	c.JSON(status, payload)
}

// RespondError renders an NXRM2-shaped error body for status, per spec.md
// section 7's error-kind-to-body mapping.
func RespondError(c *gin.Context, status int, field, message string) {
	Respond(c, status, NewErrorResponse(field, message))
}

// DecodeBody reads either an XML or JSON request body into dest based on
// Content-Type, tolerating unknown sibling elements/fields — both decoders
// only look for the leaves the caller names in dest's tags.
func DecodeBody(req *http.Request, dest interface{}) error {
	contentType := req.Header.Get("Content-Type")
	if strings.Contains(contentType, "json") {
		return decodeJSON(req.Body, dest)
	}
	return decodeXML(req.Body, dest)
}

func decodeXML(body io.Reader, dest interface{}) error {
	decoder := xml.NewDecoder(body)
	decoder.Strict = false
	return decoder.Decode(dest)
}

func decodeJSON(body io.Reader, dest interface{}) error {
	return json.NewDecoder(body).Decode(dest)
}
