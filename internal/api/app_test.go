package api

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonatype/central-nxrm-two-portal/internal/bundle"
	"github.com/sonatype/central-nxrm-two-portal/internal/config"
	"github.com/sonatype/central-nxrm-two-portal/internal/credentials"
	"github.com/sonatype/central-nxrm-two-portal/internal/portal"
	"github.com/sonatype/central-nxrm-two-portal/internal/staging"
)

func basicAuth(user, token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+token))
}

func newTestApp(t *testing.T, portalURL string) *App {
	t.Helper()

	bundles, err := bundle.NewStore(t.TempDir(), 0, 0)
	require.NoError(t, err)

	registry := staging.NewRegistry(staging.Config{
		InactivityTimeout: time.Hour,
		RetentionWindow:   time.Hour,
	})

	fingerprinter, err := credentials.NewFingerprinter()
	require.NoError(t, err)

	portalClient := portal.NewClient(portalURL, &http.Client{Timeout: 5 * time.Second})

	return NewApp(&config.Config{}, bundles, registry, portalClient, nil, fingerprinter)
}

func TestStatusHandlerReturnsNexusVersion(t *testing.T) {
	app := newTestApp(t, "")
	router := app.NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/service/local/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "2.14.3-01")
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestCredentialMiddlewareRejectsMissingAuth(t *testing.T) {
	app := newTestApp(t, "")
	router := app.NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/service/local/staging/profiles", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStartDeployFinishHappyPathXML(t *testing.T) {
	// A spec-conformant Portal settles a USER_MANAGED deployment at
	// VALIDATED, not PUBLISHED — finish/bulk-close never ask for
	// anything more than that.
	portalServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/upload"):
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"deploymentId":"dep-1"}`))
		case strings.Contains(r.URL.Path, "/status"):
			w.Write([]byte(`{"deploymentId":"dep-1","deploymentState":"VALIDATED"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer portalServer.Close()

	app := newTestApp(t, portalServer.URL)
	router := app.NewRouter()
	auth := basicAuth("alice", "tok")

	startBody := `<promoteRequest><data><description>my release</description></data></promoteRequest>`
	req := httptest.NewRequest(http.MethodPost, "/service/local/staging/profiles/io.example/start", strings.NewReader(startBody))
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Type", "application/xml")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Contains(t, w.Body.String(), "<stagedRepositoryId>")

	repositoryID := extractBetween(w.Body.String(), "<stagedRepositoryId>", "</stagedRepositoryId>")
	require.NotEmpty(t, repositoryID)

	putPath := "/service/local/staging/deployByRepositoryId/" + repositoryID + "/com/example/widget/1.0/widget-1.0.pom"
	putReq := httptest.NewRequest(http.MethodPut, putPath, strings.NewReader("<project/>"))
	putReq.Header.Set("Authorization", auth)
	putW := httptest.NewRecorder()
	router.ServeHTTP(putW, putReq)
	require.Equal(t, http.StatusCreated, putW.Code)

	finishBody := `<promoteRequest><data><stagedRepositoryId>` + repositoryID + `</stagedRepositoryId></data></promoteRequest>`
	finishReq := httptest.NewRequest(http.MethodPost, "/service/local/staging/profiles/io.example/finish", strings.NewReader(finishBody))
	finishReq.Header.Set("Authorization", auth)
	finishReq.Header.Set("Content-Type", "application/xml")
	finishW := httptest.NewRecorder()
	router.ServeHTTP(finishW, finishReq)
	require.Equal(t, http.StatusCreated, finishW.Code)

	require.Eventually(t, func() bool {
		session, ok := app.Registry.Get(repositoryID)
		return ok && session.State == staging.Closed
	}, time.Second, 5*time.Millisecond, "a USER_MANAGED upload should settle at Closed, never auto-release")
}

func TestBulkPromoteReleasesAClosedUserManagedSession(t *testing.T) {
	var sawPublishCall atomic.Bool
	portalServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/upload"):
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"deploymentId":"dep-1"}`))
		case strings.HasSuffix(r.URL.Path, "/publish"):
			sawPublishCall.Store(true)
			w.WriteHeader(http.StatusOK)
		case strings.Contains(r.URL.Path, "/status"):
			if sawPublishCall.Load() {
				w.Write([]byte(`{"deploymentId":"dep-1","deploymentState":"PUBLISHED"}`))
			} else {
				w.Write([]byte(`{"deploymentId":"dep-1","deploymentState":"VALIDATED"}`))
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer portalServer.Close()

	app := newTestApp(t, portalServer.URL)
	router := app.NewRouter()
	auth := basicAuth("alice", "tok")

	startReq := httptest.NewRequest(http.MethodPost, "/service/local/staging/profiles/io.example/start", strings.NewReader(`<promoteRequest><data><description>d</description></data></promoteRequest>`))
	startReq.Header.Set("Authorization", auth)
	startReq.Header.Set("Content-Type", "application/xml")
	startW := httptest.NewRecorder()
	router.ServeHTTP(startW, startReq)
	require.Equal(t, http.StatusCreated, startW.Code)
	repositoryID := extractBetween(startW.Body.String(), "<stagedRepositoryId>", "</stagedRepositoryId>")

	finishBody := `<promoteRequest><data><stagedRepositoryId>` + repositoryID + `</stagedRepositoryId></data></promoteRequest>`
	finishReq := httptest.NewRequest(http.MethodPost, "/service/local/staging/profiles/io.example/finish", strings.NewReader(finishBody))
	finishReq.Header.Set("Authorization", auth)
	finishReq.Header.Set("Content-Type", "application/xml")
	finishW := httptest.NewRecorder()
	router.ServeHTTP(finishW, finishReq)
	require.Equal(t, http.StatusCreated, finishW.Code)

	require.Eventually(t, func() bool {
		session, ok := app.Registry.Get(repositoryID)
		return ok && session.State == staging.Closed
	}, time.Second, 5*time.Millisecond, "session must reach Closed before bulk/promote is even meaningful")

	promoteBody := `<stagingActionRequest><data><stagedRepositoryIds><string>` + repositoryID + `</string></stagedRepositoryIds></data></stagingActionRequest>`
	promoteReq := httptest.NewRequest(http.MethodPost, "/service/local/staging/bulk/promote", strings.NewReader(promoteBody))
	promoteReq.Header.Set("Authorization", auth)
	promoteReq.Header.Set("Content-Type", "application/xml")
	promoteW := httptest.NewRecorder()
	router.ServeHTTP(promoteW, promoteReq)
	require.Equal(t, http.StatusOK, promoteW.Code)

	require.Eventually(t, func() bool {
		session, ok := app.Registry.Get(repositoryID)
		return ok && session.State == staging.Released
	}, time.Second, 5*time.Millisecond, "bulk/promote's explicit Client.Publish call should be the only way to reach Released")
	assert.True(t, sawPublishCall.Load())
}

func TestStartRespectsGradleJSONAccept(t *testing.T) {
	app := newTestApp(t, "")
	router := app.NewRouter()

	startBody := `{"data":{"description":"json client"}}`
	req := httptest.NewRequest(http.MethodPost, "/service/local/staging/profiles/io.example/start", strings.NewReader(startBody))
	req.Header.Set("Authorization", basicAuth("bob", "tok"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, w.Body.String(), `"stagedRepositoryId"`)
}

func TestDeployByRepositoryIDRejectsOwnerMismatch(t *testing.T) {
	app := newTestApp(t, "")
	router := app.NewRouter()

	startReq := httptest.NewRequest(http.MethodPost, "/service/local/staging/profiles/io.example/start", strings.NewReader(`<promoteRequest><data><description>d</description></data></promoteRequest>`))
	startReq.Header.Set("Authorization", basicAuth("alice", "tok"))
	startReq.Header.Set("Content-Type", "application/xml")
	startW := httptest.NewRecorder()
	router.ServeHTTP(startW, startReq)
	require.Equal(t, http.StatusCreated, startW.Code)
	repositoryID := extractBetween(startW.Body.String(), "<stagedRepositoryId>", "</stagedRepositoryId>")

	putPath := "/service/local/staging/deployByRepositoryId/" + repositoryID + "/a.txt"
	putReq := httptest.NewRequest(http.MethodPut, putPath, strings.NewReader("x"))
	putReq.Header.Set("Authorization", basicAuth("mallory", "tok"))
	putW := httptest.NewRecorder()
	router.ServeHTTP(putW, putReq)

	assert.Equal(t, http.StatusForbidden, putW.Code)
}

func TestDeployByRepositoryIDRejectsPathEscape(t *testing.T) {
	app := newTestApp(t, "")
	router := app.NewRouter()
	auth := basicAuth("alice", "tok")

	startReq := httptest.NewRequest(http.MethodPost, "/service/local/staging/profiles/io.example/start", strings.NewReader(`<promoteRequest><data><description>d</description></data></promoteRequest>`))
	startReq.Header.Set("Authorization", auth)
	startReq.Header.Set("Content-Type", "application/xml")
	startW := httptest.NewRecorder()
	router.ServeHTTP(startW, startReq)
	repositoryID := extractBetween(startW.Body.String(), "<stagedRepositoryId>", "</stagedRepositoryId>")

	putPath := "/service/local/staging/deployByRepositoryId/" + repositoryID + "/../../etc/passwd"
	putReq := httptest.NewRequest(http.MethodPut, putPath, strings.NewReader("x"))
	putReq.Header.Set("Authorization", auth)
	putW := httptest.NewRecorder()
	router.ServeHTTP(putW, putReq)

	assert.Equal(t, http.StatusBadRequest, putW.Code)
}

func TestFinishSessionFailsWhenPortalRejects(t *testing.T) {
	portalServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad credentials"))
	}))
	defer portalServer.Close()

	app := newTestApp(t, portalServer.URL)
	router := app.NewRouter()
	auth := basicAuth("alice", "tok")

	startReq := httptest.NewRequest(http.MethodPost, "/service/local/staging/profiles/io.example/start", strings.NewReader(`<promoteRequest><data><description>d</description></data></promoteRequest>`))
	startReq.Header.Set("Authorization", auth)
	startReq.Header.Set("Content-Type", "application/xml")
	startW := httptest.NewRecorder()
	router.ServeHTTP(startW, startReq)
	repositoryID := extractBetween(startW.Body.String(), "<stagedRepositoryId>", "</stagedRepositoryId>")

	finishBody := `<promoteRequest><data><stagedRepositoryId>` + repositoryID + `</stagedRepositoryId></data></promoteRequest>`
	finishReq := httptest.NewRequest(http.MethodPost, "/service/local/staging/profiles/io.example/finish", strings.NewReader(finishBody))
	finishReq.Header.Set("Authorization", auth)
	finishReq.Header.Set("Content-Type", "application/xml")
	finishW := httptest.NewRecorder()
	router.ServeHTTP(finishW, finishReq)
	require.Equal(t, http.StatusCreated, finishW.Code)

	require.Eventually(t, func() bool {
		session, ok := app.Registry.Get(repositoryID)
		return ok && session.State == staging.Failed
	}, time.Second, 5*time.Millisecond, "a rejected portal upload should drive the session to Failed")
}

func TestManualUploadHonorsAutomaticPublishingType(t *testing.T) {
	receivedPublishingType := make(chan string, 1)
	portalServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/upload"):
			require.NoError(t, r.ParseMultipartForm(1<<20))
			receivedPublishingType <- r.MultipartForm.Value["publishingType"][0]
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"deploymentId":"dep-2"}`))
		case strings.Contains(r.URL.Path, "/status"):
			w.Write([]byte(`{"deploymentId":"dep-2","deploymentState":"PUBLISHED"}`))
		}
	}))
	defer portalServer.Close()

	app := newTestApp(t, portalServer.URL)
	router := app.NewRouter()
	auth := basicAuth("alice", "tok")

	putReq := httptest.NewRequest(http.MethodPut, "/service/local/staging/deploy/maven2/com/example/widget/1.0/widget-1.0.pom", strings.NewReader("<project/>"))
	putReq.Header.Set("Authorization", auth)
	putW := httptest.NewRecorder()
	router.ServeHTTP(putW, putReq)
	require.Equal(t, http.StatusCreated, putW.Code)

	uploadReq := httptest.NewRequest(http.MethodPost, "/service/local/manual/upload?publishing_type=automatic", nil)
	uploadReq.Header.Set("Authorization", auth)
	uploadW := httptest.NewRecorder()
	router.ServeHTTP(uploadW, uploadReq)
	require.Equal(t, http.StatusOK, uploadW.Code)

	select {
	case publishingType := <-receivedPublishingType:
		assert.Equal(t, "AUTOMATIC", publishingType)
	case <-time.After(time.Second):
		t.Fatal("manual upload never reached the portal")
	}
}

func TestUnrecognizedPathFallsBackTo404(t *testing.T) {
	app := newTestApp(t, "")
	router := app.NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/not/a/real/path", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func extractBetween(s, start, end string) string {
	startIdx := strings.Index(s, start)
	if startIdx == -1 {
		return ""
	}
	startIdx += len(start)
	endIdx := strings.Index(s[startIdx:], end)
	if endIdx == -1 {
		return ""
	}
	return s[startIdx : startIdx+endIdx]
}
