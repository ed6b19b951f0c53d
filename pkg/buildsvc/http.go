package buildsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// HTTPClient is the production Service, a thin REST client over the build
// service's trigger/state-of endpoints. A token-bucket limiter guards both
// calls so a misbehaving sweep cannot hammer the external build service —
// this complements, rather than replaces, the triggering engine's
// one-per-job-type-per-sweep rule for capacity-constrained jobs (§4.G).
type HTTPClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// RateLimit is the sustained request rate allowed to the build
	// service; Burst is the number of requests admitted without waiting.
	RateLimit rate.Limit
	Burst     int
}

// NewHTTPClient builds an HTTPClient from cfg, filling in conservative
// defaults for any zero field.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = rate.Limit(5)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

type triggerRequest struct {
	ApplicationID string `json:"applicationId"`
	ProjectID     string `json:"projectId"`
	JobName       string `json:"jobName"`
	JobID         string `json:"jobId"`
}

// Trigger dispatches job to the build service over HTTP.
func (c *HTTPClient) Trigger(ctx context.Context, job BuildJob) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrTransient, err)
	}

	body, err := json.Marshal(triggerRequest{
		ApplicationID: job.ApplicationID,
		ProjectID:     job.ProjectID,
		JobName:       job.JobName,
		JobID:         job.JobID,
	})
	if err != nil {
		return fmt.Errorf("marshal trigger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs/trigger", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusCreated:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, job.JobName)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrIllegalArgument, job.JobName)
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrTransient, resp.StatusCode)
	}
}

type stateResponse struct {
	State string `json:"state"`
}

// StateOf polls the build service for job's current state.
func (c *HTTPClient) StateOf(ctx context.Context, job BuildJob) (State, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limiter: %v", ErrTransient, err)
	}

	url := fmt.Sprintf("%s/jobs/state?applicationId=%s&projectId=%s&jobName=%s",
		c.baseURL, job.ApplicationID, job.ProjectID, job.JobName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build state request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrNotFound, job.JobName)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %d", ErrTransient, resp.StatusCode)
	}

	var sr stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decode state response: %w", err)
	}
	return State(sr.State), nil
}
