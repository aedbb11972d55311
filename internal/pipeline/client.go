// Package pipeline is a thin client for the remote image-processing service.
// The pipeline is an opaque collaborator: upload the photo, submit a job,
// poll until it reaches a terminal state, download the result. Access
// decisions never happen here.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zadahmed/everwith-entitlements/internal/common"
	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
)

// Status of a submitted job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the job will not change state again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the server's view of a processing job.
type Job struct {
	ID        string `json:"job_id"`
	Status    Status `json:"status"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

type submitRequest struct {
	Mode     string `json:"mode"`
	ImageURL string `json:"image_url"`
}

// Client drives a job through the pipeline service.
type Client interface {
	Upload(ctx context.Context, url string, data []byte) error
	Submit(ctx context.Context, mode entitlement.Mode, imageURL string) (Job, error)
	Poll(ctx context.Context, jobID string) (Job, error)
	Download(ctx context.Context, resultURL string) ([]byte, error)
}

// HTTPClient implements Client over the service's REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Upload PUTs the photo bytes to the given URL, normally a presigned one
// handed out by the backend.
func (c *HTTPClient) Upload(ctx context.Context, url string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed: %s; body: %s", resp.Status, string(b))
	}
	return nil
}

// Submit creates a job for the uploaded image and returns it in its initial
// state.
func (c *HTTPClient) Submit(ctx context.Context, mode entitlement.Mode, imageURL string) (Job, error) {
	body, err := json.Marshal(submitRequest{Mode: string(mode), ImageURL: imageURL})
	if err != nil {
		return Job{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/jobs", bytes.NewReader(body))
	if err != nil {
		return Job{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doJob(req)
}

// Poll fetches the job's current state once.
func (c *HTTPClient) Poll(ctx context.Context, jobID string) (Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/jobs/"+jobID, nil)
	if err != nil {
		return Job{}, err
	}
	return c.doJob(req)
}

// Download fetches the finished result.
func (c *HTTPClient) Download(ctx context.Context, resultURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (c *HTTPClient) doJob(req *http.Request) (Job, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return Job{}, fmt.Errorf("%w: %s", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Job{}, fmt.Errorf("pipeline request failed: %s; body: %s", resp.Status, string(b))
	}

	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return Job{}, fmt.Errorf("failed to decode job: %w", err)
	}
	return job, nil
}

// Wait polls the job at a fixed interval until it reaches a terminal state
// or the context is cancelled.
func Wait(ctx context.Context, c Client, jobID string, interval time.Duration) (Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.Poll(ctx, jobID)
		if err != nil {
			return Job{}, err
		}
		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
