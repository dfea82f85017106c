// Package publish is the backend's client for pushing job events through the
// relay's notify API.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Result is the relay's answer to a push.
type Result struct {
	Success           bool `json:"success"`
	NotificationsSent int  `json:"notificationsSent"`
}

// Error is a non-2xx reply from the relay.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay returned %v: %v", e.StatusCode, e.Message)
}

// Publisher posts events to a relay.
type Publisher struct {
	client  *http.Client
	baseURL string
}

// New creates a Publisher for the relay at baseURL. A nil client gets a
// default with a 10s timeout.
func New(client *http.Client, baseURL string) *Publisher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Publisher{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// NotifyJob pushes a new_job event to every connection of userID.
func (p *Publisher) NotifyJob(ctx context.Context, userID string, job interface{}) (Result, error) {
	return p.post(ctx, "/api/notify-job", map[string]interface{}{
		"userId": userID,
		"job":    job,
	})
}

// BroadcastJob pushes a new_job event to every authenticated connection.
func (p *Publisher) BroadcastJob(ctx context.Context, job interface{}) (Result, error) {
	return p.post(ctx, "/api/broadcast-job", map[string]interface{}{
		"job": job,
	})
}

// NotifyJobStatus pushes a job_status_changed event to every connection of
// userID.
func (p *Publisher) NotifyJobStatus(ctx context.Context, userID string, jobID interface{}, status string) (Result, error) {
	return p.post(ctx, "/api/notify-job-status", map[string]interface{}{
		"userId": userID,
		"jobId":  jobID,
		"status": status,
	})
}

func (p *Publisher) post(ctx context.Context, path string, payload interface{}) (Result, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshalling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("building request for %v: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("posting to %v: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return Result{}, &Error{StatusCode: resp.StatusCode, Message: body.Error}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decoding reply from %v: %w", path, err)
	}
	return result, nil
}
