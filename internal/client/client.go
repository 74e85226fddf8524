// Package client implements the HTTP client for the IT support portal
// backend. It distinguishes rejected submissions (the backend answered and
// said no) from undelivered ones (the backend never answered) because the
// two feed different paths: rejections surface to the user, delivery
// failures go to the durable queue.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lotusit/supportq/internal/errors"
	"github.com/lotusit/supportq/internal/logging"
)

// SubmitResult describes the outcome of a submission that reached the
// backend.
type SubmitResult struct {
	Delivered  bool   // true for a 2xx response
	StatusCode int    // HTTP status returned by the backend
	RemoteID   string // remote record identifier, set when Delivered
}

// Client talks to the portal backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// submitResponse is the backend's acknowledgement of a created ticket.
type submitResponse struct {
	SharepointID string `json:"sharepoint_id"`
}

// Submit posts one ticket payload to the backend. A non-nil error means the
// request never completed (transport failure, timeout) and the payload is a
// candidate for durable queueing. A nil error with Delivered false means the
// backend rejected the payload.
func (c *Client) Submit(ctx context.Context, payload json.RawMessage) (*SubmitResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/tickets", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to build submit request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSubmitFailed, "ticket submission did not reach the backend", err)
	}
	defer resp.Body.Close()

	result := &SubmitResult{StatusCode: resp.StatusCode}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Delivered = true
		var ack submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
			logging.Warn("backend acknowledged ticket with unreadable body",
				map[string]interface{}{"status": resp.StatusCode})
		} else {
			result.RemoteID = ack.SharepointID
		}
		return result, nil
	}

	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return result, nil
}

// Health reports whether the backend answers its health endpoint.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode == http.StatusOK
}

// UpdateStatus patches the status of an existing ticket on the backend.
func (c *Client) UpdateStatus(ctx context.Context, sharepointID, status string) error {
	body, err := json.Marshal(map[string]string{
		"sharepoint_id": sharepointID,
		"status":        status,
	})
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to encode status update", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.baseURL+"/api/tickets/status", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to build status update request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrSubmitFailed, "status update did not reach the backend", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New(errors.ErrSubmitFailed,
			fmt.Sprintf("backend rejected status update with status %d", resp.StatusCode))
	}
	return nil
}
