package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seastack/bosun/pkg/events"
)

// Client talks to the operator API over HTTP. Methods decode the API's
// JSON views; errors carry the server's message when one is returned.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the API at addr (host:port).
func New(addr string) *Client {
	return &Client{
		base: "http://" + addr,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Deploy starts the deploy plan.
func (c *Client) Deploy(ctx context.Context) (*Plan, error) {
	var p Plan
	if err := c.do(ctx, http.MethodPost, "/v1/plans/deploy", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Update submits a revised spec document and starts the update plan.
func (c *Client) Update(ctx context.Context, spec []byte) (*Plan, error) {
	var p Plan
	if err := c.do(ctx, http.MethodPost, "/v1/plans/update", bytes.NewReader(spec), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Plans lists all plan runs, newest first.
func (c *Client) Plans(ctx context.Context) ([]*Plan, error) {
	var plans []*Plan
	if err := c.do(ctx, http.MethodGet, "/v1/plans", nil, &plans); err != nil {
		return nil, err
	}
	return plans, nil
}

// Plan fetches one plan by run ID or plan name.
func (c *Client) Plan(ctx context.Context, id string) (*Plan, error) {
	var p Plan
	if err := c.do(ctx, http.MethodGet, "/v1/plans/"+id, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PausePlan pauses a running plan.
func (c *Client) PausePlan(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/plans/"+id+"/pause", nil, nil)
}

// ResumePlan resumes a paused plan.
func (c *Client) ResumePlan(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/plans/"+id+"/resume", nil, nil)
}

// CancelPlan cancels a live plan.
func (c *Client) CancelPlan(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/plans/"+id+"/cancel", nil, nil)
}

// PodGroups lists every pod group with its instance counts.
func (c *Client) PodGroups(ctx context.Context) ([]*PodGroup, error) {
	var groups []*PodGroup
	if err := c.do(ctx, http.MethodGet, "/v1/pods", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// PodGroup fetches one pod group with its instances.
func (c *Client) PodGroup(ctx context.Context, name string) (*PodGroup, error) {
	var g PodGroup
	if err := c.do(ctx, http.MethodGet, "/v1/pods/"+name, nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// RestartInstance replaces an instance in place.
func (c *Client) RestartInstance(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/instances/"+id+"/restart", nil, nil)
}

// Events returns the orchestrator's recent event ring, oldest first.
func (c *Client) Events(ctx context.Context) ([]*events.Event, error) {
	var out []*events.Event
	if err := c.do(ctx, http.MethodGet, "/v1/events", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
