// Package client is the HTTP client the CLI uses to talk to a running
// control-plane server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentgate/agentgate/internal/audit"
	"github.com/agentgate/agentgate/pkg/types"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Authorize submits an operation for a decision. A denial is not an
// error; the decision carries the reasons.
func (c *Client) Authorize(ctx context.Context, op types.OperationContext) (*types.Decision, error) {
	b, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/authorize", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	c.addAuth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusForbidden {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("authorize: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var d types.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SearchEvents(ctx context.Context, q url.Values) ([]types.AuditEvent, error) {
	var out []types.AuditEvent
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/events/search", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) EventSummary(ctx context.Context, since, until string) (*audit.Summary, error) {
	q := url.Values{}
	if since != "" {
		q.Set("since", since)
	}
	if until != "" {
		q.Set("until", until)
	}
	var out audit.Summary
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/events/summary", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EventAnomalies(ctx context.Context, window string) ([]audit.Anomaly, error) {
	q := url.Values{}
	if window != "" {
		q.Set("window", window)
	}
	var out []audit.Anomaly
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/events/anomalies", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UsageHistory(ctx context.Context, resource string, minutes int) ([]types.ResourceSample, error) {
	q := url.Values{}
	if minutes > 0 {
		q.Set("minutes", strconv.Itoa(minutes))
	}
	var out []types.ResourceSample
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/usage/"+url.PathEscape(resource), q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateSnapshot(ctx context.Context, metadata map[string]any) (map[string]any, error) {
	var out map[string]any
	body := map[string]any{"metadata": metadata}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/snapshots", nil, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListSnapshots(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/snapshots", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RollbackSnapshot(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/snapshots/"+url.PathEscape(id)+"/rollback", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) EmergencyStatus(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/emergency", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) TriggerEmergency(ctx context.Context, reason string, details map[string]any) (map[string]any, error) {
	var out map[string]any
	body := map[string]any{"reason": reason, "context": details}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/emergency/trigger", nil, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ResetEmergency(ctx context.Context, user, reason string) (map[string]any, error) {
	var out map[string]any
	body := map[string]any{"user": user, "reason": reason}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/emergency/reset", nil, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	c.addAuth(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) addAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
