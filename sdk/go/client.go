package shiptracksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Shiptrack HTTP API client.
type Client struct {
	BaseURL     string
	ProductID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, productID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProductID: productID,
		Timeout:   10 * time.Second,
	}
}

// Feature represents the API feature model (partial).
type Feature struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Stage     string `json:"stage"`
	Priority  string `json:"priority"`
	Points    int    `json:"points"`
	Votes     int    `json:"votes"`
}

// Bug represents the API bug model (partial).
type Bug struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Severity  string `json:"severity"`
	Status    string `json:"status"`
}

// Release represents the API release model (partial).
type Release struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Version   string `json:"version"`
	Status    string `json:"status"`
}

// Event represents a log entry.
type Event struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts"`
	Type        string         `json:"type"`
	WorkspaceID string         `json:"workspace_id"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id"`
	ActorID     string         `json:"actor_id"`
	Payload     map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateFeature creates a feature in the idea stage.
func (c *Client) CreateFeature(ctx context.Context, title, priority string, points int) (Feature, error) {
	body := map[string]any{
		"title": title,
	}
	if priority != "" {
		body["priority"] = priority
	}
	if points > 0 {
		body["points"] = points
	}
	var resp Feature
	err := c.do(ctx, http.MethodPost, c.productPath("features"), body, &resp)
	return resp, err
}

// AdvanceFeature moves a feature to the given stage.
func (c *Client) AdvanceFeature(ctx context.Context, featureID, stage string) (Feature, error) {
	body := map[string]any{"stage": stage}
	var resp Feature
	endpoint := fmt.Sprintf("v0/features/%s/advance", url.PathEscape(featureID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// VoteFeature records the caller's vote.
func (c *Client) VoteFeature(ctx context.Context, featureID string) (Feature, error) {
	var resp Feature
	endpoint := fmt.Sprintf("v0/features/%s/vote", url.PathEscape(featureID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ApproveFeature approves a feature in review.
func (c *Client) ApproveFeature(ctx context.Context, featureID, comment string) (Feature, error) {
	body := map[string]any{"comment": comment}
	var resp Feature
	endpoint := fmt.Sprintf("v0/features/%s/approve", url.PathEscape(featureID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateBug reports a bug.
func (c *Client) CreateBug(ctx context.Context, title, severity string) (Bug, error) {
	body := map[string]any{
		"title": title,
	}
	if severity != "" {
		body["severity"] = severity
	}
	var resp Bug
	err := c.do(ctx, http.MethodPost, c.productPath("bugs"), body, &resp)
	return resp, err
}

// SetBugStatus moves a bug through its lifecycle.
func (c *Client) SetBugStatus(ctx context.Context, bugID, status string) (Bug, error) {
	body := map[string]any{"status": status}
	var resp Bug
	endpoint := fmt.Sprintf("v0/bugs/%s/status", url.PathEscape(bugID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// RecordRetest records a retest result for a bug.
func (c *Client) RecordRetest(ctx context.Context, bugID string, passed bool, notes string) (Bug, error) {
	body := map[string]any{
		"passed": passed,
		"notes":  notes,
	}
	var resp Bug
	endpoint := fmt.Sprintf("v0/bugs/%s/retests", url.PathEscape(bugID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Deploy deploys a release to an environment.
func (c *Client) Deploy(ctx context.Context, releaseID, environment string) (Release, error) {
	body := map[string]any{"environment": environment}
	var resp Release
	endpoint := fmt.Sprintf("v0/releases/%s/deploy", url.PathEscape(releaseID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) productPath(p string) string {
	product := url.PathEscape(c.ProductID)
	return fmt.Sprintf("v0/products/%s/%s", product, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
