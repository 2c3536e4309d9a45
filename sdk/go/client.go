package tidyplansdk

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

// Client is a minimal Tidyplan HTTP API client.
type Client struct {
	BaseURL     string
	DatasetID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, datasetID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		DatasetID: datasetID,
		Timeout:   10 * time.Second,
	}
}

// Dataset represents the API dataset model.
type Dataset struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Clients   int    `json:"clients"`
	Workers   int    `json:"workers"`
	Tasks     int    `json:"tasks"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Summary aggregates the findings of one validation run.
type Summary struct {
	Total    int            `json:"total"`
	Errors   int            `json:"errors"`
	Warnings int            `json:"warnings"`
	Info     int            `json:"info"`
	Score    int            `json:"score"`
	ByEntity map[string]int `json:"by_entity"`
	ByField  map[string]int `json:"by_field"`
}

// ValidationRun represents one validation pass.
type ValidationRun struct {
	ID        string  `json:"id"`
	DatasetID string  `json:"dataset_id"`
	Summary   Summary `json:"summary"`
	CreatedAt string  `json:"created_at"`
}

// Finding is one validation result. Row is -1 for cross-entity findings.
type Finding struct {
	ID           string `json:"id"`
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id"`
	Row          int    `json:"row"`
	Field        string `json:"field"`
	Severity     string `json:"severity"`
	Message      string `json:"message"`
	SuggestedFix string `json:"suggested_fix,omitempty"`
	AutoFixable  bool   `json:"auto_fixable"`
}

// Rule represents a business rule.
type Rule struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// ExportResult lists the files written by an export.
type ExportResult struct {
	Dir   string   `json:"dir"`
	Files []string `json:"files"`
	RunID string   `json:"run_id"`
	Score int      `json:"score"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	DatasetID  string         `json:"dataset_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ImportPayload carries collections to replace. Nil collections are left
// untouched on the server; an empty non-nil collection clears its table.
type ImportPayload struct {
	Clients []map[string]any `json:"clients,omitempty"`
	Workers []map[string]any `json:"workers,omitempty"`
	Tasks   []map[string]any `json:"tasks,omitempty"`
}

// Import replaces collections and returns the resulting validation run.
func (c *Client) Import(ctx context.Context, payload ImportPayload) (ValidationRun, error) {
	var resp ValidationRun
	err := c.do(ctx, http.MethodPost, c.datasetPath("import"), payload, &resp)
	return resp, err
}

// Validate triggers a full validation pass.
func (c *Client) Validate(ctx context.Context) (ValidationRun, error) {
	var resp struct {
		Run      ValidationRun `json:"run"`
		Findings []Finding     `json:"findings"`
	}
	err := c.do(ctx, http.MethodPost, c.datasetPath("validate"), nil, &resp)
	return resp.Run, err
}

// LatestRun returns the most recent validation run.
func (c *Client) LatestRun(ctx context.Context) (ValidationRun, error) {
	var resp ValidationRun
	err := c.do(ctx, http.MethodGet, c.datasetPath("validations/latest"), nil, &resp)
	return resp, err
}

// FindingFilters narrows a findings listing. Zero values are ignored.
type FindingFilters struct {
	EntityKind string
	EntityID   string
	Severity   string
	Field      string
	Limit      int
}

// Findings returns the findings of a run, optionally filtered.
func (c *Client) Findings(ctx context.Context, runID string, f FindingFilters) ([]Finding, error) {
	q := url.Values{}
	if f.EntityKind != "" {
		q.Set("entity_kind", f.EntityKind)
	}
	if f.EntityID != "" {
		q.Set("entity_id", f.EntityID)
	}
	if f.Severity != "" {
		q.Set("severity", f.Severity)
	}
	if f.Field != "" {
		q.Set("field", f.Field)
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", f.Limit))
	}
	endpoint := c.datasetPath(fmt.Sprintf("validations/%s/findings", url.PathEscape(runID)))
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp []Finding
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AddRule adds a business rule; the server re-validates the dataset.
func (c *Client) AddRule(ctx context.Context, ruleType string, params any) (Rule, error) {
	body := map[string]any{
		"type":   ruleType,
		"params": params,
	}
	var resp Rule
	err := c.do(ctx, http.MethodPost, c.datasetPath("rules"), body, &resp)
	return resp, err
}

// ListRules returns the dataset's rules.
func (c *Client) ListRules(ctx context.Context) ([]Rule, error) {
	var resp []Rule
	err := c.do(ctx, http.MethodGet, c.datasetPath("rules"), nil, &resp)
	return resp, err
}

// DeleteRule removes a rule; the server re-validates the dataset.
func (c *Client) DeleteRule(ctx context.Context, ruleID string) error {
	endpoint := c.datasetPath(fmt.Sprintf("rules/%s", url.PathEscape(ruleID)))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// SetWeight sets one prioritization weight.
func (c *Client) SetWeight(ctx context.Context, criterion string, weight float64) error {
	endpoint := c.datasetPath(fmt.Sprintf("weights/%s", url.PathEscape(criterion)))
	return c.do(ctx, http.MethodPut, endpoint, map[string]any{"weight": weight}, nil)
}

// SetAssignment sets the planned task list for a worker.
func (c *Client) SetAssignment(ctx context.Context, workerID string, taskIDs []string) error {
	endpoint := c.datasetPath(fmt.Sprintf("assignments/%s", url.PathEscape(workerID)))
	return c.do(ctx, http.MethodPut, endpoint, map[string]any{"task_ids": taskIDs}, nil)
}

// Export writes the cleaned dataset package on the server side.
func (c *Client) Export(ctx context.Context, dir string) (ExportResult, error) {
	body := map[string]any{}
	if dir != "" {
		body["dir"] = dir
	}
	var resp ExportResult
	err := c.do(ctx, http.MethodPost, c.datasetPath("export"), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.datasetPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
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

func (c *Client) datasetPath(p string) string {
	dataset := url.PathEscape(c.DatasetID)
	return fmt.Sprintf("v0/datasets/%s/%s", dataset, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
