package studioflowsdk

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

// Client is a minimal Studioflow HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorID     string
	OrgID       string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID          string  `json:"id"`
	ClientName  string  `json:"client_name"`
	ServiceType string  `json:"service_type"`
	Modality    string  `json:"modality,omitempty"`
	Status      string  `json:"status"`
	Stage       string  `json:"stage,omitempty"`
	HoursUsed   float64 `json:"hours_used"`
}

type Stage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ColorTag    string `json:"color_tag"`
	Description string `json:"description,omitempty"`
}

type StageMove struct {
	NewStageID string `json:"new_stage_id"`
	NewStatus  string `json:"new_status"`
}

type TimeEntry struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	StageID     string  `json:"stage_id,omitempty"`
	Hours       float64 `json:"hours"`
	Date        string  `json:"date"`
	Description string  `json:"description,omitempty"`
	AuthorID    string  `json:"author_id"`
}

type TimelineEntry struct {
	Type        string  `json:"type"`
	TS          string  `json:"ts"`
	FromStage   string  `json:"from_stage,omitempty"`
	ToStage     string  `json:"to_stage,omitempty"`
	StageID     string  `json:"stage_id,omitempty"`
	Hours       float64 `json:"hours,omitempty"`
	Description string  `json:"description,omitempty"`
	ActorName   string  `json:"actor_name,omitempty"`
}

type Timeline struct {
	Entries      []TimelineEntry    `json:"entries"`
	HoursByStage map[string]float64 `json:"hours_by_stage"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, clientName, serviceType, modality string) (Project, error) {
	body := map[string]any{
		"client_name":  clientName,
		"service_type": serviceType,
	}
	if modality != "" {
		body["modality"] = modality
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v1/projects", body, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, projectID string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, ""), nil, &resp)
	return resp, err
}

// MoveStage moves a project to the given stage.
func (c *Client) MoveStage(ctx context.Context, projectID, stageID string) (StageMove, error) {
	var resp StageMove
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "stage"), map[string]any{"stage_id": stageID}, &resp)
	return resp, err
}

// InsertStage adds a custom stage; position nil appends at the end.
func (c *Client) InsertStage(ctx context.Context, projectID string, stage Stage, position *int) ([]Stage, error) {
	body := map[string]any{
		"id":        stage.ID,
		"name":      stage.Name,
		"color_tag": stage.ColorTag,
	}
	if stage.Description != "" {
		body["description"] = stage.Description
	}
	if position != nil {
		body["position"] = *position
	}
	var resp struct {
		Stages []Stage `json:"stages"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "stages"), body, &resp)
	return resp.Stages, err
}

// RecordTime logs hours against a project stage.
func (c *Client) RecordTime(ctx context.Context, projectID, stageID string, hours float64, date, description string) (TimeEntry, error) {
	body := map[string]any{
		"hours": hours,
		"date":  date,
	}
	if stageID != "" {
		body["stage_id"] = stageID
	}
	if description != "" {
		body["description"] = description
	}
	var resp TimeEntry
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "time-entries"), body, &resp)
	return resp, err
}

// Timeline returns the merged activity feed with per-stage hour totals.
func (c *Client) Timeline(ctx context.Context, projectID string) (Timeline, error) {
	var resp Timeline
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "timeline"), nil, &resp)
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	} else {
		if c.ActorID != "" {
			req.Header.Set("X-Actor-Id", c.ActorID)
		}
		if c.OrgID != "" {
			req.Header.Set("X-Org-Id", c.OrgID)
		}
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

func (c *Client) projectPath(projectID, p string) string {
	base := fmt.Sprintf("v1/projects/%s", url.PathEscape(projectID))
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
