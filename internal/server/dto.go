package server

import (
	"studioflow/internal/domain"
	"studioflow/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID          *string `json:"id,omitempty"`
	ClientName  string  `json:"client_name"`
	ServiceType string  `json:"service_type" enum:"projetexpress,projeto_completo,consultoria"`
	Modality    *string `json:"modality,omitempty" enum:"residencial,comercial"`
	Description *string `json:"description,omitempty"`
}

type MoveStageRequest struct {
	StageID string `json:"stage_id"`
}

type InsertStageRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ColorTag    string  `json:"color_tag,omitempty" enum:"gray,blue,cyan,green,yellow,orange,red,purple"`
	Description *string `json:"description,omitempty"`
	Position    *int    `json:"position,omitempty"`
}

type CreateTimeEntryRequest struct {
	StageID     *string `json:"stage_id,omitempty"`
	Hours       float64 `json:"hours"`
	Date        string  `json:"date" format:"date"`
	Description *string `json:"description,omitempty"`
}

type UpsertMemberRequest struct {
	Name string `json:"name"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	OrgID   string `json:"org_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID          string           `json:"id"`
	ClientName  string           `json:"client_name"`
	ServiceType string           `json:"service_type" enum:"projetexpress,projeto_completo,consultoria"`
	Modality    string           `json:"modality,omitempty" enum:"residencial,comercial"`
	Status      string           `json:"status" enum:"active,completed,cancelled"`
	Stage       string           `json:"stage,omitempty"`
	Workflow    *domain.Workflow `json:"workflow,omitempty"`
	HoursUsed   float64          `json:"hours_used"`
	Description string           `json:"description,omitempty"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
	CompletedAt *string          `json:"completed_at,omitempty" format:"date-time"`
}

type StageMoveResponse struct {
	NewStageID string `json:"new_stage_id"`
	NewStatus  string `json:"new_status" enum:"active,completed,cancelled"`
}

type StagesResponse struct {
	Stages            []domain.Stage `json:"stages"`
	CurrentStageIndex int            `json:"current_stage_index"`
}

type TimeEntryResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	StageID     string  `json:"stage_id,omitempty"`
	Hours       float64 `json:"hours"`
	Date        string  `json:"date" format:"date"`
	Description string  `json:"description,omitempty"`
	AuthorID    string  `json:"author_id"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type TimelineResponse struct {
	Entries      []domain.TimelineEntry `json:"entries"`
	HoursByStage map[string]float64     `json:"hours_by_stage"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		ClientName:  p.ClientName,
		ServiceType: p.ServiceType,
		Modality:    p.Modality,
		Status:      p.Status,
		Stage:       p.Stage,
		Workflow:    p.Workflow,
		HoursUsed:   p.HoursUsed,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		CompletedAt: p.CompletedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func timeEntryResponse(te domain.TimeEntry) TimeEntryResponse {
	return TimeEntryResponse{
		ID:          te.ID,
		ProjectID:   te.ProjectID,
		StageID:     te.StageID,
		Hours:       te.Hours,
		Date:        te.Date,
		Description: te.Description,
		AuthorID:    te.AuthorID,
		CreatedAt:   te.CreatedAt,
	}
}

func mapTimeEntries(items []domain.TimeEntry) []TimeEntryResponse {
	res := make([]TimeEntryResponse, 0, len(items))
	for _, te := range items {
		res = append(res, timeEntryResponse(te))
	}
	return res
}

func timelineResponse(t engine.TimelineResult) TimelineResponse {
	entries := t.Entries
	if entries == nil {
		entries = []domain.TimelineEntry{}
	}
	totals := t.HoursByStage
	if totals == nil {
		totals = map[string]float64{}
	}
	return TimelineResponse{Entries: entries, HoursByStage: totals}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
