package domain

import (
	"errors"
	"fmt"
)

type Project struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	ClientName  string    `json:"client_name"`
	ServiceType string    `json:"service_type" enum:"projetexpress,projeto_completo,consultoria"`
	Modality    string    `json:"modality,omitempty" enum:"residencial,comercial"`
	Status      string    `json:"status" enum:"active,completed,cancelled"`
	Stage       string    `json:"stage,omitempty"`
	Workflow    *Workflow `json:"workflow,omitempty"`
	WorkflowRev int64     `json:"workflow_rev"`
	HoursUsed   float64   `json:"hours_used"`
	Description string    `json:"description,omitempty"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
	CompletedAt *string   `json:"completed_at,omitempty" format:"date-time"`
}

// Terminal reports whether the project can no longer change stage.
func (p Project) Terminal() bool {
	return p.Status == "completed" || p.Status == "cancelled"
}

type Stage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ColorTag    string `json:"color_tag" enum:"gray,blue,cyan,green,yellow,orange,red,purple"`
	Description string `json:"description,omitempty"`
}

// Workflow is the per-project stage state. It is owned by exactly one
// project, created from the stage catalog at project creation, and stored
// as a JSON column; Validate runs on every load, not just on write.
type Workflow struct {
	ServiceType       string  `json:"service_type"`
	Modality          string  `json:"modality,omitempty"`
	Stages            []Stage `json:"stages"`
	CurrentStageIndex int     `json:"current_stage_index"`
}

func (w Workflow) Validate() error {
	if len(w.Stages) == 0 {
		return errors.New("workflow has no stages")
	}
	if w.CurrentStageIndex < 0 || w.CurrentStageIndex >= len(w.Stages) {
		return fmt.Errorf("current stage index %d out of range [0,%d)", w.CurrentStageIndex, len(w.Stages))
	}
	seen := make(map[string]bool, len(w.Stages))
	for _, s := range w.Stages {
		if s.ID == "" {
			return errors.New("workflow stage with empty id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate stage id %s", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// StageIndex returns the position of stageID, or -1 when absent.
func (w Workflow) StageIndex(stageID string) int {
	for i, s := range w.Stages {
		if s.ID == stageID {
			return i
		}
	}
	return -1
}

func (w Workflow) HasStage(stageID string) bool {
	return w.StageIndex(stageID) >= 0
}

func (w Workflow) CurrentStage() Stage {
	return w.Stages[w.CurrentStageIndex]
}

func (w Workflow) FinalStage() Stage {
	return w.Stages[len(w.Stages)-1]
}

// InsertStageAt inserts s at pos (clamped into [0, len(stages)]) and returns
// the effective position. Inserting at or before the current stage shifts
// the pointer forward one slot so it keeps referencing the same logical
// stage. Callers must reject duplicate ids first.
func (w *Workflow) InsertStageAt(s Stage, pos int) int {
	if pos < 0 {
		pos = 0
	}
	if pos > len(w.Stages) {
		pos = len(w.Stages)
	}
	stages := make([]Stage, 0, len(w.Stages)+1)
	stages = append(stages, w.Stages[:pos]...)
	stages = append(stages, s)
	stages = append(stages, w.Stages[pos:]...)
	w.Stages = stages
	if pos <= w.CurrentStageIndex {
		w.CurrentStageIndex++
	}
	return pos
}

type TimeEntry struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	OrgID       string  `json:"org_id"`
	StageID     string  `json:"stage_id,omitempty"`
	Hours       float64 `json:"hours"`
	Date        string  `json:"date" format:"date"`
	Description string  `json:"description,omitempty"`
	AuthorID    string  `json:"author_id"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// Event is an append-only activity log row. The timeline only consumes
// rows with Action == "stage_changed"; the rest exist for audit.
type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Action    string `json:"action"`
	ProjectID string `json:"project_id"`
	OrgID     string `json:"org_id"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

type Member struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TimelineEntry is one row of the merged activity feed. Type selects which
// of the optional fields are meaningful.
type TimelineEntry struct {
	Type        string  `json:"type" enum:"stage_change,time_entry"`
	TS          string  `json:"ts" format:"date-time"`
	FromStage   string  `json:"from_stage,omitempty"`
	ToStage     string  `json:"to_stage,omitempty"`
	StageID     string  `json:"stage_id,omitempty"`
	Hours       float64 `json:"hours,omitempty"`
	Description string  `json:"description,omitempty"`
	ActorName   string  `json:"actor_name,omitempty"`
}
