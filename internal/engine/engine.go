package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"studioflow/internal/catalog"
	"studioflow/internal/domain"
	"studioflow/internal/events"
	"studioflow/internal/repo"
	"studioflow/internal/timeline"
)

const dateLayout = "2006-01-02"

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Catalog *catalog.Catalog
	Now     func() time.Time
	Logger  *log.Logger
}

func New(db *sql.DB, cat *catalog.Catalog) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Catalog: cat,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID          string
	OrgID       string
	ClientName  string
	ServiceType string
	Modality    string
	Description string
	ActorID     string
}

// CreateProject builds the project's workflow from the stage catalog. This
// is the only place a workflow is constructed; it starts at stage 0 and can
// never be empty because the catalog rejects empty sequences.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.OrgID == "" {
		return domain.Project{}, errors.New("org is required")
	}
	if opts.ClientName == "" {
		return domain.Project{}, errors.New("client name is required")
	}
	stages, err := e.Catalog.StagesFor(opts.ServiceType, opts.Modality)
	if err != nil {
		return domain.Project{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	w := &domain.Workflow{
		ServiceType:       opts.ServiceType,
		Modality:          opts.Modality,
		Stages:            stages,
		CurrentStageIndex: 0,
	}
	p := domain.Project{
		ID:          id,
		OrgID:       opts.OrgID,
		ClientName:  opts.ClientName,
		ServiceType: opts.ServiceType,
		Modality:    opts.Modality,
		Status:      "active",
		Stage:       stages[0].ID,
		Workflow:    w,
		Description: opts.Description,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureOrg(ctx, tx, p.OrgID, p.OrgID, now); err != nil {
		return domain.Project{}, fmt.Errorf("ensure org: %w", err)
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project_created", p.ID, p.OrgID, opts.ActorID, events.Payload{
		"service_type": p.ServiceType,
		"stage":        p.Stage,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// StageMoveResult is the outcome of a successful stage transition.
type StageMoveResult struct {
	NewStageID string `json:"new_stage_id"`
	NewStatus  string `json:"new_status"`
}

// MoveToStage moves the project to targetStageID, forward or backward.
// Reaching the final catalog stage flips status to completed and stamps
// completed_at; the status gate is one-way, so moving back to an earlier
// stage afterwards would fail with ErrInvalidState rather than un-complete
// the project. Preconditions are checked inside the same transaction that
// performs the conditional write.
func (e Engine) MoveToStage(ctx context.Context, orgID, projectID, targetStageID, actorID string) (StageMoveResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return StageMoveResult{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, orgID, projectID)
	if err != nil {
		return StageMoveResult{}, err
	}
	if p.Terminal() {
		return StageMoveResult{}, fmt.Errorf("%w (status %s)", ErrInvalidState, p.Status)
	}
	if p.Workflow == nil {
		return StageMoveResult{}, ErrMissingWorkflow
	}
	idx := p.Workflow.StageIndex(targetStageID)
	if idx < 0 {
		return StageMoveResult{}, fmt.Errorf("%w: %s", ErrInvalidStage, targetStageID)
	}
	oldStage := p.Workflow.CurrentStage().ID
	p.Workflow.CurrentStageIndex = idx
	p.Stage = targetStageID
	if targetStageID == p.Workflow.FinalStage().ID {
		p.Status = "completed"
		completed := e.now().UTC().Format(time.RFC3339)
		p.CompletedAt = &completed
	}
	if err := e.Repo.UpdateProjectWorkflow(ctx, tx, p, p.WorkflowRev); err != nil {
		return StageMoveResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "stage_changed", p.ID, p.OrgID, actorID, events.Payload{
		"from_stage": oldStage,
		"to_stage":   targetStageID,
	}); err != nil {
		return StageMoveResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return StageMoveResult{}, err
	}
	return StageMoveResult{NewStageID: targetStageID, NewStatus: p.Status}, nil
}

// StageInsertOptions are parameters for inserting a custom stage.
type StageInsertOptions struct {
	OrgID     string
	ProjectID string
	Stage     domain.Stage
	// Position is clamped into [0, len(stages)]; nil appends at the end.
	Position *int
	ActorID  string
}

// InsertStage adds a project-specific stage to this project's workflow.
// The shared catalog is never touched. Inserting at or before the current
// stage shifts the pointer so it keeps referencing the same logical stage.
func (e Engine) InsertStage(ctx context.Context, opts StageInsertOptions) ([]domain.Stage, error) {
	if opts.Stage.ID == "" {
		return nil, errors.New("stage id is required")
	}
	if opts.Stage.Name == "" {
		return nil, errors.New("stage name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.OrgID, opts.ProjectID)
	if err != nil {
		return nil, err
	}
	if p.Terminal() {
		return nil, fmt.Errorf("%w (status %s)", ErrInvalidState, p.Status)
	}
	if p.Workflow == nil {
		return nil, ErrMissingWorkflow
	}
	if p.Workflow.HasStage(opts.Stage.ID) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateStage, opts.Stage.ID)
	}
	w := p.Workflow
	pos := len(w.Stages)
	if opts.Position != nil {
		pos = *opts.Position
	}
	pos = w.InsertStageAt(opts.Stage, pos)
	p.Stage = w.CurrentStage().ID
	if err := e.Repo.UpdateProjectWorkflow(ctx, tx, p, p.WorkflowRev); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "stage_inserted", p.ID, p.OrgID, opts.ActorID, events.Payload{
		"stage_id": opts.Stage.ID,
		"position": pos,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return w.Stages, nil
}

// TimeEntryOptions are parameters for recording labor hours.
type TimeEntryOptions struct {
	OrgID       string
	ProjectID   string
	StageID     string
	Hours       float64
	Date        string
	Description string
	AuthorID    string
}

// RecordTime appends an immutable time entry and bumps the project's
// hours_used aggregate in the same transaction, so every successful call
// increases the total by exactly Hours.
func (e Engine) RecordTime(ctx context.Context, opts TimeEntryOptions) (domain.TimeEntry, error) {
	if opts.Hours <= 0 || opts.Hours > 24 {
		return domain.TimeEntry{}, fmt.Errorf("%w: got %v", ErrInvalidHours, opts.Hours)
	}
	entryDate, err := time.Parse(dateLayout, opts.Date)
	if err != nil {
		return domain.TimeEntry{}, fmt.Errorf("invalid date %q: %w", opts.Date, err)
	}
	today, _ := time.Parse(dateLayout, e.now().UTC().Format(dateLayout))
	if entryDate.After(today) {
		return domain.TimeEntry{}, fmt.Errorf("%w: %s", ErrFutureDate, opts.Date)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.OrgID, opts.ProjectID)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	if p.Workflow != nil {
		if opts.StageID != "" && !p.Workflow.HasStage(opts.StageID) {
			return domain.TimeEntry{}, fmt.Errorf("%w: %s", ErrInvalidStage, opts.StageID)
		}
	} else {
		e.logf("project %s has no workflow; recording time without stage check", p.ID)
	}
	te := domain.TimeEntry{
		ID:          uuid.New().String(),
		ProjectID:   p.ID,
		OrgID:       p.OrgID,
		StageID:     opts.StageID,
		Hours:       opts.Hours,
		Date:        opts.Date,
		Description: opts.Description,
		AuthorID:    opts.AuthorID,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertTimeEntry(ctx, tx, te); err != nil {
		return domain.TimeEntry{}, err
	}
	if err := e.Repo.AddProjectHours(ctx, tx, p.OrgID, p.ID, te.Hours); err != nil {
		return domain.TimeEntry{}, err
	}
	if err := e.Events.Append(ctx, tx, "time_logged", p.ID, p.OrgID, opts.AuthorID, events.Payload{
		"stage_id": te.StageID,
		"hours":    te.Hours,
		"date":     te.Date,
	}); err != nil {
		return domain.TimeEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TimeEntry{}, err
	}
	return te, nil
}

// CancelProject marks the project cancelled, after which stage transitions
// and inserts are refused.
func (e Engine) CancelProject(ctx context.Context, orgID, projectID, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, orgID, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Terminal() {
		return domain.Project{}, fmt.Errorf("%w (status %s)", ErrInvalidState, p.Status)
	}
	if err := e.Repo.UpdateProjectStatus(ctx, tx, orgID, projectID, "cancelled"); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project_cancelled", p.ID, p.OrgID, actorID, events.Payload{
		"previous_status": p.Status,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	p.Status = "cancelled"
	return p, nil
}

// EnsureMember upserts an org member used for actor display names.
func (e Engine) EnsureMember(ctx context.Context, m domain.Member) error {
	if m.ID == "" || m.OrgID == "" || m.Name == "" {
		return errors.New("member id, org and name are required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.EnsureOrg(ctx, tx, m.OrgID, m.OrgID, now); err != nil {
		return err
	}
	m.CreatedAt = now
	if err := e.Repo.UpsertMember(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

// TimelineResult is the merged feed plus per-stage hour totals.
type TimelineResult struct {
	Entries      []domain.TimelineEntry `json:"entries"`
	HoursByStage map[string]float64     `json:"hours_by_stage"`
}

// Timeline reconstructs the activity feed from the change log and the
// time-entry ledger. Read-only; empty sources yield an empty result.
func (e Engine) Timeline(ctx context.Context, orgID, projectID string) (TimelineResult, error) {
	if _, err := e.Repo.GetProject(ctx, orgID, projectID); err != nil {
		return TimelineResult{}, err
	}
	changes, err := e.Repo.StageChangeEvents(ctx, orgID, projectID)
	if err != nil {
		return TimelineResult{}, err
	}
	entries, err := e.Repo.ListTimeEntries(ctx, orgID, projectID)
	if err != nil {
		return TimelineResult{}, err
	}
	names, err := e.Repo.MemberNames(ctx, orgID, timeline.ActorIDs(changes, entries))
	if err != nil {
		return TimelineResult{}, err
	}
	merged := timeline.Merge(timeline.FromEvents(changes, names), timeline.FromTimeEntries(entries, names))
	return TimelineResult{
		Entries:      merged,
		HoursByStage: timeline.HoursByStage(entries),
	}, nil
}
