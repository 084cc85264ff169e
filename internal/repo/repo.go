package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"studioflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional workflow update loses the
// race against a concurrent writer. Callers may retry with fresh state.
var ErrConflict = errors.New("workflow modified concurrently")

const projectColumns = `id,org_id,client_name,service_type,COALESCE(modality,''),status,COALESCE(stage,''),workflow_json,workflow_rev,hours_used,COALESCE(description,''),created_at,completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var workflowJSON, completedAt sql.NullString
	err := row.Scan(&p.ID, &p.OrgID, &p.ClientName, &p.ServiceType, &p.Modality, &p.Status, &p.Stage,
		&workflowJSON, &p.WorkflowRev, &p.HoursUsed, &p.Description, &p.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.String
	}
	if workflowJSON.Valid && workflowJSON.String != "" {
		var w domain.Workflow
		if err := json.Unmarshal([]byte(workflowJSON.String), &w); err != nil {
			return p, fmt.Errorf("project %s workflow: %w", p.ID, err)
		}
		// The column can be written by external tooling; never trust it.
		if err := w.Validate(); err != nil {
			return p, fmt.Errorf("project %s workflow: %w", p.ID, err)
		}
		p.Workflow = &w
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	workflowJSON, err := marshalWorkflow(p.Workflow)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO projects(id,org_id,client_name,service_type,modality,status,stage,workflow_json,workflow_rev,hours_used,description,created_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.ClientName, p.ServiceType, nullable(p.Modality), p.Status, nullable(p.Stage),
		workflowJSON, p.WorkflowRev, p.HoursUsed, nullable(p.Description), p.CreatedAt, nullableStringPtr(p.CompletedAt))
	return err
}

// GetProject is org-scoped: a project in another org is indistinguishable
// from one that does not exist.
func (r Repo) GetProject(ctx context.Context, orgID, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=? AND org_id=?`, id, orgID))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=? AND org_id=?`, id, orgID))
}

type ProjectFilters struct {
	Status          string
	ServiceType     string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListProjects(ctx context.Context, orgID string, f ProjectFilters) ([]domain.Project, error) {
	clauses := []string{"org_id=?"}
	args := []any{orgID}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ServiceType != "" {
		clauses = append(clauses, "service_type=?")
		args = append(args, f.ServiceType)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + projectColumns + ` FROM projects WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProjectWorkflow writes the workflow, stage mirror and status under a
// compare-and-swap on workflow_rev. A zero-row update means another writer
// got there first and the caller's preconditions are stale.
func (r Repo) UpdateProjectWorkflow(ctx context.Context, tx *sql.Tx, p domain.Project, expectedRev int64) error {
	workflowJSON, err := marshalWorkflow(p.Workflow)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE projects SET workflow_json=?, stage=?, status=?, completed_at=?, workflow_rev=? WHERE id=? AND org_id=? AND workflow_rev=?`,
		workflowJSON, nullable(p.Stage), p.Status, nullableStringPtr(p.CompletedAt), expectedRev+1, p.ID, p.OrgID, expectedRev)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) UpdateProjectStatus(ctx context.Context, tx *sql.Tx, orgID, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=? WHERE id=? AND org_id=?`, status, id, orgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddProjectHours maintains the derived hours_used aggregate. It runs in
// the same transaction as the time-entry insert so the two never diverge.
func (r Repo) AddProjectHours(ctx context.Context, tx *sql.Tx, orgID, id string, hours float64) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET hours_used = hours_used + ? WHERE id=? AND org_id=?`, hours, id, orgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertTimeEntry(ctx context.Context, tx *sql.Tx, te domain.TimeEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO time_entries(id,project_id,org_id,stage_id,hours,date,description,author_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		te.ID, te.ProjectID, te.OrgID, nullable(te.StageID), te.Hours, te.Date, nullable(te.Description), te.AuthorID, te.CreatedAt)
	return err
}

// ListTimeEntries returns the ledger ordered ascending by work date; the
// insert sequence breaks ties so the order is stable.
func (r Repo) ListTimeEntries(ctx context.Context, orgID, projectID string) ([]domain.TimeEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,org_id,COALESCE(stage_id,''),hours,date,COALESCE(description,''),author_id,created_at
FROM time_entries WHERE project_id=? AND org_id=? ORDER BY date ASC, created_at ASC, id ASC`, projectID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimeEntry
	for rows.Next() {
		var te domain.TimeEntry
		if err := rows.Scan(&te.ID, &te.ProjectID, &te.OrgID, &te.StageID, &te.Hours, &te.Date, &te.Description, &te.AuthorID, &te.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, te)
	}
	return res, rows.Err()
}

// StageChangeEvents returns stage_changed log rows ascending by timestamp.
func (r Repo) StageChangeEvents(ctx context.Context, orgID, projectID string) ([]domain.Event, error) {
	return r.listEvents(ctx, `WHERE project_id=? AND org_id=? AND action='stage_changed' ORDER BY ts ASC, id ASC`, projectID, orgID)
}

// LatestEvents returns the newest rows first, for the audit log surface.
func (r Repo) LatestEvents(ctx context.Context, orgID, projectID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.listEvents(ctx, `WHERE project_id=? AND org_id=? ORDER BY id DESC LIMIT ?`, projectID, orgID, limit)
}

func (r Repo) listEvents(ctx context.Context, tail string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,action,project_id,org_id,actor_id,payload_json FROM events `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Action, &e.ProjectID, &e.OrgID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, id, name, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO orgs(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`, id, name, now)
	return err
}

func (r Repo) UpsertMember(ctx context.Context, tx *sql.Tx, m domain.Member) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO members(id,org_id,name,created_at) VALUES (?,?,?,?)
ON CONFLICT(org_id,id) DO UPDATE SET name=excluded.name`, m.ID, m.OrgID, m.Name, m.CreatedAt)
	return err
}

// SQLite caps bound variables (999 by default); IN lists are chunked to
// stay under it.
const memberNamesBatchSize = 500

// MemberNames resolves display names for a batch of actor ids. Unknown ids
// are simply absent from the result.
func (r Repo) MemberNames(ctx context.Context, orgID string, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	for start := 0; start < len(ids); start += memberNamesBatchSize {
		end := start + memberNamesBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := r.memberNamesChunk(ctx, orgID, ids[start:end], names); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func (r Repo) memberNamesChunk(ctx context.Context, orgID string, ids []string, names map[string]string) error {
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+1)
	args = append(args, orgID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM members WHERE org_id=? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		names[id] = name
	}
	return rows.Err()
}

func marshalWorkflow(w *domain.Workflow) (any, error) {
	if w == nil {
		return nil, nil
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
