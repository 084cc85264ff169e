package engine_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"studioflow/internal/catalog"
	"studioflow/internal/db"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/migrate"
	"studioflow/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, catalog.Default())
	eng.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustCreate(t *testing.T, env testEnv, serviceType, modality string) string {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		OrgID:       "studio-1",
		ClientName:  "Casa Alves",
		ServiceType: serviceType,
		Modality:    modality,
		ActorID:     "ana",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p.ID
}

func domainStage(id, name string) domain.Stage {
	return domain.Stage{ID: id, Name: name, ColorTag: "gray"}
}

func memberAna() domain.Member {
	return domain.Member{ID: "ana", OrgID: "studio-1", Name: "Ana Souza"}
}

func TestCreateProjectStartsAtFirstStage(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		OrgID:       "studio-1",
		ClientName:  "Casa Alves",
		ServiceType: "projetexpress",
		ActorID:     "ana",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if p.Status != "active" {
		t.Fatalf("status = %s, want active", p.Status)
	}
	if p.Stage != "briefing" || p.Workflow.CurrentStageIndex != 0 {
		t.Fatalf("stage = %s idx = %d, want briefing/0", p.Stage, p.Workflow.CurrentStageIndex)
	}
	if len(p.Workflow.Stages) != 9 {
		t.Fatalf("projetexpress has %d stages, want 9", len(p.Workflow.Stages))
	}
	got, err := env.Engine.Repo.GetProject(env.Ctx, "studio-1", p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Workflow == nil || got.Workflow.CurrentStageIndex != 0 {
		t.Fatalf("persisted workflow missing or wrong index")
	}
}

func TestCreateProjectUnknownServiceType(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		OrgID:       "studio-1",
		ClientName:  "Casa Alves",
		ServiceType: "paisagismo",
		ActorID:     "ana",
	})
	if !errors.Is(err, catalog.ErrUnknownService) {
		t.Fatalf("err = %v, want ErrUnknownService", err)
	}
	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		OrgID:       "studio-1",
		ClientName:  "Loja Sol",
		ServiceType: "projeto_completo",
		Modality:    "industrial",
		ActorID:     "ana",
	})
	if !errors.Is(err, catalog.ErrUnknownService) {
		t.Fatalf("unknown modality err = %v, want ErrUnknownService", err)
	}
}

func TestMoveToStageForwardAndBack(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "projetexpress", "")
	res, err := env.Engine.MoveToStage(env.Ctx, "studio-1", id, "estudo_preliminar", "ana")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.NewStageID != "estudo_preliminar" || res.NewStatus != "active" {
		t.Fatalf("unexpected result %+v", res)
	}
	// backward moves are allowed and do not change status
	res, err = env.Engine.MoveToStage(env.Ctx, "studio-1", id, "briefing", "ana")
	if err != nil || res.NewStatus != "active" {
		t.Fatalf("move back: %v %+v", err, res)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, "studio-1", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Workflow.CurrentStageIndex != 0 || p.Stage != "briefing" {
		t.Fatalf("index = %d stage = %s, want 0/briefing", p.Workflow.CurrentStageIndex, p.Stage)
	}
}

func TestMoveToFinalStageCompletesProject(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "projetexpress", "")
	if _, err := env.Engine.MoveToStage(env.Ctx, "studio-1", id, "detalhamento", "ana"); err != nil {
		t.Fatalf("move to detalhamento: %v", err)
	}
	res, err := env.Engine.MoveToStage(env.Ctx, "studio-1", id, "entrega", "ana")
	if err != nil {
		t.Fatalf("move to entrega: %v", err)
	}
	if res.NewStatus != "completed" {
		t.Fatalf("status = %s, want completed", res.NewStatus)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, "studio-1", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Workflow.CurrentStageIndex != 8 {
		t.Fatalf("index = %d, want 8", p.Workflow.CurrentStageIndex)
	}
	if p.CompletedAt == nil || *p.CompletedAt == "" {
		t.Fatalf("completed_at not stamped")
	}
	// completion is one-way: no further transitions
	_, err = env.Engine.MoveToStage(env.Ctx, "studio-1", id, "briefing", "ana")
	if !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, "studio-1", id)
	if got.Status != "completed" {
		t.Fatalf("status regressed to %s", got.Status)
	}
}

func TestMoveToUnknownStage(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "consultoria", "")
	_, err := env.Engine.MoveToStage(env.Ctx, "studio-1", id, "detalhamento", "ana")
	if !errors.Is(err, engine.ErrInvalidStage) {
		t.Fatalf("err = %v, want ErrInvalidStage", err)
	}
}

func TestMoveToCurrentStageIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "projetexpress", "")
	if _, err := env.Engine.MoveToStage(env.Ctx, "studio-1", id, "levantamento", "ana"); err != nil {
		t.Fatalf("move: %v", err)
	}
	res, err := env.Engine.MoveToStage(env.Ctx, "studio-1", id, "levantamento", "ana")
	if err != nil {
		t.Fatalf("repeat move: %v", err)
	}
	if res.NewStageID != "levantamento" || res.NewStatus != "active" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestInsertStageShiftsPointer(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "projetexpress", "")
	if _, err := env.Engine.MoveToStage(env.Ctx, "studio-1", id, "estudo_preliminar", "ana"); err != nil {
		t.Fatalf("move: %v", err)
	}
	pos := 0
	stages, err := env.Engine.InsertStage(env.Ctx, engine.StageInsertOptions{
		OrgID:     "studio-1",
		ProjectID: id,
		Stage:     domainStage("contrato", "Contrato"),
		Position:  &pos,
		ActorID:   "ana",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stages[0].ID != "contrato" || len(stages) != 10 {
		t.Fatalf("unexpected stage list %+v", stages)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, "studio-1", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// was at index 2; insert before it bumps the pointer, same logical stage
	if p.Workflow.CurrentStageIndex != 3 {
		t.Fatalf("index = %d, want 3", p.Workflow.CurrentStageIndex)
	}
	if p.Workflow.CurrentStage().ID != "estudo_preliminar" || p.Stage != "estudo_preliminar" {
		t.Fatalf("current stage changed to %s", p.Workflow.CurrentStage().ID)
	}
}

func TestInsertStageAfterCurrentKeepsPointer(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "consultoria", "")
	if _, err := env.Engine.MoveToStage(env.Ctx, "studio-1", id, "visita_tecnica", "ana"); err != nil {
		t.Fatalf("move: %v", err)
	}
	// nil position appends at the end
	stages, err := env.Engine.InsertStage(env.Ctx, engine.StageInsertOptions{
		OrgID:     "studio-1",
		ProjectID: id,
		Stage:     domainStage("followup", "Follow-up"),
		ActorID:   "ana",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stages[len(stages)-1].ID != "followup" {
		t.Fatalf("expected followup appended, got %+v", stages)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "studio-1", id)
	if p.Workflow.CurrentStageIndex != 1 {
		t.Fatalf("index = %d, want 1", p.Workflow.CurrentStageIndex)
	}
	// the appended stage is now final; reaching it completes the project
	res, err := env.Engine.MoveToStage(env.Ctx, "studio-1", id, "followup", "ana")
	if err != nil || res.NewStatus != "completed" {
		t.Fatalf("move to new final: %v %+v", err, res)
	}
}

func TestInsertDuplicateStage(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "consultoria", "")
	_, err := env.Engine.InsertStage(env.Ctx, engine.StageInsertOptions{
		OrgID:     "studio-1",
		ProjectID: id,
		Stage:     domainStage("relatorio", "Relatório"),
		ActorID:   "ana",
	})
	if !errors.Is(err, engine.ErrDuplicateStage) {
		t.Fatalf("err = %v, want ErrDuplicateStage", err)
	}
}

func TestInsertStagePositionClamped(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "consultoria", "")
	pos := 99
	stages, err := env.Engine.InsertStage(env.Ctx, engine.StageInsertOptions{
		OrgID:     "studio-1",
		ProjectID: id,
		Stage:     domainStage("extra", "Extra"),
		Position:  &pos,
		ActorID:   "ana",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stages[len(stages)-1].ID != "extra" {
		t.Fatalf("expected clamp to append, got %+v", stages)
	}
}

func TestRecordTimeUpdatesAggregate(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "projetexpress", "")
	hours := []float64{2, 3.5, 1.25}
	for _, h := range hours {
		_, err := env.Engine.RecordTime(env.Ctx, engine.TimeEntryOptions{
			OrgID:     "studio-1",
			ProjectID: id,
			StageID:   "levantamento",
			Hours:     h,
			Date:      "2024-05-10",
			AuthorID:  "ana",
		})
		if err != nil {
			t.Fatalf("record %v: %v", h, err)
		}
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, "studio-1", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.HoursUsed != 6.75 {
		t.Fatalf("hours_used = %v, want 6.75", p.HoursUsed)
	}
	entries, err := env.Engine.Repo.ListTimeEntries(env.Ctx, "studio-1", id)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
}

func TestRecordTimeValidation(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "projetexpress", "")
	cases := []struct {
		name string
		opts engine.TimeEntryOptions
		want error
	}{
		{"zero hours", engine.TimeEntryOptions{Hours: 0, Date: "2024-05-10"}, engine.ErrInvalidHours},
		{"negative hours", engine.TimeEntryOptions{Hours: -1, Date: "2024-05-10"}, engine.ErrInvalidHours},
		{"over a day", engine.TimeEntryOptions{Hours: 26, StageID: "levantamento", Date: "2024-05-10"}, engine.ErrInvalidHours},
		{"future date", engine.TimeEntryOptions{Hours: 2, Date: "2024-06-02"}, engine.ErrFutureDate},
		{"unknown stage", engine.TimeEntryOptions{Hours: 2, StageID: "obra", Date: "2024-05-10"}, engine.ErrInvalidStage},
	}
	for _, tc := range cases {
		tc.opts.OrgID = "studio-1"
		tc.opts.ProjectID = id
		tc.opts.AuthorID = "ana"
		_, err := env.Engine.RecordTime(env.Ctx, tc.opts)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
	// failed validations leave the aggregate untouched
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "studio-1", id)
	if p.HoursUsed != 0 {
		t.Fatalf("hours_used = %v after rejected entries", p.HoursUsed)
	}
	entries, _ := env.Engine.Repo.ListTimeEntries(env.Ctx, "studio-1", id)
	if len(entries) != 0 {
		t.Fatalf("rejected entries were persisted: %d", len(entries))
	}
}

func TestRecordTimeOnSameDayBoundary(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "consultoria", "")
	// today (per the fixed clock) is not a future date
	_, err := env.Engine.RecordTime(env.Ctx, engine.TimeEntryOptions{
		OrgID:     "studio-1",
		ProjectID: id,
		Hours:     24,
		Date:      "2024-06-01",
		AuthorID:  "ana",
	})
	if err != nil {
		t.Fatalf("record on today: %v", err)
	}
}

func TestMissingWorkflowBlocksStageOperations(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "projetexpress", "")
	// the column is NULLable and reachable by external tooling
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE projects SET workflow_json=NULL, stage=NULL WHERE id=?`, id); err != nil {
		t.Fatalf("clear workflow: %v", err)
	}
	if _, err := env.Engine.MoveToStage(env.Ctx, "studio-1", id, "levantamento", "ana"); !errors.Is(err, engine.ErrMissingWorkflow) {
		t.Fatalf("move without workflow: %v, want ErrMissingWorkflow", err)
	}
	if _, err := env.Engine.InsertStage(env.Ctx, engine.StageInsertOptions{
		OrgID: "studio-1", ProjectID: id, Stage: domainStage("extra", "Extra"), ActorID: "ana",
	}); !errors.Is(err, engine.ErrMissingWorkflow) {
		t.Fatalf("insert without workflow: %v, want ErrMissingWorkflow", err)
	}
}

func TestRecordTimeWithoutWorkflowSkipsStageCheck(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Logger = log.New(io.Discard, "", 0)
	id := mustCreate(t, env, "projetexpress", "")
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE projects SET workflow_json=NULL, stage=NULL WHERE id=?`, id); err != nil {
		t.Fatalf("clear workflow: %v", err)
	}
	// billing must not block on a broken workflow; the stage check is skipped
	te, err := env.Engine.RecordTime(env.Ctx, engine.TimeEntryOptions{
		OrgID:     "studio-1",
		ProjectID: id,
		StageID:   "obra",
		Hours:     2,
		Date:      "2024-05-10",
		AuthorID:  "ana",
	})
	if err != nil {
		t.Fatalf("record without workflow: %v", err)
	}
	if te.StageID != "obra" {
		t.Fatalf("stage id dropped: %+v", te)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, "studio-1", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.HoursUsed != 2 {
		t.Fatalf("hours_used = %v, want 2", p.HoursUsed)
	}
}

func TestCancelProjectBlocksTransitions(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "projetexpress", "")
	p, err := env.Engine.CancelProject(env.Ctx, "studio-1", id, "ana")
	if err != nil || p.Status != "cancelled" {
		t.Fatalf("cancel: %v %+v", err, p)
	}
	if _, err := env.Engine.MoveToStage(env.Ctx, "studio-1", id, "levantamento", "ana"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("move after cancel: %v", err)
	}
	if _, err := env.Engine.InsertStage(env.Ctx, engine.StageInsertOptions{
		OrgID: "studio-1", ProjectID: id, Stage: domainStage("extra", "Extra"), ActorID: "ana",
	}); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("insert after cancel: %v", err)
	}
	if _, err := env.Engine.CancelProject(env.Ctx, "studio-1", id, "ana"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("double cancel: %v", err)
	}
}

func TestTenantScoping(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "projetexpress", "")
	if _, err := env.Engine.Repo.GetProject(env.Ctx, "other-studio", id); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("cross-org get: %v, want ErrNotFound", err)
	}
	if _, err := env.Engine.MoveToStage(env.Ctx, "other-studio", id, "levantamento", "ana"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("cross-org move: %v, want ErrNotFound", err)
	}
	if _, err := env.Engine.Timeline(env.Ctx, "other-studio", id); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("cross-org timeline: %v, want ErrNotFound", err)
	}
}

func TestTimelineMergesBothSources(t *testing.T) {
	env := newTestEnv(t)
	tick := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	env.Engine.Now = func() time.Time {
		tick = tick.Add(time.Hour)
		return tick
	}
	id := mustCreate(t, env, "projetexpress", "")
	if err := env.Engine.EnsureMember(env.Ctx, memberAna()); err != nil {
		t.Fatalf("member: %v", err)
	}
	if _, err := env.Engine.MoveToStage(env.Ctx, "studio-1", id, "levantamento", "ana"); err != nil {
		t.Fatalf("move: %v", err)
	}
	for _, e := range []struct {
		stage string
		hours float64
		date  string
	}{
		{"briefing", 2, "2024-04-20"},
		{"levantamento", 3, "2024-04-22"},
		{"levantamento", 1.5, "2024-04-22"},
	} {
		if _, err := env.Engine.RecordTime(env.Ctx, engine.TimeEntryOptions{
			OrgID: "studio-1", ProjectID: id, StageID: e.stage, Hours: e.hours, Date: e.date, AuthorID: "ana",
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	res, err := env.Engine.Timeline(env.Ctx, "studio-1", id)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	// 1 stage change + 3 time entries
	if len(res.Entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(res.Entries))
	}
	for i := 1; i < len(res.Entries); i++ {
		if res.Entries[i-1].TS > res.Entries[i].TS {
			t.Fatalf("timeline out of order at %d: %s > %s", i, res.Entries[i-1].TS, res.Entries[i].TS)
		}
	}
	var changes, logs int
	for _, e := range res.Entries {
		switch e.Type {
		case "stage_change":
			changes++
			if e.FromStage != "briefing" || e.ToStage != "levantamento" {
				t.Fatalf("unexpected change %+v", e)
			}
		case "time_entry":
			logs++
		}
		if e.ActorName != "Ana Souza" {
			t.Fatalf("actor name = %q, want Ana Souza", e.ActorName)
		}
	}
	if changes != 1 || logs != 3 {
		t.Fatalf("changes=%d logs=%d", changes, logs)
	}
	if res.HoursByStage["briefing"] != 2 || res.HoursByStage["levantamento"] != 4.5 {
		t.Fatalf("hours by stage = %v", res.HoursByStage)
	}
}

func TestTimelineEmptyProject(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "consultoria", "")
	res, err := env.Engine.Timeline(env.Ctx, "studio-1", id)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(res.Entries) != 0 {
		t.Fatalf("expected empty timeline, got %d entries", len(res.Entries))
	}
}

func TestWorkflowRevisionBumps(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, "projetexpress", "")
	before, _ := env.Engine.Repo.GetProject(env.Ctx, "studio-1", id)
	if _, err := env.Engine.MoveToStage(env.Ctx, "studio-1", id, "levantamento", "ana"); err != nil {
		t.Fatalf("move: %v", err)
	}
	after, _ := env.Engine.Repo.GetProject(env.Ctx, "studio-1", id)
	if after.WorkflowRev != before.WorkflowRev+1 {
		t.Fatalf("rev %d -> %d, want +1", before.WorkflowRev, after.WorkflowRev)
	}
}
