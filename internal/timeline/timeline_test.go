package timeline

import (
	"reflect"
	"testing"

	"studioflow/internal/domain"
)

func TestFromEventsSkipsOtherActions(t *testing.T) {
	events := []domain.Event{
		{Action: "project_created", TS: "2024-05-01T09:00:00Z", ActorID: "ana", Payload: `{}`},
		{Action: "stage_changed", TS: "2024-05-01T10:00:00Z", ActorID: "ana", Payload: `{"from_stage":"briefing","to_stage":"levantamento"}`},
		{Action: "time_logged", TS: "2024-05-01T11:00:00Z", ActorID: "ana", Payload: `{}`},
	}
	got := FromEvents(events, map[string]string{"ana": "Ana Souza"})
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	want := domain.TimelineEntry{
		Type:      "stage_change",
		TS:        "2024-05-01T10:00:00Z",
		FromStage: "briefing",
		ToStage:   "levantamento",
		ActorName: "Ana Souza",
	}
	if !reflect.DeepEqual(got[0], want) {
		t.Fatalf("entry = %+v, want %+v", got[0], want)
	}
}

func TestFromEventsToleratesMalformedPayload(t *testing.T) {
	events := []domain.Event{
		{Action: "stage_changed", TS: "2024-05-01T10:00:00Z", ActorID: "ana", Payload: `not json`},
	}
	got := FromEvents(events, nil)
	if len(got) != 1 || got[0].FromStage != "" || got[0].ToStage != "" {
		t.Fatalf("malformed payload dropped or misparsed: %+v", got)
	}
}

func TestFromTimeEntriesKeysOnMidnight(t *testing.T) {
	entries := []domain.TimeEntry{
		{Date: "2024-05-02", StageID: "levantamento", Hours: 3, AuthorID: "bea", Description: "medição"},
	}
	got := FromTimeEntries(entries, map[string]string{"bea": "Beatriz"})
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	e := got[0]
	if e.TS != "2024-05-02T00:00:00Z" || e.Type != "time_entry" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.StageID != "levantamento" || e.Hours != 3 || e.ActorName != "Beatriz" {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestMergeInterleavesChronologically(t *testing.T) {
	changes := []domain.TimelineEntry{
		{Type: "stage_change", TS: "2024-05-01T10:00:00Z"},
		{Type: "stage_change", TS: "2024-05-03T10:00:00Z"},
	}
	logs := []domain.TimelineEntry{
		{Type: "time_entry", TS: "2024-04-30T00:00:00Z"},
		{Type: "time_entry", TS: "2024-05-02T00:00:00Z"},
		{Type: "time_entry", TS: "2024-05-04T00:00:00Z"},
	}
	got := Merge(changes, logs)
	wantTS := []string{
		"2024-04-30T00:00:00Z",
		"2024-05-01T10:00:00Z",
		"2024-05-02T00:00:00Z",
		"2024-05-03T10:00:00Z",
		"2024-05-04T00:00:00Z",
	}
	if len(got) != len(wantTS) {
		t.Fatalf("got %d entries, want %d", len(got), len(wantTS))
	}
	for i, ts := range wantTS {
		if got[i].TS != ts {
			t.Fatalf("entry %d ts = %s, want %s", i, got[i].TS, ts)
		}
	}
}

func TestMergeTieBreakFavorsFirstList(t *testing.T) {
	ts := "2024-05-01T00:00:00Z"
	got := Merge(
		[]domain.TimelineEntry{{Type: "stage_change", TS: ts}},
		[]domain.TimelineEntry{{Type: "time_entry", TS: ts}},
	)
	if got[0].Type != "stage_change" || got[1].Type != "time_entry" {
		t.Fatalf("tie-break wrong: %+v", got)
	}
}

func TestMergeEmptySources(t *testing.T) {
	if got := Merge(nil, nil); len(got) != 0 {
		t.Fatalf("expected empty merge, got %d", len(got))
	}
	one := []domain.TimelineEntry{{Type: "time_entry", TS: "2024-05-01T00:00:00Z"}}
	if got := Merge(nil, one); len(got) != 1 {
		t.Fatalf("one-sided merge lost entries")
	}
	if got := Merge(one, nil); len(got) != 1 {
		t.Fatalf("one-sided merge lost entries")
	}
}

func TestHoursByStage(t *testing.T) {
	entries := []domain.TimeEntry{
		{StageID: "briefing", Hours: 2},
		{StageID: "levantamento", Hours: 3},
		{StageID: "levantamento", Hours: 1.5},
		{StageID: "", Hours: 4},
	}
	got := HoursByStage(entries)
	if got["briefing"] != 2 || got["levantamento"] != 4.5 || got[""] != 4 {
		t.Fatalf("totals = %v", got)
	}
}

func TestActorIDsDeduplicates(t *testing.T) {
	events := []domain.Event{
		{ActorID: "ana"},
		{ActorID: "bea"},
		{ActorID: "ana"},
		{ActorID: ""},
	}
	entries := []domain.TimeEntry{
		{AuthorID: "bea"},
		{AuthorID: "caio"},
	}
	got := ActorIDs(events, entries)
	want := []string{"ana", "bea", "caio"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
}
