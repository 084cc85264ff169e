// Package timeline merges the two independent per-project histories (the
// stage-change activity log and the time-entry ledger) into one
// chronological feed. Everything here is pure: callers fetch and pre-sort
// the inputs, this package only maps, merges and aggregates.
package timeline

import (
	"encoding/json"

	"studioflow/internal/domain"
)

type stageChangePayload struct {
	FromStage string `json:"from_stage"`
	ToStage   string `json:"to_stage"`
}

// FromEvents maps stage_changed log rows to timeline entries. Rows with any
// other action are skipped so callers may pass an unfiltered slice. Input
// order (ascending ts) is preserved.
func FromEvents(events []domain.Event, names map[string]string) []domain.TimelineEntry {
	var out []domain.TimelineEntry
	for _, ev := range events {
		if ev.Action != "stage_changed" {
			continue
		}
		var p stageChangePayload
		// A malformed payload still yields an entry; the feed must not
		// drop audit rows.
		_ = json.Unmarshal([]byte(ev.Payload), &p)
		out = append(out, domain.TimelineEntry{
			Type:      "stage_change",
			TS:        ev.TS,
			FromStage: p.FromStage,
			ToStage:   p.ToStage,
			ActorName: names[ev.ActorID],
		})
	}
	return out
}

// FromTimeEntries maps ledger rows to timeline entries, keyed on the work
// date at midnight UTC so they interleave with RFC3339 event timestamps.
func FromTimeEntries(entries []domain.TimeEntry, names map[string]string) []domain.TimelineEntry {
	var out []domain.TimelineEntry
	for _, te := range entries {
		out = append(out, domain.TimelineEntry{
			Type:        "time_entry",
			TS:          te.Date + "T00:00:00Z",
			StageID:     te.StageID,
			Hours:       te.Hours,
			Description: te.Description,
			ActorName:   names[te.AuthorID],
		})
	}
	return out
}

// Merge combines two already-sorted entry lists into one ascending feed.
// On equal timestamps entries from a win; callers pass stage changes as
// the first list so the tie-break is deterministic.
func Merge(a, b []domain.TimelineEntry) []domain.TimelineEntry {
	out := make([]domain.TimelineEntry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		// RFC3339 UTC strings compare chronologically as strings.
		if a[i].TS <= b[j].TS {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// HoursByStage sums logged hours grouped by stage id. Stage changes carry
// no hours, so only the ledger participates.
func HoursByStage(entries []domain.TimeEntry) map[string]float64 {
	totals := make(map[string]float64)
	for _, te := range entries {
		totals[te.StageID] += te.Hours
	}
	return totals
}

// ActorIDs collects the distinct actor ids referenced by both sources, for
// one batched display-name lookup.
func ActorIDs(events []domain.Event, entries []domain.TimeEntry) []string {
	seen := map[string]bool{}
	var ids []string
	for _, ev := range events {
		if ev.ActorID != "" && !seen[ev.ActorID] {
			seen[ev.ActorID] = true
			ids = append(ids, ev.ActorID)
		}
	}
	for _, te := range entries {
		if te.AuthorID != "" && !seen[te.AuthorID] {
			seen[te.AuthorID] = true
			ids = append(ids, te.AuthorID)
		}
	}
	return ids
}
