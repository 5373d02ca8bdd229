package ingest

import (
	"time"

	"github.com/sana-health/procsync/internal/dedup"
)

// State is the state of a sync pass.
type State string

const (
	StateIdle            State = "idle"
	StateFetchingCatalog State = "fetching_catalog"
	StatePerItem         State = "per_item"
	StateCompletedAll    State = "completed_all"
	StateAborted         State = "aborted"
)

// Stage is a step of the per-item pipeline.
type Stage string

const (
	StageFetching     Stage = "fetching"
	StageTransforming Stage = "transforming"
	StageParsing      Stage = "parsing"
	StageResolving    Stage = "resolving"
	StageWriting      Stage = "writing"
	StageDone         Stage = "done"
)

// Item is a successfully imported procedure.
type Item struct {
	ID     string       `json:"id"`
	Ref    int64        `json:"ref"`
	Action dedup.Action `json:"action"`
	Title  string       `json:"title"`
	Author string       `json:"author"`
}

// Result summarizes a pass.
type Result struct {
	RunID string `json:"run_id"`
	State State  `json:"state"`

	Total    int `json:"total"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"` // not started because the pass was canceled

	Items    []Item       `json:"items,omitempty"`
	Failures []*ItemError `json:"-"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Partial reports whether the pass finished with some items failed or
// skipped.
func (r *Result) Partial() bool {
	return r.Failed > 0 || r.Skipped > 0
}

// Written returns the number of stored procedures the pass touched.
func (r *Result) Written() int {
	return r.Inserted + r.Updated
}

// Summary is a flat view of a Result for logs and broadcasts.
type Summary struct {
	RunID    string  `json:"run_id"`
	State    State   `json:"state"`
	Total    int     `json:"total"`
	Inserted int     `json:"inserted"`
	Updated  int     `json:"updated"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	Seconds  float64 `json:"seconds"`
}

// Summary returns the flat view of r.
func (r *Result) Summary() Summary {
	return Summary{
		RunID:    r.RunID,
		State:    r.State,
		Total:    r.Total,
		Inserted: r.Inserted,
		Updated:  r.Updated,
		Failed:   r.Failed,
		Skipped:  r.Skipped,
		Seconds:  r.Duration.Seconds(),
	}
}
