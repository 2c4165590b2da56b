package models

import (
	"time"

	"github.com/faveindex/internal/types"
)

// RunOutcome summarizes one indexing run
type RunOutcome struct {
	RunID         string         `json:"runId"`
	UserID        string         `json:"userId"`
	Rounds        int            `json:"rounds"`
	State         types.RunState `json:"state"`
	Fetched       int            `json:"fetched"`
	New           int            `json:"new"`
	Hydrated      int            `json:"hydrated"`
	Indexed       int            `json:"indexed"`
	Malformed     int            `json:"malformed"`
	WatermarkSize int            `json:"watermarkSize"`
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    time.Time      `json:"finishedAt"`
	Error         string         `json:"error,omitempty"`
}

// Duration returns the wall time of the run
func (o *RunOutcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}
