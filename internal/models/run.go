package models

import (
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one pagination pass over a site listing and everything it
// extracted.
type Run struct {
	ID         string    `json:"id"`
	Site       string    `json:"site"`
	URL        string    `json:"url"`
	Status     RunStatus `json:"status"`
	Pages      []int     `json:"pages"`
	StopReason string    `json:"stop_reason"`
	Records    []Record  `json:"records"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunSummary is a Run without its records.
type RunSummary struct {
	ID          string    `json:"id"`
	Site        string    `json:"site"`
	URL         string    `json:"url"`
	Status      RunStatus `json:"status"`
	PageCount   int       `json:"page_count"`
	RecordCount int       `json:"record_count"`
	StopReason  string    `json:"stop_reason"`
	File        string    `json:"file,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

func (r *Run) Summary() RunSummary {
	return RunSummary{
		ID:          r.ID,
		Site:        r.Site,
		URL:         r.URL,
		Status:      r.Status,
		PageCount:   len(r.Pages),
		RecordCount: len(r.Records),
		StopReason:  r.StopReason,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}
