package models

import "time"

// ErrorScope identifies what an error record refers to
type ErrorScope string

const (
	ScopeMessage  ErrorScope = "message"
	ScopeResource ErrorScope = "resource"
)

// ErrorRecord is one entry in the run summary's ordered error list
type ErrorRecord struct {
	Scope  ErrorScope `json:"scope"`
	Ref    string     `json:"ref"`  // Message ID or node canonical key
	Kind   string     `json:"kind"` // Error kind from the conversion/upload taxonomy
	Detail string     `json:"detail,omitempty"`
}

// ResourceTypeCounts tracks per-resource-type upload outcomes
type ResourceTypeCounts struct {
	Uploaded int `json:"uploaded"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// RunSummary is the final accounting of one pipeline run.
// Created at run start, finalized once at run end; the only artifact
// that outlives the run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`

	MessagesProcessed int                   `json:"messages_processed"`
	MessagesSucceeded int                   `json:"messages_succeeded"`
	MessagesFailed    int                   `json:"messages_failed"`
	MessagesByFormat  map[FormatTag]int     `json:"messages_by_format"`

	ResourcesUploaded int                            `json:"resources_uploaded"`
	ResourcesFailed   int                            `json:"resources_failed"`
	ResourcesSkipped  int                            `json:"resources_skipped"`
	ByResourceType    map[string]*ResourceTypeCounts `json:"by_resource_type"`

	Errors []ErrorRecord `json:"errors"`
}

// Clean reports whether the run completed without any message or resource failure.
// Skipped nodes from dry-run mode do not count against a clean run.
func (s *RunSummary) Clean() bool {
	if s.MessagesFailed > 0 || s.ResourcesFailed > 0 {
		return false
	}
	if s.DryRun {
		return true
	}
	return s.ResourcesSkipped == 0
}
