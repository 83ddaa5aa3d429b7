package pipeline

import (
	"sync"
	"time"

	"github.com/trobanga/hermes/internal/models"
)

// RunReport accumulates per-message and per-resource outcomes into the run
// summary. Purely additive and safe for concurrent recording; Finalize is
// idempotent and always returns the same summary.
type RunReport struct {
	mu      sync.Mutex
	once    sync.Once
	summary *models.RunSummary
}

// NewRunReport creates a report for one run
func NewRunReport(runID string, dryRun bool) *RunReport {
	return &RunReport{
		summary: &models.RunSummary{
			RunID:            runID,
			StartedAt:        time.Now(),
			DryRun:           dryRun,
			MessagesByFormat: make(map[models.FormatTag]int),
			ByResourceType:   make(map[string]*models.ResourceTypeCounts),
		},
	}
}

// RecordMessage records one conversion outcome
func (r *RunReport) RecordMessage(outcome models.ConversionOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.summary.MessagesProcessed++
	r.summary.MessagesByFormat[outcome.Format]++

	if outcome.Converted() {
		r.summary.MessagesSucceeded++
		return
	}

	r.summary.MessagesFailed++
	record := models.ErrorRecord{
		Scope: models.ScopeMessage,
		Ref:   outcome.MessageID,
	}
	if outcome.Error != nil {
		record.Kind = string(outcome.Error.Kind)
		record.Detail = outcome.Error.Detail
	}
	r.summary.Errors = append(r.summary.Errors, record)
}

// RecordNode records the terminal state of one resource node
func (r *RunReport) RecordNode(node *models.ResourceNode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts, ok := r.summary.ByResourceType[node.ResourceType]
	if !ok {
		counts = &models.ResourceTypeCounts{}
		r.summary.ByResourceType[node.ResourceType] = counts
	}

	switch node.Status {
	case models.NodeUploaded:
		r.summary.ResourcesUploaded++
		counts.Uploaded++
	case models.NodeFailed:
		r.summary.ResourcesFailed++
		counts.Failed++
		record := models.ErrorRecord{
			Scope: models.ScopeResource,
			Ref:   node.Key,
		}
		if node.Err != nil {
			record.Kind = string(node.Err.Kind)
			record.Detail = node.Err.Detail
		}
		r.summary.Errors = append(r.summary.Errors, record)
	case models.NodeSkipped:
		r.summary.ResourcesSkipped++
		counts.Skipped++
		if node.SkipReason == models.SkipDependencyFailed {
			r.summary.Errors = append(r.summary.Errors, models.ErrorRecord{
				Scope: models.ScopeResource,
				Ref:   node.Key,
				Kind:  string(models.SkipDependencyFailed),
			})
		}
	}
}

// Finalize stamps the end time and returns the summary.
// Calling it again returns the same summary without double-counting.
func (r *RunReport) Finalize() *models.RunSummary {
	r.once.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.summary.FinishedAt = time.Now()
	})
	return r.summary
}
