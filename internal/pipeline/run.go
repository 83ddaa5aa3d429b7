package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/trobanga/hermes/internal/lib"
	"github.com/trobanga/hermes/internal/models"
	"github.com/trobanga/hermes/internal/services"
	"github.com/trobanga/hermes/internal/ui"
)

// Converter is the conversion surface the runner drives.
// Satisfied by services.ConverterClient; tests substitute fakes.
type Converter interface {
	Convert(ctx context.Context, msg models.Message) models.ConversionOutcome
}

// Runner executes one convert-and-load run end to end:
// catalog -> conversion -> graph build -> (export) -> load -> summary.
type Runner struct {
	Config       models.ProjectConfig
	Catalog      services.MessageCatalog
	Converter    Converter
	Store        StoreWriter
	Logger       *lib.Logger
	ShowProgress bool
}

// Execute runs the pipeline and returns the finalized summary.
// Only configuration errors surface as a returned error; message and
// resource failures are captured in the summary and the run proceeds to
// completion.
func (r *Runner) Execute(ctx context.Context) (*models.RunSummary, error) {
	runID := uuid.New().String()
	report := NewRunReport(runID, r.Config.Pipeline.DryRun)
	startTime := time.Now()

	messages, err := r.loadMessages()
	if err != nil {
		return nil, err
	}

	// Template resolution is a configuration concern: verify every message
	// before any I/O so a bad config never produces a half-loaded run
	for _, msg := range messages {
		if _, err := services.BuildConvertRequest(msg, r.Config.Service); err != nil {
			return nil, err
		}
	}

	if r.Config.Pipeline.RunTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.Config.Pipeline.RunTimeoutSeconds)*time.Second)
		defer cancel()
	}

	r.Logger.Info("Run started",
		"run_id", runID,
		"messages", len(messages),
		"dry_run", r.Config.Pipeline.DryRun)

	outcomes := r.convertAll(ctx, messages)
	for _, outcome := range outcomes {
		if outcome != nil {
			report.RecordMessage(*outcome)
		}
	}

	graphs := BuildGraphs(collectConverted(outcomes), r.Logger)

	if dir := r.Config.Pipeline.OutputDir; dir != "" {
		for _, patientID := range sortedPatients(graphs) {
			if _, err := services.ExportGraph(dir, graphs[patientID], r.Logger); err != nil {
				return nil, err
			}
		}
	}

	r.loadGraphs(ctx, graphs, report)

	summary := report.Finalize()

	if dir := r.Config.Pipeline.OutputDir; dir != "" {
		if _, err := services.ExportSummary(dir, summary, r.Logger); err != nil {
			return nil, err
		}
	}

	lib.LogRunCompleted(r.Logger, runID, summary.MessagesProcessed,
		summary.ResourcesUploaded, summary.ResourcesFailed, time.Since(startTime))

	return summary, nil
}

func (r *Runner) loadMessages() ([]models.Message, error) {
	all, err := r.Catalog.Messages()
	if err != nil {
		return nil, err
	}

	filter := r.Config.Pipeline.PatientFilter
	var messages []models.Message
	for _, msg := range all {
		if msg.MatchesPatientFilter(filter) {
			messages = append(messages, msg)
		}
	}

	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages matched patient filter %q", filter)
	}
	return messages, nil
}

// convertAll converts independent messages on parallel workers. Outcomes land
// in catalog-order slots so the later-wins merge rule stays deterministic no
// matter which worker finishes first. Messages not started before
// cancellation leave nil slots.
func (r *Runner) convertAll(ctx context.Context, messages []models.Message) []*models.ConversionOutcome {
	outcomes := make([]*models.ConversionOutcome, len(messages))

	var bar *ui.ProgressBar
	if r.ShowProgress {
		bar = ui.NewProgressBar(int64(len(messages)), "Converting messages")
	}

	g := new(errgroup.Group)
	g.SetLimit(r.Config.Pipeline.Concurrency)

	for i, msg := range messages {
		i, msg := i, msg
		// Cancellation is checked between message submissions
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcome := r.Converter.Convert(ctx, msg)
			outcomes[i] = &outcome
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if bar != nil {
		bar.Finish()
	}
	return outcomes
}

func collectConverted(outcomes []*models.ConversionOutcome) []models.ConversionOutcome {
	var converted []models.ConversionOutcome
	for _, outcome := range outcomes {
		if outcome != nil {
			converted = append(converted, *outcome)
		}
	}
	return converted
}

// loadGraphs drives the upload phase, one patient graph at a time.
// Graphs are independent; waves inside each graph parallelize per the
// configured concurrency.
func (r *Runner) loadGraphs(ctx context.Context, graphs map[string]*models.ResourceGraph, report *RunReport) {
	mode := ModeLive
	if r.Config.Pipeline.DryRun {
		mode = ModeDryRun
	}

	total := 0
	for _, graph := range graphs {
		total += len(graph.Nodes)
	}

	var bar *ui.ProgressBar
	if r.ShowProgress && total > 0 {
		description := "Uploading resources"
		if mode == ModeDryRun {
			description = "Traversing graph (dry-run)"
		}
		bar = ui.NewProgressBar(int64(total), description)
	}

	scheduler := NewScheduler(r.Store, r.Config.Pipeline.Concurrency, r.Logger)
	scheduler.OnNode = func(*models.ResourceNode) {
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	for _, patientID := range sortedPatients(graphs) {
		graph := graphs[patientID]
		if err := scheduler.Load(ctx, graph, mode); err != nil {
			r.Logger.Warn("Upload phase interrupted", "patient_id", patientID, "error", err)
		}
		for _, key := range graph.SortedKeys() {
			report.RecordNode(graph.Nodes[key])
		}
	}

	if bar != nil {
		bar.Finish()
	}
}
