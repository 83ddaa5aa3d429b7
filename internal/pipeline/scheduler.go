package pipeline

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/trobanga/hermes/internal/lib"
	"github.com/trobanga/hermes/internal/models"
	"github.com/trobanga/hermes/internal/services"
)

// LoadMode selects between live uploads and dry-run traversal
type LoadMode string

const (
	ModeLive   LoadMode = "live"
	ModeDryRun LoadMode = "dry_run"
)

// StoreWriter is the store surface the scheduler drives.
// Satisfied by services.StoreClient; tests substitute fakes.
type StoreWriter interface {
	Create(ctx context.Context, node *models.ResourceNode) (services.StoreResult, error)
}

// Scheduler drives uploads of one resource graph in dependency order.
//
// Traversal runs in waves: a wave is the maximal set of pending nodes whose
// dependencies are all uploaded. Nodes within a wave upload concurrently up
// to the configured limit; waves are strictly sequential, so a resource is
// never submitted before every resource it depends on has completed its
// upload attempt.
type Scheduler struct {
	store       StoreWriter
	concurrency int
	logger      *lib.Logger

	// OnNode, when set, is called after each node reaches a terminal state
	OnNode func(*models.ResourceNode)
}

// NewScheduler creates a load scheduler
func NewScheduler(store StoreWriter, concurrency int, logger *lib.Logger) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{store: store, concurrency: concurrency, logger: logger}
}

// Load drives the graph to terminal states. In dry-run mode the wave order is
// still computed - so dry-run output matches what a live run would attempt -
// but every node is skipped without a store call. Returns the context error
// when the run was canceled mid-graph; failed nodes are not an error.
func (s *Scheduler) Load(ctx context.Context, graph *models.ResourceGraph, mode LoadMode) error {
	wave := 0
	for {
		s.propagateDependencyFailures(graph)

		ready := s.nextWave(graph, mode)
		if len(ready) == 0 {
			return nil
		}

		// Cancellation is checked between waves; in-flight calls finish on
		// their own request timeout
		if err := ctx.Err(); err != nil {
			return err
		}

		lib.LogWaveStart(s.logger, graph.PatientID, wave, len(ready))

		if mode == ModeDryRun {
			for _, node := range ready {
				s.markSkipped(node, models.SkipDryRun)
			}
		} else {
			s.uploadWave(ctx, ready)
		}
		wave++
	}
}

// nextWave returns pending nodes whose dependencies are all uploaded, in
// stable key order
func (s *Scheduler) nextWave(graph *models.ResourceGraph, mode LoadMode) []*models.ResourceNode {
	var ready []*models.ResourceNode
	for _, key := range graph.SortedKeys() {
		node := graph.Nodes[key]
		if node.Status != models.NodePending {
			continue
		}
		satisfied := s.depsSatisfied(graph, node)
		if mode == ModeDryRun {
			satisfied = s.depsSatisfiedForDryRun(graph, node)
		}
		if satisfied {
			ready = append(ready, node)
		}
	}
	return ready
}

func (s *Scheduler) depsSatisfied(graph *models.ResourceGraph, node *models.ResourceNode) bool {
	for dep := range node.DependsOn {
		depNode, ok := graph.Nodes[dep]
		if !ok {
			continue // Dangling edges were already recorded as warnings
		}
		if depNode.Status != models.NodeUploaded {
			return false
		}
	}
	return true
}

// In dry-run, skipped dependencies are treated as satisfied so traversal
// still walks the full wave order
func (s *Scheduler) depsSatisfiedForDryRun(graph *models.ResourceGraph, node *models.ResourceNode) bool {
	for dep := range node.DependsOn {
		depNode, ok := graph.Nodes[dep]
		if !ok {
			continue
		}
		if depNode.Status != models.NodeSkipped || depNode.SkipReason != models.SkipDryRun {
			return false
		}
	}
	return true
}

// propagateDependencyFailures skips every pending node with a failed or
// skipped dependency, repeating until the transitive closure is marked
func (s *Scheduler) propagateDependencyFailures(graph *models.ResourceGraph) {
	for {
		changed := false
		for _, key := range graph.SortedKeys() {
			node := graph.Nodes[key]
			if node.Status != models.NodePending {
				continue
			}
			for dep := range node.DependsOn {
				depNode, ok := graph.Nodes[dep]
				if !ok {
					continue
				}
				failed := depNode.Status == models.NodeFailed
				skipped := depNode.Status == models.NodeSkipped && depNode.SkipReason == models.SkipDependencyFailed
				if failed || skipped {
					s.markSkipped(node, models.SkipDependencyFailed)
					changed = true
					break
				}
			}
		}
		if !changed {
			return
		}
	}
}

// uploadWave uploads the wave's nodes concurrently and waits for all of them
func (s *Scheduler) uploadWave(ctx context.Context, wave []*models.ResourceNode) {
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for _, node := range wave {
		node := node
		g.Go(func() error {
			s.uploadNode(ctx, node)
			return nil
		})
	}

	// Node failures are recorded on the nodes themselves
	_ = g.Wait()
}

func (s *Scheduler) uploadNode(ctx context.Context, node *models.ResourceNode) {
	node.Status = models.NodeUploading

	result, err := s.store.Create(ctx, node)
	if err == nil {
		node.Status = models.NodeUploaded
		node.RemoteID = result.RemoteID
		if result.AlreadyExists {
			s.logger.Debug("Resource already present in store", "key", node.Key)
		}
		s.notify(node)
		return
	}

	node.Status = models.NodeFailed
	node.Err = classifyUploadError(err)
	s.logger.Warn("Resource upload failed",
		"key", node.Key,
		"resource_type", node.ResourceType,
		"error", err)
	s.notify(node)
}

func classifyUploadError(err error) *models.NodeError {
	var storeErr *services.StoreError
	if errors.As(err, &storeErr) {
		kind := models.NodeErrorRejected
		if storeErr.IsTransient() {
			kind = models.NodeErrorTransientFailure
		}
		return &models.NodeError{
			Kind:       kind,
			HTTPStatus: storeErr.StatusCode,
			Detail:     storeErr.Body,
		}
	}
	// Exhausted retries, network failures, token acquisition
	return &models.NodeError{
		Kind:   models.NodeErrorTransientFailure,
		Detail: err.Error(),
	}
}

func (s *Scheduler) markSkipped(node *models.ResourceNode, reason models.SkipReason) {
	node.Status = models.NodeSkipped
	node.SkipReason = reason
	s.notify(node)
}

func (s *Scheduler) notify(node *models.ResourceNode) {
	if s.OnNode != nil {
		s.OnNode(node)
	}
}

// SortNodesByKey orders nodes for deterministic reporting
func SortNodesByKey(nodes []*models.ResourceNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key < nodes[j].Key })
}
