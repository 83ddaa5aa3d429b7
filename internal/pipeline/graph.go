package pipeline

import (
	"fmt"
	"sort"

	"github.com/trobanga/hermes/internal/lib"
	"github.com/trobanga/hermes/internal/models"
)

// BuildGraphs merges the entries of all converted outcomes into one
// deduplicated, reference-aware graph per patient.
//
// Outcomes must arrive in catalog order: when two entries share a canonical
// key the later message's body wins for conflicting fields, while the union
// of dependency edges from both is kept. Outbound bundle-local references are
// resolved per-outcome; a reference that matches no emitted entry becomes a
// dangling-reference warning on the node, not a failure. Cycles are detected
// per patient and their members marked failed without aborting the rest of
// the graph.
func BuildGraphs(outcomes []models.ConversionOutcome, logger *lib.Logger) map[string]*models.ResourceGraph {
	graphs := make(map[string]*models.ResourceGraph)

	for _, outcome := range outcomes {
		if !outcome.Converted() {
			continue
		}

		graph, ok := graphs[outcome.PatientID]
		if !ok {
			graph = &models.ResourceGraph{
				PatientID: outcome.PatientID,
				Nodes:     make(map[string]*models.ResourceNode),
			}
			graphs[outcome.PatientID] = graph
		}

		mergeOutcome(graph, outcome)
	}

	for _, patientID := range sortedPatients(graphs) {
		failCycles(graphs[patientID], logger)
	}

	return graphs
}

// mergeOutcome folds one conversion outcome into the patient's graph
func mergeOutcome(graph *models.ResourceGraph, outcome models.ConversionOutcome) {
	// Bundle-local reference tokens are only meaningful within this outcome
	aliasToKey := make(map[string]string)
	keys := make([]string, len(outcome.Entries))

	for i, entry := range outcome.Entries {
		key := entryKey(entry, outcome.MessageID)
		keys[i] = key
		for _, alias := range lib.AliasRefs(entry) {
			aliasToKey[alias] = key
		}
	}

	for i, entry := range outcome.Entries {
		key := keys[i]

		node, ok := graph.Nodes[key]
		if !ok {
			node = &models.ResourceNode{
				Key:          key,
				ResourceType: entry.ResourceType,
				Identifiers:  entry.Identifiers,
				DependsOn:    make(map[string]struct{}),
				Status:       models.NodePending,
			}
			graph.Nodes[key] = node
		}

		// Later source message wins the body; edges accumulate
		node.Body = entry.Body
		node.Sources = append(node.Sources, outcome.MessageID)

		for _, ref := range entry.OutboundRefs {
			depKey, ok := aliasToKey[ref]
			if !ok {
				node.Warnings = append(node.Warnings,
					fmt.Sprintf("dangling reference %q from message %s", ref, outcome.MessageID))
				continue
			}
			if depKey == key {
				continue // Self-references carry no ordering constraint
			}
			node.DependsOn[depKey] = struct{}{}
		}
	}
}

func entryKey(entry models.ResourceEntry, messageID string) string {
	if len(entry.Identifiers) == 0 {
		return models.SyntheticKey(entry.ResourceType, messageID, entry.LocalRef)
	}
	return models.CanonicalKey(entry.ResourceType, entry.Identifiers)
}

// failCycles finds strongly connected components of size > 1 (or self-loops)
// and marks their members failed. Nodes that merely depend on a cycle stay
// pending; the scheduler skips them as dependency failures.
func failCycles(graph *models.ResourceGraph, logger *lib.Logger) {
	for _, component := range stronglyConnected(graph) {
		if len(component) == 1 {
			key := component[0]
			if _, selfLoop := graph.Nodes[key].DependsOn[key]; !selfLoop {
				continue
			}
		}

		sort.Strings(component)
		for _, key := range component {
			node := graph.Nodes[key]
			node.Status = models.NodeFailed
			node.Err = &models.NodeError{
				Kind:   models.NodeErrorCyclicDependency,
				Detail: fmt.Sprintf("cycle through %v", component),
			}
		}

		logger.Warn("Cyclic dependency detected, excluding nodes from upload",
			"patient_id", graph.PatientID,
			"nodes", component)
	}
}

// stronglyConnected runs Tarjan's algorithm over the dependency edges
func stronglyConnected(graph *models.ResourceGraph) [][]string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var components [][]string

	var strongconnect func(key string)
	strongconnect = func(key string) {
		indices[key] = index
		lowlink[key] = index
		index++
		stack = append(stack, key)
		onStack[key] = true

		for dep := range graph.Nodes[key].DependsOn {
			if _, ok := graph.Nodes[dep]; !ok {
				continue
			}
			if _, visited := indices[dep]; !visited {
				strongconnect(dep)
				if lowlink[dep] < lowlink[key] {
					lowlink[key] = lowlink[dep]
				}
			} else if onStack[dep] && indices[dep] < lowlink[key] {
				lowlink[key] = indices[dep]
			}
		}

		if lowlink[key] == indices[key] {
			var component []string
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				component = append(component, top)
				if top == key {
					break
				}
			}
			components = append(components, component)
		}
	}

	for _, key := range graph.SortedKeys() {
		if _, visited := indices[key]; !visited {
			strongconnect(key)
		}
	}

	return components
}

func sortedPatients(graphs map[string]*models.ResourceGraph) []string {
	patients := make([]string, 0, len(graphs))
	for id := range graphs {
		patients = append(patients, id)
	}
	sort.Strings(patients)
	return patients
}
