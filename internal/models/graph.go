package models

import (
	"fmt"
	"sort"
	"strings"
)

// NodeStatus defines the upload state of a resource node
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeUploading NodeStatus = "uploading"
	NodeUploaded  NodeStatus = "uploaded"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// IsTerminal reports whether a node has reached a final state
func (s NodeStatus) IsTerminal() bool {
	return s == NodeUploaded || s == NodeFailed || s == NodeSkipped
}

// CanTransitionTo checks if node status transition is valid
// Valid transitions:
//
//	pending -> uploading | skipped
//	uploading -> uploaded | failed
//	uploaded/failed/skipped are terminal
func (s NodeStatus) CanTransitionTo(next NodeStatus) bool {
	switch s {
	case NodePending:
		return next == NodeUploading || next == NodeSkipped
	case NodeUploading:
		return next == NodeUploaded || next == NodeFailed
	default:
		return false
	}
}

// SkipReason explains why a node was skipped without an upload attempt
type SkipReason string

const (
	SkipDependencyFailed SkipReason = "dependency_failed"
	SkipDryRun           SkipReason = "dry_run"
)

// NodeErrorKind classifies terminal node failures
type NodeErrorKind string

const (
	NodeErrorRejected         NodeErrorKind = "rejected"          // Permanent 4xx store rejection
	NodeErrorTransientFailure NodeErrorKind = "transient_failure" // 429/5xx, retries exhausted
	NodeErrorCyclicDependency NodeErrorKind = "cyclic_dependency" // Graph construction error
)

// NodeError captures why a resource node failed
type NodeError struct {
	Kind       NodeErrorKind `json:"kind"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

// Error implements the error interface
func (e *NodeError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("upload %s (HTTP %d): %s", e.Kind, e.HTTPStatus, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// ResourceNode is one merged resource in a patient's dependency graph.
// Created at graph-build time, mutated only by the load scheduler.
type ResourceNode struct {
	Key          string              // Canonical key, unique within the graph
	ResourceType string              //
	Body         map[string]any      // Opaque resource payload, later source message wins
	Identifiers  []Identifier        // Business identifiers (empty for synthetic keys)
	DependsOn    map[string]struct{} // Canonical keys this node references
	Sources      []string            // Message IDs that contributed entries to this node
	Warnings     []string            // Dangling reference warnings, non-fatal
	Status       NodeStatus          //
	SkipReason   SkipReason          // Set when Status is skipped
	RemoteID     string              // Store-assigned id, set when Status is uploaded
	Err          *NodeError          // Set when Status is failed
}

// ResourceGraph is the merged, reference-aware resource set for one patient
type ResourceGraph struct {
	PatientID string
	Nodes     map[string]*ResourceNode
}

// CanonicalKey derives the merge identity of a resource entry: the resource
// type plus the full business identifier set sorted by (system, value).
// No identifier-system precedence is applied - entries merge only when type
// and the complete identifier set agree, so a partial identifier coincidence
// never collapses two distinct resources.
func CanonicalKey(resourceType string, identifiers []Identifier) string {
	parts := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		parts = append(parts, id.System+"|"+id.Value)
	}
	sort.Strings(parts)
	return resourceType + "#" + strings.Join(parts, ";")
}

// SyntheticKey builds a message-scoped key for an entry without business
// identifiers. Such entries can never merge across messages.
func SyntheticKey(resourceType, messageID, localRef string) string {
	return resourceType + "#msg:" + messageID + "/" + localRef
}

// PendingCount returns the number of nodes not yet in a terminal state
func (g *ResourceGraph) PendingCount() int {
	n := 0
	for _, node := range g.Nodes {
		if !node.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// SortedKeys returns the graph's node keys in stable order
func (g *ResourceGraph) SortedKeys() []string {
	keys := make([]string, 0, len(g.Nodes))
	for k := range g.Nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
