package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/hermes/internal/lib"
	"github.com/trobanga/hermes/internal/models"
)

func testLogger() *lib.Logger {
	return lib.NewLogger(lib.LogLevelError)
}

func patientIdentifier(value string) []models.Identifier {
	return []models.Identifier{{System: "http://mrn.example", Value: value}}
}

func convertedOutcome(messageID, patientID string, entries ...models.ResourceEntry) models.ConversionOutcome {
	return models.ConversionOutcome{
		MessageID: messageID,
		PatientID: patientID,
		Format:    models.FormatHL7v2,
		Status:    models.ConversionConverted,
		Entries:   entries,
	}
}

func TestBuildGraphs_OnePatientPerGraph(t *testing.T) {
	outcomes := []models.ConversionOutcome{
		convertedOutcome("m1", "PAT001", models.ResourceEntry{
			LocalRef: "urn:uuid:p1", ResourceType: "Patient",
			Body:        map[string]any{"resourceType": "Patient"},
			Identifiers: patientIdentifier("PAT001"),
		}),
		convertedOutcome("m2", "PAT002", models.ResourceEntry{
			LocalRef: "urn:uuid:p2", ResourceType: "Patient",
			Body:        map[string]any{"resourceType": "Patient"},
			Identifiers: patientIdentifier("PAT002"),
		}),
	}

	graphs := BuildGraphs(outcomes, testLogger())
	require.Len(t, graphs, 2)
	assert.Len(t, graphs["PAT001"].Nodes, 1)
	assert.Len(t, graphs["PAT002"].Nodes, 1)
}

func TestBuildGraphs_FailedOutcomesContributeNothing(t *testing.T) {
	outcomes := []models.ConversionOutcome{
		{
			MessageID: "bad",
			PatientID: "PAT001",
			Status:    models.ConversionFailed,
			Error:     &models.ConversionError{Kind: models.ConversionErrorInvalidInput},
		},
	}

	graphs := BuildGraphs(outcomes, testLogger())
	assert.Empty(t, graphs)
}

func TestBuildGraphs_SameIdentifiersMergeAcrossMessages(t *testing.T) {
	outcomes := []models.ConversionOutcome{
		convertedOutcome("m1", "PAT001", models.ResourceEntry{
			LocalRef: "urn:uuid:a", ResourceType: "Patient",
			Body:        map[string]any{"resourceType": "Patient", "name": "first"},
			Identifiers: patientIdentifier("PAT001"),
		}),
		convertedOutcome("m2", "PAT001", models.ResourceEntry{
			LocalRef: "urn:uuid:b", ResourceType: "Patient",
			Body:        map[string]any{"resourceType": "Patient", "name": "second"},
			Identifiers: patientIdentifier("PAT001"),
		}),
	}

	graphs := BuildGraphs(outcomes, testLogger())
	graph := graphs["PAT001"]
	require.Len(t, graph.Nodes, 1)

	key := models.CanonicalKey("Patient", patientIdentifier("PAT001"))
	node := graph.Nodes[key]
	require.NotNil(t, node)

	// Later message wins the body, both sources are recorded
	assert.Equal(t, "second", node.Body["name"])
	assert.Equal(t, []string{"m1", "m2"}, node.Sources)
}

func TestBuildGraphs_MergedNodeKeepsEdgeUnion(t *testing.T) {
	encounterIDs := []models.Identifier{{System: "http://visit.example", Value: "V1"}}

	outcomes := []models.ConversionOutcome{
		convertedOutcome("m1", "PAT001",
			models.ResourceEntry{
				LocalRef: "urn:uuid:p", ResourceType: "Patient",
				Body:        map[string]any{"resourceType": "Patient"},
				Identifiers: patientIdentifier("PAT001"),
			},
			models.ResourceEntry{
				LocalRef: "urn:uuid:e", ResourceType: "Encounter",
				Body:         map[string]any{"resourceType": "Encounter"},
				Identifiers:  encounterIDs,
				OutboundRefs: []string{"urn:uuid:p"},
			},
		),
		convertedOutcome("m2", "PAT001",
			models.ResourceEntry{
				LocalRef: "urn:uuid:loc", ResourceType: "Location",
				Body:        map[string]any{"resourceType": "Location"},
				Identifiers: []models.Identifier{{System: "http://loc.example", Value: "L1"}},
			},
			models.ResourceEntry{
				LocalRef: "urn:uuid:e2", ResourceType: "Encounter",
				Body:         map[string]any{"resourceType": "Encounter", "status": "finished"},
				Identifiers:  encounterIDs,
				OutboundRefs: []string{"urn:uuid:loc"},
			},
		),
	}

	graphs := BuildGraphs(outcomes, testLogger())
	graph := graphs["PAT001"]
	require.Len(t, graph.Nodes, 3)

	encounter := graph.Nodes[models.CanonicalKey("Encounter", encounterIDs)]
	require.NotNil(t, encounter)

	assert.Equal(t, "finished", encounter.Body["status"])
	assert.Contains(t, encounter.DependsOn, models.CanonicalKey("Patient", patientIdentifier("PAT001")))
	assert.Contains(t, encounter.DependsOn, models.CanonicalKey("Location",
		[]models.Identifier{{System: "http://loc.example", Value: "L1"}}))
}

func TestBuildGraphs_NoIdentifiersNeverMerge(t *testing.T) {
	outcomes := []models.ConversionOutcome{
		convertedOutcome("m1", "PAT001", models.ResourceEntry{
			LocalRef: "urn:uuid:obs", ResourceType: "Observation",
			Body: map[string]any{"resourceType": "Observation"},
		}),
		convertedOutcome("m2", "PAT001", models.ResourceEntry{
			LocalRef: "urn:uuid:obs", ResourceType: "Observation",
			Body: map[string]any{"resourceType": "Observation"},
		}),
	}

	graphs := BuildGraphs(outcomes, testLogger())
	assert.Len(t, graphs["PAT001"].Nodes, 2)
}

func TestBuildGraphs_DanglingReferenceBecomesWarning(t *testing.T) {
	outcomes := []models.ConversionOutcome{
		convertedOutcome("m1", "PAT001", models.ResourceEntry{
			LocalRef: "urn:uuid:e", ResourceType: "Encounter",
			Body:         map[string]any{"resourceType": "Encounter"},
			Identifiers:  []models.Identifier{{System: "http://visit.example", Value: "V1"}},
			OutboundRefs: []string{"urn:uuid:missing"},
		}),
	}

	graphs := BuildGraphs(outcomes, testLogger())
	graph := graphs["PAT001"]
	require.Len(t, graph.Nodes, 1)

	node := graph.Nodes[graph.SortedKeys()[0]]
	assert.Empty(t, node.DependsOn)
	require.Len(t, node.Warnings, 1)
	assert.Contains(t, node.Warnings[0], "urn:uuid:missing")
	assert.Equal(t, models.NodePending, node.Status)
}

func TestBuildGraphs_SelfReferenceIgnored(t *testing.T) {
	outcomes := []models.ConversionOutcome{
		convertedOutcome("m1", "PAT001", models.ResourceEntry{
			LocalRef: "urn:uuid:p", ResourceType: "Patient",
			Body:         map[string]any{"resourceType": "Patient"},
			Identifiers:  patientIdentifier("PAT001"),
			OutboundRefs: []string{"urn:uuid:p"},
		}),
	}

	graphs := BuildGraphs(outcomes, testLogger())
	node := graphs["PAT001"].Nodes[models.CanonicalKey("Patient", patientIdentifier("PAT001"))]
	require.NotNil(t, node)
	assert.Empty(t, node.DependsOn)
	assert.Equal(t, models.NodePending, node.Status)
}

func TestBuildGraphs_CycleMembersFailOthersStayPending(t *testing.T) {
	aIDs := []models.Identifier{{System: "http://x.example", Value: "a"}}
	bIDs := []models.Identifier{{System: "http://x.example", Value: "b"}}

	outcomes := []models.ConversionOutcome{
		convertedOutcome("m1", "PAT001",
			models.ResourceEntry{
				LocalRef: "urn:uuid:a", ResourceType: "Condition",
				Body:         map[string]any{"resourceType": "Condition"},
				Identifiers:  aIDs,
				OutboundRefs: []string{"urn:uuid:b"},
			},
			models.ResourceEntry{
				LocalRef: "urn:uuid:b", ResourceType: "Condition",
				Body:         map[string]any{"resourceType": "Condition"},
				Identifiers:  bIDs,
				OutboundRefs: []string{"urn:uuid:a"},
			},
			models.ResourceEntry{
				LocalRef: "urn:uuid:p", ResourceType: "Patient",
				Body:        map[string]any{"resourceType": "Patient"},
				Identifiers: patientIdentifier("PAT001"),
			},
			models.ResourceEntry{
				LocalRef: "urn:uuid:obs", ResourceType: "Observation",
				Body:         map[string]any{"resourceType": "Observation"},
				OutboundRefs: []string{"urn:uuid:a", "urn:uuid:p"},
			},
		),
	}

	graphs := BuildGraphs(outcomes, testLogger())
	graph := graphs["PAT001"]

	a := graph.Nodes[models.CanonicalKey("Condition", aIDs)]
	b := graph.Nodes[models.CanonicalKey("Condition", bIDs)]
	require.NotNil(t, a)
	require.NotNil(t, b)

	assert.Equal(t, models.NodeFailed, a.Status)
	assert.Equal(t, models.NodeFailed, b.Status)
	require.NotNil(t, a.Err)
	assert.Equal(t, models.NodeErrorCyclicDependency, a.Err.Kind)

	// Nodes outside the cycle are untouched, the scheduler decides their fate
	patient := graph.Nodes[models.CanonicalKey("Patient", patientIdentifier("PAT001"))]
	assert.Equal(t, models.NodePending, patient.Status)
	observation := graph.Nodes[models.SyntheticKey("Observation", "m1", "urn:uuid:obs")]
	require.NotNil(t, observation)
	assert.Equal(t, models.NodePending, observation.Status)
}

func TestBuildGraphs_ReferencesBetweenMergedEntriesCollapse(t *testing.T) {
	aIDs := []models.Identifier{{System: "http://x.example", Value: "self"}}

	// Two entries with the same canonical key merge into one node, so a
	// reference between them becomes a self-reference and carries no edge.
	outcomes := []models.ConversionOutcome{
		convertedOutcome("m1", "PAT001", models.ResourceEntry{
			LocalRef: "urn:uuid:a", ResourceType: "Condition",
			Body:         map[string]any{"resourceType": "Condition"},
			Identifiers:  aIDs,
			OutboundRefs: []string{"urn:uuid:b"},
		}, models.ResourceEntry{
			LocalRef: "urn:uuid:b", ResourceType: "Condition",
			Body:         map[string]any{"resourceType": "Condition"},
			Identifiers:  aIDs,
			OutboundRefs: []string{},
		}),
	}

	graphs := BuildGraphs(outcomes, testLogger())
	graph := graphs["PAT001"]
	require.Len(t, graph.Nodes, 1)

	node := graph.Nodes[models.CanonicalKey("Condition", aIDs)]
	require.NotNil(t, node)
	// Both entries resolve to the same node, so the edge is a self-reference
	assert.Empty(t, node.DependsOn)
	assert.Equal(t, models.NodePending, node.Status)
}
