package lib

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/hermes/internal/models"
)

func parseResource(t *testing.T, raw string) FHIRResource {
	t.Helper()
	var resource FHIRResource
	require.NoError(t, json.Unmarshal([]byte(raw), &resource))
	return resource
}

func TestExtractBundleEntries_FullUrlBecomesLocalRef(t *testing.T) {
	bundle := parseResource(t, `{
		"resourceType": "Bundle",
		"type": "collection",
		"entry": [
			{
				"fullUrl": "urn:uuid:patient-1",
				"resource": {
					"resourceType": "Patient",
					"identifier": [{"system": "http://hospital.example/mrn", "value": "PAT001"}]
				}
			},
			{
				"fullUrl": "urn:uuid:enc-1",
				"resource": {
					"resourceType": "Encounter",
					"subject": {"reference": "urn:uuid:patient-1"}
				}
			}
		]
	}`)

	entries, err := ExtractBundleEntries(bundle)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "urn:uuid:patient-1", entries[0].LocalRef)
	assert.Equal(t, "Patient", entries[0].ResourceType)
	assert.Equal(t, []models.Identifier{{System: "http://hospital.example/mrn", Value: "PAT001"}}, entries[0].Identifiers)

	assert.Equal(t, "urn:uuid:enc-1", entries[1].LocalRef)
	assert.Equal(t, []string{"urn:uuid:patient-1"}, entries[1].OutboundRefs)
}

func TestExtractBundleEntries_LocalRefFallbacks(t *testing.T) {
	bundle := parseResource(t, `{
		"resourceType": "Bundle",
		"entry": [
			{"resource": {"resourceType": "Patient", "id": "p1"}},
			{"resource": {"resourceType": "Observation"}}
		]
	}`)

	entries, err := ExtractBundleEntries(bundle)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Patient/p1", entries[0].LocalRef)
	assert.Equal(t, "entry-1", entries[1].LocalRef)
}

func TestExtractBundleEntries_EmptyBundle(t *testing.T) {
	bundle := parseResource(t, `{"resourceType": "Bundle", "type": "collection"}`)

	entries, err := ExtractBundleEntries(bundle)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractBundleEntries_EntryWithoutResourceSkipped(t *testing.T) {
	bundle := parseResource(t, `{
		"resourceType": "Bundle",
		"entry": [
			{"request": {"method": "POST"}},
			{"resource": {"resourceType": "Patient", "id": "p1"}}
		]
	}`)

	entries, err := ExtractBundleEntries(bundle)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Patient", entries[0].ResourceType)
}

func TestExtractBundleEntries_MissingResourceTypeFails(t *testing.T) {
	bundle := parseResource(t, `{
		"resourceType": "Bundle",
		"entry": [{"resource": {"id": "p1"}}]
	}`)

	_, err := ExtractBundleEntries(bundle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resourceType")
}

func TestExtractBundleEntries_BareResourceTreatedAsSingleEntry(t *testing.T) {
	resource := parseResource(t, `{"resourceType": "Patient", "id": "p1"}`)

	entries, err := ExtractBundleEntries(resource)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Patient/p1", entries[0].LocalRef)
	assert.Equal(t, "Patient", entries[0].ResourceType)
}

func TestExtractIdentifiers_SkipsIncompleteEntries(t *testing.T) {
	resource := parseResource(t, `{
		"resourceType": "Patient",
		"identifier": [
			{"system": "http://a.example", "value": "1"},
			{"system": "http://b.example"},
			{"value": "orphan"},
			{"system": "http://c.example", "value": "3"}
		]
	}`)

	ids := ExtractIdentifiers(resource)
	assert.Equal(t, []models.Identifier{
		{System: "http://a.example", Value: "1"},
		{System: "http://c.example", Value: "3"},
	}, ids)
}

func TestCollectReferences_WalksNestedStructures(t *testing.T) {
	resource := parseResource(t, `{
		"resourceType": "DiagnosticReport",
		"subject": {"reference": "urn:uuid:patient-1"},
		"result": [
			{"reference": "urn:uuid:obs-1"},
			{"reference": "urn:uuid:obs-2"}
		],
		"extension": [
			{"valueReference": {"reference": "urn:uuid:enc-1"}}
		]
	}`)

	refs := CollectReferences(resource)
	assert.ElementsMatch(t, []string{
		"urn:uuid:patient-1",
		"urn:uuid:obs-1",
		"urn:uuid:obs-2",
		"urn:uuid:enc-1",
	}, refs)
}

func TestAliasRefs_IncludesTypedFormWhenIDPresent(t *testing.T) {
	entry := models.ResourceEntry{
		LocalRef:     "urn:uuid:patient-1",
		ResourceType: "Patient",
		Body:         map[string]any{"resourceType": "Patient", "id": "p1"},
	}

	assert.ElementsMatch(t, []string{"urn:uuid:patient-1", "Patient/p1"}, AliasRefs(entry))

	// When the local ref already is the typed form there is no duplicate
	entry.LocalRef = "Patient/p1"
	assert.Equal(t, []string{"Patient/p1"}, AliasRefs(entry))
}
