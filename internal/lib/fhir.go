package lib

import (
	"fmt"

	"github.com/trobanga/hermes/internal/models"
)

// FHIRResource represents a generic FHIR resource as a map
// We don't parse the full FHIR schema - the pipeline only reads
// resourceType, id, identifier and reference fields
type FHIRResource map[string]interface{}

// GetResourceType extracts the resourceType field from a FHIR resource
func (r FHIRResource) GetResourceType() (string, error) {
	resourceType, ok := r["resourceType"]
	if !ok {
		return "", fmt.Errorf("missing resourceType field")
	}

	typeStr, ok := resourceType.(string)
	if !ok {
		return "", fmt.Errorf("resourceType is not a string")
	}

	return typeStr, nil
}

// GetID extracts the id field from a FHIR resource
func (r FHIRResource) GetID() (string, error) {
	id, ok := r["id"]
	if !ok {
		return "", nil // ID is optional in FHIR
	}

	idStr, ok := id.(string)
	if !ok {
		return "", fmt.Errorf("id is not a string")
	}

	return idStr, nil
}

// ExtractBundleEntries converts a conversion-output bundle into resource
// entries. Each entry's local reference is its fullUrl when present, falling
// back to "Type/id" and finally a positional token, so bundle-local reference
// strings can be joined back against their targets.
func ExtractBundleEntries(bundle FHIRResource) ([]models.ResourceEntry, error) {
	if rt, err := bundle.GetResourceType(); err != nil || rt != "Bundle" {
		// A bare resource response is treated as a single-entry bundle
		return entriesFromSingleResource(bundle)
	}

	rawEntries, ok := bundle["entry"].([]any)
	if !ok {
		// Empty bundles are legal conversion output
		return nil, nil
	}

	entries := make([]models.ResourceEntry, 0, len(rawEntries))
	for i, raw := range rawEntries {
		entryObj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("bundle.entry[%d] must be an object", i)
		}

		body, ok := entryObj["resource"].(map[string]any)
		if !ok {
			continue // Entries without a resource carry nothing to load
		}

		resource := FHIRResource(body)
		resourceType, err := resource.GetResourceType()
		if err != nil {
			return nil, fmt.Errorf("bundle.entry[%d]: %w", i, err)
		}

		localRef := ""
		if fullURL, ok := entryObj["fullUrl"].(string); ok {
			localRef = fullURL
		}
		if localRef == "" {
			if id, _ := resource.GetID(); id != "" {
				localRef = resourceType + "/" + id
			} else {
				localRef = fmt.Sprintf("entry-%d", i)
			}
		}

		entries = append(entries, models.ResourceEntry{
			LocalRef:     localRef,
			ResourceType: resourceType,
			Body:         body,
			Identifiers:  ExtractIdentifiers(resource),
			OutboundRefs: CollectReferences(resource),
		})
	}

	return entries, nil
}

func entriesFromSingleResource(resource FHIRResource) ([]models.ResourceEntry, error) {
	resourceType, err := resource.GetResourceType()
	if err != nil {
		return nil, err
	}

	localRef := "entry-0"
	if id, _ := resource.GetID(); id != "" {
		localRef = resourceType + "/" + id
	}

	return []models.ResourceEntry{{
		LocalRef:     localRef,
		ResourceType: resourceType,
		Body:         resource,
		Identifiers:  ExtractIdentifiers(resource),
		OutboundRefs: CollectReferences(resource),
	}}, nil
}

// ExtractIdentifiers reads the resource's business identifiers from its
// identifier array. Entries without both system and value are ignored.
func ExtractIdentifiers(resource FHIRResource) []models.Identifier {
	raw, ok := resource["identifier"].([]any)
	if !ok {
		return nil
	}

	var identifiers []models.Identifier
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		system, _ := obj["system"].(string)
		value, _ := obj["value"].(string)
		if system == "" || value == "" {
			continue
		}
		identifiers = append(identifiers, models.Identifier{System: system, Value: value})
	}

	return identifiers
}

// CollectReferences walks the resource body and collects every string value
// under a "reference" key, in document order. These are the entry's outbound
// bundle-local references.
func CollectReferences(resource FHIRResource) []string {
	var refs []string
	collectReferences(map[string]any(resource), &refs)
	return refs
}

func collectReferences(value any, refs *[]string) {
	switch v := value.(type) {
	case map[string]any:
		if ref, ok := v["reference"].(string); ok && ref != "" {
			*refs = append(*refs, ref)
		}
		for key, child := range v {
			if key == "reference" {
				continue
			}
			collectReferences(child, refs)
		}
	case []any:
		for _, child := range v {
			collectReferences(child, refs)
		}
	}
}

// AliasRefs returns the reference tokens under which an entry can be
// addressed from other entries in the same bundle: its local ref plus the
// "Type/id" form when the body carries an id.
func AliasRefs(entry models.ResourceEntry) []string {
	aliases := []string{entry.LocalRef}
	if id, _ := FHIRResource(entry.Body).GetID(); id != "" {
		typed := entry.ResourceType + "/" + id
		if typed != entry.LocalRef {
			aliases = append(aliases, typed)
		}
	}
	return aliases
}
