package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/trobanga/hermes/internal/lib"
	"github.com/trobanga/hermes/internal/models"
)

// ExportGraph writes one patient's merged resource graph to the output
// directory as a FHIR collection bundle. Nodes appear in stable key order so
// two runs over the same input produce byte-identical exports.
func ExportGraph(outputDir string, graph *models.ResourceGraph, logger *lib.Logger) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	entries := make([]map[string]any, 0, len(graph.Nodes))
	for _, key := range graph.SortedKeys() {
		node := graph.Nodes[key]
		entries = append(entries, map[string]any{
			"resource": node.Body,
		})
	}

	bundle := map[string]any{
		"resourceType": "Bundle",
		"type":         "collection",
		"entry":        entries,
	}

	path := filepath.Join(outputDir, fmt.Sprintf("%s_graph.json", graph.PatientID))
	if err := writeJSONAtomic(path, bundle); err != nil {
		return "", lib.ErrExportFailed(path, err)
	}

	logger.Info("Graph exported", "patient_id", graph.PatientID, "resources", len(entries), "path", path)
	return path, nil
}

// ExportSummary writes the run summary to the output directory
func ExportSummary(outputDir string, summary *models.RunSummary, logger *lib.Logger) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(outputDir, "summary.json")
	if err := writeJSONAtomic(path, summary); err != nil {
		return "", lib.ErrExportFailed(path, err)
	}

	logger.Info("Run summary exported", "run_id", summary.RunID, "path", path)
	return path, nil
}

// writeJSONAtomic writes to a .part file first and renames on success, so an
// interrupted run never leaves a truncated export behind
func writeJSONAtomic(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tempPath := path + ".part"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}
