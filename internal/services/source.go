package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/trobanga/hermes/internal/lib"
	"github.com/trobanga/hermes/internal/models"
)

// MessageCatalog supplies the raw messages for one run.
// Catalog order is the processing order and therefore fixes which message
// "wins" when merged entries conflict.
type MessageCatalog interface {
	Messages() ([]models.Message, error)
}

// DirectoryCatalog reads messages from a local directory. File names follow
// {patientID}_{rootTemplate}_{seq}{ext}: the first underscore-separated
// segment is the patient id, the last is a sequence number, everything in
// between is the conversion root template (which may itself contain
// underscores, e.g. ADT_A01).
type DirectoryCatalog struct {
	path   string
	logger *lib.Logger
}

// NewDirectoryCatalog creates a catalog over the given directory
func NewDirectoryCatalog(path string, logger *lib.Logger) *DirectoryCatalog {
	return &DirectoryCatalog{path: path, logger: logger}
}

// messageExtensions maps file extensions to conversion input formats
var messageExtensions = map[string]models.FormatTag{
	".hl7":  models.FormatHL7v2,
	".ccda": models.FormatCCDA,
	".xml":  models.FormatCCDA,
	".json": models.FormatJSON,
}

// Messages scans the directory and returns messages in lexical file order
func (c *DirectoryCatalog) Messages() ([]models.Message, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, lib.ErrCatalogNotFound(c.path)
		}
		return nil, fmt.Errorf("cannot access message directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("message path is not a directory: %s", c.path)
	}

	var files []string
	err = filepath.Walk(c.path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if _, ok := messageExtensions[strings.ToLower(filepath.Ext(info.Name()))]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan message directory: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no message files found in %s", c.path)
	}
	sort.Strings(files)

	messages := make([]models.Message, 0, len(files))
	for _, path := range files {
		msg, err := readMessageFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		messages = append(messages, msg)
	}

	c.logger.Info("Message catalog loaded", "count", len(messages), "source", c.path)
	return messages, nil
}

func readMessageFile(path string) (models.Message, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return models.Message{}, err
	}

	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))

	patientID, rootTemplate := parseMessageName(base)

	return models.Message{
		MessageID:    base,
		PatientID:    patientID,
		Format:       messageExtensions[ext],
		RawText:      string(content),
		RootTemplate: rootTemplate,
	}, nil
}

// parseMessageName splits "{patientID}_{rootTemplate}_{seq}" into its parts.
// Names without at least three segments yield an empty root template, which
// falls back to the per-format template override from configuration.
func parseMessageName(base string) (patientID, rootTemplate string) {
	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		if len(parts) > 0 {
			patientID = parts[0]
		}
		return patientID, ""
	}
	return parts[0], strings.Join(parts[1:len(parts)-1], "_")
}
