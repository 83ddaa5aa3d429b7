package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/hermes/internal/models"
)

func writeMessage(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDirectoryCatalog_ReadsMessagesInLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	writeMessage(t, dir, "PAT002_ORU_R01_1.hl7", "MSH|second")
	writeMessage(t, dir, "PAT001_ADT_A01_1.hl7", "MSH|first")
	writeMessage(t, dir, "PAT001_ORU_R01_2.hl7", "MSH|third")

	catalog := NewDirectoryCatalog(dir, testLogger())
	messages, err := catalog.Messages()
	require.NoError(t, err)
	require.Len(t, messages, 3)

	assert.Equal(t, "PAT001_ADT_A01_1", messages[0].MessageID)
	assert.Equal(t, "PAT001_ORU_R01_2", messages[1].MessageID)
	assert.Equal(t, "PAT002_ORU_R01_1", messages[2].MessageID)

	assert.Equal(t, "PAT001", messages[0].PatientID)
	assert.Equal(t, "ADT_A01", messages[0].RootTemplate)
	assert.Equal(t, models.FormatHL7v2, messages[0].Format)
	assert.Equal(t, "MSH|first", messages[0].RawText)
}

func TestDirectoryCatalog_FormatByExtension(t *testing.T) {
	dir := t.TempDir()
	writeMessage(t, dir, "PAT001_ADT_A01_1.hl7", "MSH|...")
	writeMessage(t, dir, "PAT001_CCD_1.ccda", "<ClinicalDocument/>")
	writeMessage(t, dir, "PAT001_CCD_2.xml", "<ClinicalDocument/>")
	writeMessage(t, dir, "PAT001_ExamplePatient_1.json", "{}")
	writeMessage(t, dir, "README.md", "not a message")

	catalog := NewDirectoryCatalog(dir, testLogger())
	messages, err := catalog.Messages()
	require.NoError(t, err)
	require.Len(t, messages, 4)

	formats := map[string]models.FormatTag{}
	for _, msg := range messages {
		formats[msg.MessageID] = msg.Format
	}
	assert.Equal(t, models.FormatHL7v2, formats["PAT001_ADT_A01_1"])
	assert.Equal(t, models.FormatCCDA, formats["PAT001_CCD_1"])
	assert.Equal(t, models.FormatCCDA, formats["PAT001_CCD_2"])
	assert.Equal(t, models.FormatJSON, formats["PAT001_ExamplePatient_1"])
}

func TestDirectoryCatalog_MissingDirectory(t *testing.T) {
	catalog := NewDirectoryCatalog("/nonexistent/messages", testLogger())
	_, err := catalog.Messages()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nonexistent/messages")
}

func TestDirectoryCatalog_EmptyDirectory(t *testing.T) {
	catalog := NewDirectoryCatalog(t.TempDir(), testLogger())
	_, err := catalog.Messages()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no message files")
}

func TestParseMessageName(t *testing.T) {
	tests := []struct {
		base         string
		patientID    string
		rootTemplate string
	}{
		{"PAT001_ADT_A01_1", "PAT001", "ADT_A01"},
		{"PAT002_ORU_R01_2", "PAT002", "ORU_R01"},
		{"PAT001_CCD_1", "PAT001", "CCD"},
		{"PAT001_1", "PAT001", ""},
		{"standalone", "standalone", ""},
	}

	for _, tt := range tests {
		patientID, rootTemplate := parseMessageName(tt.base)
		assert.Equal(t, tt.patientID, patientID, "base %q", tt.base)
		assert.Equal(t, tt.rootTemplate, rootTemplate, "base %q", tt.base)
	}
}
