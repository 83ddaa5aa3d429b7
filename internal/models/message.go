package models

// Message is one raw clinical message to be converted
// Immutable once read from the message catalog
type Message struct {
	MessageID    string    `json:"message_id"`
	PatientID    string    `json:"patient_id"`
	Format       FormatTag `json:"format"`
	RawText      string    `json:"-"`             // Message content, not serialized into state/summary files
	RootTemplate string    `json:"root_template"` // Conversion root template (e.g. "ADT_A01")
}

// FormatTag identifies the input data type of a message
type FormatTag string

const (
	FormatHL7v2 FormatTag = "Hl7v2"
	FormatCCDA  FormatTag = "Ccda"
	FormatJSON  FormatTag = "Json"
	FormatFHIR  FormatTag = "Fhir"
)

// IsValidFormatTag checks if the format tag is recognized by the conversion service
func IsValidFormatTag(t FormatTag) bool {
	switch t {
	case FormatHL7v2, FormatCCDA, FormatJSON, FormatFHIR:
		return true
	default:
		return false
	}
}

// PatientFilterAll selects every patient in the catalog
const PatientFilterAll = "all"

// MatchesPatientFilter checks if a message passes the run's patient filter
func (m Message) MatchesPatientFilter(filter string) bool {
	return filter == "" || filter == PatientFilterAll || filter == m.PatientID
}
