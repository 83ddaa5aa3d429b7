package models

import "fmt"

// ConversionStatus defines the terminal state of one message conversion
type ConversionStatus string

const (
	ConversionConverted ConversionStatus = "converted"
	ConversionFailed    ConversionStatus = "failed"
)

// ConversionErrorKind classifies conversion failures for reporting and retry strategy
type ConversionErrorKind string

const (
	ConversionErrorInvalidInput     ConversionErrorKind = "invalid_input"
	ConversionErrorTemplateNotFound ConversionErrorKind = "template_not_found"
	ConversionErrorAuthFailure      ConversionErrorKind = "auth_failure"
	ConversionErrorTransient        ConversionErrorKind = "transient_failure"
	ConversionErrorUnexpected       ConversionErrorKind = "unexpected"
)

// ConversionError captures why a single message failed to convert
// Scoped to one message - never aborts the run
type ConversionError struct {
	Kind       ConversionErrorKind `json:"kind"`
	HTTPStatus int                 `json:"http_status,omitempty"`
	Detail     string              `json:"detail,omitempty"`
}

// Error implements the error interface
func (e *ConversionError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("conversion %s (HTTP %d): %s", e.Kind, e.HTTPStatus, e.Detail)
	}
	return fmt.Sprintf("conversion %s: %s", e.Kind, e.Detail)
}

// Identifier is one business identifier carried by a resource entry
type Identifier struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

// ResourceEntry is one structured record emitted by converting a message.
// LocalRef is the bundle-local reference token (fullUrl or "Type/id") assigned
// by the conversion output; it is unique within one outcome but NOT across
// outcomes - cross-message reconciliation uses Identifiers instead.
type ResourceEntry struct {
	LocalRef     string
	ResourceType string
	Body         map[string]any
	Identifiers  []Identifier
	OutboundRefs []string // LocalRefs of other entries this entry's body points to
}

// ConversionOutcome is the result of converting exactly one message
// Created by the converter client, consumed once by the graph builder
type ConversionOutcome struct {
	MessageID string
	PatientID string
	Format    FormatTag
	Status    ConversionStatus
	Entries   []ResourceEntry  // Populated when Status is converted, in bundle order
	Error     *ConversionError // Populated when Status is failed
}

// Converted reports whether the outcome carries entries
func (o ConversionOutcome) Converted() bool {
	return o.Status == ConversionConverted
}
