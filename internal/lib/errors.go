package lib

import (
	"fmt"
	"strings"
)

// PipelineError represents a user-friendly error with context and guidance
type PipelineError struct {
	Category    ErrorCategory
	Message     string   // Short description of what went wrong
	Cause       error    // Underlying error
	Guidance    []string // What the user can do to fix it
	HTTPStatus  int      // HTTP status code if applicable
	IsRetryable bool     // Can this error be automatically retried?
}

// ErrorCategory classifies errors for better UX
type ErrorCategory string

const (
	CategoryNetwork       ErrorCategory = "network"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConversion    ErrorCategory = "conversion"
	CategoryGraph         ErrorCategory = "graph"
	CategoryUpload        ErrorCategory = "upload"
	CategoryFileSystem    ErrorCategory = "filesystem"
)

// Error implements the error interface
func (e *PipelineError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] ", strings.ToUpper(string(e.Category))))
	sb.WriteString(e.Message)

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if e.HTTPStatus > 0 {
		sb.WriteString(fmt.Sprintf(" (HTTP %d)", e.HTTPStatus))
	}

	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a formatted message suitable for displaying to end users
func (e *PipelineError) UserMessage() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if len(e.Guidance) > 0 {
		sb.WriteString("\nHow to fix:\n")
		for i, guide := range e.Guidance {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, guide))
		}
	}

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("\nTechnical details: %v\n", e.Cause))
	}

	return sb.String()
}

// Configuration errors - the only kind that aborts a run before any I/O

// ErrMissingFHIRURL creates an error for a missing FHIR service URL
func ErrMissingFHIRURL() *PipelineError {
	return &PipelineError{
		Category: CategoryConfiguration,
		Message:  "FHIR service URL is not configured",
		Guidance: []string{
			"Set service.fhir_base_url in your hermes.yaml config file",
			"Or set the HERMES_SERVICE_FHIR_BASE_URL environment variable",
			"Or pass --fhir-url on the command line",
		},
		IsRetryable: false,
	}
}

// ErrUnresolvedTemplate creates an error for a message whose root template cannot be resolved
func ErrUnresolvedTemplate(messageID string, format string) *PipelineError {
	return &PipelineError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("no root template resolved for message '%s' (format %s)", messageID, format),
		Guidance: []string{
			"Name the message file <patient>_<template>_<n> so the template is taken from the filename",
			fmt.Sprintf("Or add a template override for format %q under service.template_overrides", format),
		},
		IsRetryable: false,
	}
}

// ErrInvalidConfig creates an error for configuration validation failures
func ErrInvalidConfig(cause error) *PipelineError {
	return &PipelineError{
		Category: CategoryConfiguration,
		Message:  "Invalid configuration",
		Cause:    cause,
		Guidance: []string{
			"Compare with config/hermes.example.yaml for correct format",
			"Ensure all required fields are populated",
		},
		IsRetryable: false,
	}
}

// Network/service errors

// ErrServiceUnreachable creates an error for network connectivity issues
func ErrServiceUnreachable(url string, cause error) *PipelineError {
	return &PipelineError{
		Category: CategoryNetwork,
		Message:  fmt.Sprintf("Cannot reach service at %s", url),
		Cause:    cause,
		Guidance: []string{
			"Check that the service is running",
			fmt.Sprintf("Verify the URL is correct: %s", url),
			"Check your network connection",
		},
		IsRetryable: true,
	}
}

// ErrTokenAcquisition creates an error for credential provider failures
func ErrTokenAcquisition(cause error) *PipelineError {
	return &PipelineError{
		Category: CategoryConfiguration,
		Message:  "Failed to acquire an access token",
		Cause:    cause,
		Guidance: []string{
			"Check auth.token_url, auth.client_id and auth.client_secret",
			"Verify the identity has the FHIR Data Contributor role",
		},
		IsRetryable: false,
	}
}

// Filesystem errors

// ErrCatalogNotFound creates an error for a missing message catalog directory
func ErrCatalogNotFound(path string) *PipelineError {
	return &PipelineError{
		Category: CategoryFileSystem,
		Message:  fmt.Sprintf("Message directory not found: %s", path),
		Guidance: []string{
			"Check that the path is correct",
			"Ensure the directory exists and contains *.hl7 message files",
		},
		IsRetryable: false,
	}
}

// ErrExportFailed creates an error for output-directory write failures
func ErrExportFailed(path string, cause error) *PipelineError {
	return &PipelineError{
		Category: CategoryFileSystem,
		Message:  fmt.Sprintf("Failed to write export file: %s", path),
		Cause:    cause,
		Guidance: []string{
			"Check the output directory exists and is writable",
			"Check available disk space",
		},
		IsRetryable: false,
	}
}
