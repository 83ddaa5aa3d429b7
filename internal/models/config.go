package models

import (
	"fmt"
	"net/url"
)

// ProjectConfig is the top-level configuration for the Hermes pipeline
type ProjectConfig struct {
	Service  ServiceConfig  `yaml:"service" json:"service"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Retry    RetryConfig    `yaml:"retry" json:"retry"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
}

// ServiceConfig contains connection details for the conversion service and FHIR store
type ServiceConfig struct {
	FHIRBaseURL        string               `yaml:"fhir_base_url" json:"fhir_base_url"`
	TemplateCollection string               `yaml:"template_collection" json:"template_collection"`
	TemplateOverrides  map[FormatTag]string `yaml:"template_overrides" json:"template_overrides"` // Per-format root template fallback
	TimeoutSeconds     int                  `yaml:"timeout_seconds" json:"timeout_seconds"`       // Per-request timeout
}

// AuthConfig contains credential provider settings for bearer token acquisition
type AuthConfig struct {
	TokenURL     string `yaml:"token_url" json:"token_url"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-"` // Never serialized into summaries
	Scope        string `yaml:"scope" json:"scope"`     // Defaults to "<fhir_base_url>/.default"
}

// PipelineConfig controls run behavior
type PipelineConfig struct {
	PatientFilter     string `yaml:"patient_filter" json:"patient_filter"` // "all" or a specific patient id
	DryRun            bool   `yaml:"dry_run" json:"dry_run"`
	OutputDir         string `yaml:"output_dir" json:"output_dir"` // When set, per-patient graphs are exported here
	Concurrency       int    `yaml:"concurrency" json:"concurrency"`
	RunTimeoutSeconds int    `yaml:"run_timeout_seconds" json:"run_timeout_seconds"` // 0 means no run-level timeout
}

// RetryConfig controls retry behavior for transient errors
type RetryConfig struct {
	MaxAttempts      int   `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoffMs int64 `yaml:"initial_backoff_ms" json:"initial_backoff_ms"`
	MaxBackoffMs     int64 `yaml:"max_backoff_ms" json:"max_backoff_ms"`
}

// DefaultTemplateCollection is the conversion service's stock template image
const DefaultTemplateCollection = "microsofthealth/fhirconverter:default"

// DefaultConfig returns a sensible default configuration
func DefaultConfig() ProjectConfig {
	return ProjectConfig{
		Service: ServiceConfig{
			FHIRBaseURL:        "",
			TemplateCollection: DefaultTemplateCollection,
			TemplateOverrides:  map[FormatTag]string{},
			TimeoutSeconds:     30,
		},
		Pipeline: PipelineConfig{
			PatientFilter:     PatientFilterAll,
			DryRun:            false,
			OutputDir:         "",
			Concurrency:       4,
			RunTimeoutSeconds: 0,
		},
		Retry: RetryConfig{
			MaxAttempts:      5,
			InitialBackoffMs: 1000,
			MaxBackoffMs:     30000,
		},
	}
}

// Validate checks required fields and value ranges.
// Violations here are configuration errors and abort the run before any I/O.
func (c *ProjectConfig) Validate() error {
	if c.Service.FHIRBaseURL == "" {
		return fmt.Errorf("service.fhir_base_url is required")
	}
	if _, err := url.Parse(c.Service.FHIRBaseURL); err != nil {
		return fmt.Errorf("invalid service.fhir_base_url: %w", err)
	}
	if c.Service.TemplateCollection == "" {
		return fmt.Errorf("service.template_collection is required")
	}
	if c.Service.TimeoutSeconds <= 0 {
		return fmt.Errorf("service.timeout_seconds must be > 0, got %d", c.Service.TimeoutSeconds)
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0, got %d", c.Pipeline.Concurrency)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialBackoffMs <= 0 {
		return fmt.Errorf("retry.initial_backoff_ms must be > 0, got %d", c.Retry.InitialBackoffMs)
	}
	if c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		return fmt.Errorf("retry.max_backoff_ms (%d) must be >= retry.initial_backoff_ms (%d)",
			c.Retry.MaxBackoffMs, c.Retry.InitialBackoffMs)
	}
	return nil
}

// ResolveRootTemplate picks the root template for a message: the message's own
// template wins, then the per-format override from configuration.
// Returns empty string when neither is available.
func (c *ServiceConfig) ResolveRootTemplate(msg Message) string {
	if msg.RootTemplate != "" {
		return msg.RootTemplate
	}
	return c.TemplateOverrides[msg.Format]
}

// TokenScope returns the OAuth scope for the FHIR service audience
func (c *AuthConfig) TokenScope(fhirBaseURL string) string {
	if c.Scope != "" {
		return c.Scope
	}
	return fhirBaseURL + "/.default"
}
