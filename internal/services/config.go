package services

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/trobanga/hermes/internal/lib"
	"github.com/trobanga/hermes/internal/models"
)

// LoadConfig loads configuration from file, environment and flag overrides
// Priority order (highest to lowest):
//  1. CLI flags (bound through viper)
//  2. Environment variables (HERMES_ prefix)
//  3. Configuration file
//  4. Default values
func LoadConfig(configFile string) (*models.ProjectConfig, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("hermes")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/hermes")
		viper.AddConfigPath("/etc/hermes")
	}

	viper.SetEnvPrefix("HERMES")
	viper.AutomaticEnv()

	// Config file is optional - env/flags can carry everything
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	defaults := models.DefaultConfig()

	// Build config manually from viper values
	// (Viper.Unmarshal has issues with nested structs in some versions)
	config := models.ProjectConfig{
		Service: models.ServiceConfig{
			FHIRBaseURL:        viper.GetString("service.fhir_base_url"),
			TemplateCollection: viper.GetString("service.template_collection"),
			TemplateOverrides:  map[models.FormatTag]string{},
			TimeoutSeconds:     viper.GetInt("service.timeout_seconds"),
		},
		Auth: models.AuthConfig{
			TokenURL:     viper.GetString("auth.token_url"),
			ClientID:     viper.GetString("auth.client_id"),
			ClientSecret: viper.GetString("auth.client_secret"),
			Scope:        viper.GetString("auth.scope"),
		},
		Pipeline: models.PipelineConfig{
			PatientFilter:     viper.GetString("pipeline.patient_filter"),
			DryRun:            viper.GetBool("pipeline.dry_run"),
			OutputDir:         viper.GetString("pipeline.output_dir"),
			Concurrency:       viper.GetInt("pipeline.concurrency"),
			RunTimeoutSeconds: viper.GetInt("pipeline.run_timeout_seconds"),
		},
		Retry: models.RetryConfig{
			MaxAttempts:      viper.GetInt("retry.max_attempts"),
			InitialBackoffMs: viper.GetInt64("retry.initial_backoff_ms"),
			MaxBackoffMs:     viper.GetInt64("retry.max_backoff_ms"),
		},
	}

	for format, template := range viper.GetStringMapString("service.template_overrides") {
		config.Service.TemplateOverrides[models.FormatTag(format)] = template
	}

	// Backfill defaults for missing values
	if config.Service.TemplateCollection == "" {
		config.Service.TemplateCollection = defaults.Service.TemplateCollection
	}
	if config.Service.TimeoutSeconds == 0 {
		config.Service.TimeoutSeconds = defaults.Service.TimeoutSeconds
	}
	if config.Pipeline.PatientFilter == "" {
		config.Pipeline.PatientFilter = defaults.Pipeline.PatientFilter
	}
	if config.Pipeline.Concurrency == 0 {
		config.Pipeline.Concurrency = defaults.Pipeline.Concurrency
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if config.Retry.InitialBackoffMs == 0 {
		config.Retry.InitialBackoffMs = defaults.Retry.InitialBackoffMs
	}
	if config.Retry.MaxBackoffMs == 0 {
		config.Retry.MaxBackoffMs = defaults.Retry.MaxBackoffMs
	}

	if err := config.Validate(); err != nil {
		if config.Service.FHIRBaseURL == "" {
			return nil, lib.ErrMissingFHIRURL()
		}
		return nil, lib.ErrInvalidConfig(err)
	}

	return &config, nil
}

// SetConfigValue allows runtime override of config values from CLI flags
func SetConfigValue(key string, value interface{}) {
	viper.Set(key, value)
}

// GetConfigFilePath returns the path to the config file that was loaded
func GetConfigFilePath() string {
	return viper.ConfigFileUsed()
}
