package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/trobanga/hermes/internal/lib"
	"github.com/trobanga/hermes/internal/models"
	"github.com/trobanga/hermes/internal/pipeline"
	"github.com/trobanga/hermes/internal/services"
)

var (
	patientID          string
	dryRun             bool
	outputDir          string
	templateCollection string
	fhirURL            string
	noProgress         bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <input-dir>",
	Short: "Convert clinical messages and load them into a FHIR store",
	Long: `Convert clinical messages from a directory and load the resulting FHIR
resources into the configured FHIR store.

Message files are discovered by extension:
  • *.hl7          - HL7v2 messages
  • *.ccda, *.xml  - C-CDA documents
  • *.json         - JSON messages

File names of the form {patientID}_{rootTemplate}_{seq}.{ext} carry the
patient id and root template; the template can also be configured per
format via template_overrides.

Resources from each patient's messages are merged into one dependency
graph and uploaded in waves: a resource is only submitted once every
resource it references has been uploaded. A failed resource skips its
dependents but never aborts the run.

Examples:
  # Convert and load everything
  hermes run ./messages

  # One patient only
  hermes run ./messages --patient-id PAT001

  # Validate conversion and ordering without touching the store
  hermes run ./messages --dry-run

  # Keep the converted graphs and summary on disk
  hermes run ./messages --output-dir ./converted`,
	Args:         cobra.ExactArgs(1),
	RunE:         runRun,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&patientID, "patient-id", "", "Only process messages for this patient (default: all)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Convert and plan the upload order without writing to the store")
	runCmd.Flags().StringVar(&outputDir, "output-dir", "", "Export per-patient graphs and the run summary to this directory")
	runCmd.Flags().StringVar(&templateCollection, "template-collection", "", "Template collection reference for the conversion service")
	runCmd.Flags().StringVar(&fhirURL, "fhir-url", "", "Base URL of the FHIR service (overrides config)")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress indicators")
}

func runRun(cmd *cobra.Command, args []string) error {
	inputDir := args[0]

	applyRunFlags()

	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := lib.LogLevelInfo
	if verbose {
		logLevel = lib.LogLevelDebug
	}
	logger := lib.NewLogger(logLevel)

	timeout := time.Duration(config.Service.TimeoutSeconds) * time.Second
	httpClient := services.NewHTTPClient(timeout, lib.NewRetryPolicy(config.Retry), logger)
	tokens := newTokenSource(config, logger)

	runner := &pipeline.Runner{
		Config:       *config,
		Catalog:      services.NewDirectoryCatalog(inputDir, logger),
		Converter:    services.NewConverterClient(config.Service, httpClient, tokens, logger),
		Store:        services.NewStoreClient(config.Service.FHIRBaseURL, httpClient, tokens, logger),
		Logger:       logger,
		ShowProgress: !noProgress,
	}

	summary, err := runner.Execute(cmd.Context())
	if err != nil {
		return err
	}

	printSummary(summary)

	if !summary.Clean() {
		return fmt.Errorf("run completed with failures (%d messages, %d resources)",
			summary.MessagesFailed, summary.ResourcesFailed)
	}
	return nil
}

// applyRunFlags pushes command-line overrides into viper before the config
// is loaded, so they take priority over file and environment values
func applyRunFlags() {
	if patientID != "" {
		services.SetConfigValue("pipeline.patient_filter", patientID)
	}
	if dryRun {
		services.SetConfigValue("pipeline.dry_run", true)
	}
	if outputDir != "" {
		services.SetConfigValue("pipeline.output_dir", outputDir)
	}
	if templateCollection != "" {
		services.SetConfigValue("service.template_collection", templateCollection)
	}
	if fhirURL != "" {
		services.SetConfigValue("service.fhir_base_url", fhirURL)
	}
}

// newTokenSource picks the credential provider for the run.
// Without a token URL the store is assumed to accept unauthenticated
// requests (local HAPI, smoke tests).
func newTokenSource(config *models.ProjectConfig, logger *lib.Logger) services.TokenSource {
	if config.Auth.TokenURL == "" {
		return &services.StaticTokenSource{}
	}
	return services.NewClientCredentialsSource(config.Auth, config.Service.FHIRBaseURL, logger)
}

func printSummary(summary *models.RunSummary) {
	fmt.Printf("\n")
	if summary.DryRun {
		fmt.Printf("Dry run complete (no resources were uploaded)\n")
	} else if summary.Clean() {
		fmt.Printf("✓ Run completed successfully\n")
	} else {
		fmt.Printf("✗ Run completed with failures\n")
	}
	fmt.Printf("  Run ID: %s\n", summary.RunID)
	fmt.Printf("  Duration: %s\n", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
	fmt.Printf("\n")

	fmt.Printf("Messages: %d processed, %d converted, %d failed\n",
		summary.MessagesProcessed, summary.MessagesSucceeded, summary.MessagesFailed)
	for _, format := range sortedFormatKeys(summary.MessagesByFormat) {
		fmt.Printf("  %s: %d\n", format, summary.MessagesByFormat[format])
	}
	fmt.Printf("\n")

	fmt.Printf("Resources: %d uploaded, %d failed, %d skipped\n",
		summary.ResourcesUploaded, summary.ResourcesFailed, summary.ResourcesSkipped)
	for _, resourceType := range sortedTypeKeys(summary.ByResourceType) {
		counts := summary.ByResourceType[resourceType]
		fmt.Printf("  %-20s uploaded: %-4d failed: %-4d skipped: %d\n",
			resourceType, counts.Uploaded, counts.Failed, counts.Skipped)
	}

	if len(summary.Errors) > 0 {
		fmt.Printf("\nErrors:\n")
		for _, record := range summary.Errors {
			fmt.Printf("  [%s] %s: %s", record.Scope, record.Ref, record.Kind)
			if record.Detail != "" {
				fmt.Printf(" (%s)", record.Detail)
			}
			fmt.Printf("\n")
		}
	}
}

func sortedFormatKeys(m map[models.FormatTag]int) []models.FormatTag {
	keys := make([]models.FormatTag, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedTypeKeys(m map[string]*models.ResourceTypeCounts) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
