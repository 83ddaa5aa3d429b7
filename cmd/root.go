/*
Copyright © 2025 Hermes Contributors

Hermes is a CLI tool for converting clinical messages to FHIR and loading
them into a remote FHIR store.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hermes",
	Short: "Hermes - clinical message convert-and-load pipeline",
	Long: `Hermes converts discrete clinical messages (HL7v2, C-CDA, JSON) into FHIR
resources using a remote $convert-data service and loads the resulting
resource graph into a FHIR store.

Uploads are ordered by resource dependencies: a resource is never submitted
before the resources it references have completed their upload attempt.
Failures in one message or one resource never abort the whole run - the run
always completes with an accurate summary of what succeeded and what did not.

Example:
  hermes run ./messages
  hermes run ./messages --patient-id PAT001 --dry-run
  hermes run ./messages --output-dir ./converted

For more information, visit: https://github.com/trobanga/hermes`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Local .env carries FHIR_URL and client credentials in dev setups
	_ = godotenv.Load()

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./hermes.yaml, ~/.config/hermes/hermes.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.SetVersionTemplate("Hermes version {{.Version}}\n")
}
