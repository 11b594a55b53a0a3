// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ollama/edgefuse/envconfig"
	"github.com/ollama/edgefuse/logutil"
)

// Version wird beim Build per -ldflags gesetzt
var Version = "0.0.0"

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "edgefuse",
		Short:         "Multimodal fusion engine for edge inference",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
			slog.Debug("edgefuse config", "env", envconfig.Values())
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				fmt.Fprintf(cmd.OutOrStdout(), "edgefuse version is %s\n", Version)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	// Commands erstellen
	inspectCmd := newInspectCmd()
	runCmd := newRunCmd()
	quantizeCmd := newQuantizeCmd()
	benchCmd := newBenchCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{
		envVars["EDGEFUSE_DEBUG"],
		envVars["EDGEFUSE_MODELS"],
		envVars["EDGEFUSE_WEIGHTS"],
		envVars["EDGEFUSE_SIMD"],
		envVars["EDGEFUSE_QUANTIZE"],
		envVars["EDGEFUSE_POOL_LIMIT"],
	}

	for _, cmd := range []*cobra.Command{inspectCmd, runCmd, quantizeCmd, benchCmd} {
		switch cmd {
		case benchCmd:
			appendEnvDocs(cmd, append(envs, envVars["EDGEFUSE_NUM_PARALLEL"]))
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(inspectCmd, runCmd, quantizeCmd, benchCmd)

	return rootCmd
}
