// Themis is a multi-agent orchestration service for legal document workflows.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "themis",
	Short: "Multi-agent orchestration for legal document workflows",
	Long: `Themis coordinates specialized agents (facts, doctrine, strategy, drafter)
through a phased legal workflow: intake, issue framing, research, analysis,
and drafting. Each phase gates on exit signals so a draft is never produced
from an unverified record.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, planCmd, executeCmd, artifactsCmd, mcpCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
