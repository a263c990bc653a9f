package main

import (
	"fmt"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/themislabs/themis/internal/config"
	"github.com/themislabs/themis/internal/matter"
	"github.com/themislabs/themis/internal/orchestrator"
)

var (
	executeConfigPath string
	executeMatterFile string
)

var executeCmd = &cobra.Command{
	Use:   "execute <plan-id>",
	Short: "Execute a stored plan and print the execution record",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecute,
}

func init() {
	executeCmd.Flags().StringVar(&executeConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	executeCmd.Flags().StringVar(&executeMatterFile, "matter", "", "path to an overlay matter JSON file (optional)")
}

func runExecute(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.LoadOrDefault(goutils.Env("THEMIS_CONFIG", executeConfigPath))
	if err != nil {
		return err
	}
	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	var overlay matter.Matter
	if executeMatterFile != "" {
		overlay, err = readMatter(executeMatterFile)
		if err != nil {
			return err
		}
	}

	rec, err := sc.Service.Execute(cmd.Context(), args[0], overlay)
	if err != nil && rec == nil {
		return err
	}
	if err := printJSON(rec); err != nil {
		return err
	}
	if rec.Status == orchestrator.StatusFailed {
		return fmt.Errorf("execution failed: %s", rec.Error)
	}
	return nil
}
