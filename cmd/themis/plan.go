package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/themislabs/themis/internal/config"
	"github.com/themislabs/themis/internal/matter"
)

var (
	planConfigPath string
	planMatterFile string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build a workflow plan for a matter (reads JSON from --matter or stdin)",
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	planCmd.Flags().StringVar(&planMatterFile, "matter", "", "path to the matter JSON file (default: stdin)")
}

func runPlan(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.LoadOrDefault(goutils.Env("THEMIS_CONFIG", planConfigPath))
	if err != nil {
		return err
	}
	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	m, err := readMatter(planMatterFile)
	if err != nil {
		return err
	}

	plan, err := sc.Service.Plan(cmd.Context(), m)
	if err != nil {
		return err
	}
	return printJSON(plan)
}

// readMatter reads a matter JSON document from a file, or stdin when
// path is empty.
func readMatter(path string) (matter.Matter, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading matter: %w", err)
	}

	var m matter.Matter
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing matter JSON: %w", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("matter is empty")
	}
	return m, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
