package main

import (
	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/themislabs/themis/internal/config"
	"github.com/themislabs/themis/internal/gateway/mcpsrv"
)

var mcpConfigPath string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the orchestrator as an MCP server on stdio",
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runMCP(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.LoadOrDefault(goutils.Env("THEMIS_CONFIG", mcpConfigPath))
	if err != nil {
		return err
	}
	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	return mcpsrv.New(sc.Service, version, logger).ServeStdio()
}
