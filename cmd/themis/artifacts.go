package main

import (
	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/themislabs/themis/internal/config"
)

var artifactsConfigPath string

var artifactsCmd = &cobra.Command{
	Use:   "artifacts <plan-id>",
	Short: "Print the artifacts produced by a plan's execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifacts,
}

func init() {
	artifactsCmd.Flags().StringVar(&artifactsConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runArtifacts(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.LoadOrDefault(goutils.Env("THEMIS_CONFIG", artifactsConfigPath))
	if err != nil {
		return err
	}
	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	artifacts, err := sc.Service.GetArtifacts(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(artifacts)
}
