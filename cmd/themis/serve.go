package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/themislabs/themis/internal/config"
	"github.com/themislabs/themis/internal/gateway/httpapi"
	"github.com/themislabs/themis/internal/state"
)

var (
	serveConfigPath string
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API gateway",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `themis --config path` and `themis serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts Themis in gateway mode.
func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.LoadOrDefault(goutils.Env("THEMIS_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Retention janitor.
	if cfg.Retention != nil {
		janitor, err := state.NewJanitor(sc.Store, state.RetentionConfig{
			Schedule: cfg.Retention.Schedule,
			MaxAge:   cfg.Retention.MaxAge(),
			KeepMin:  cfg.Retention.KeepMin,
		}, logger)
		if err != nil {
			return err
		}
		cancel := janitor.Start(ctx)
		defer cancel()
	}

	apiKeys := map[string]string{}
	if cfg.Server.APIKey != "" {
		apiKeys[cfg.Server.APIKey] = "default"
	}

	gw := httpapi.NewGateway(httpapi.Config{
		ListenAddr:       cfg.Server.ListenAddr(),
		EnableDocs:       true,
		APIKeys:          apiKeys,
		PlanPerMinute:    cfg.Server.RateLimits.PlanPerMinute(),
		ExecutePerMinute: cfg.Server.RateLimits.ExecutePerMinute(),
		ReadPerMinute:    cfg.Server.RateLimits.ReadPerMinute(),
		MetricsRegistry:  sc.Metrics,
	}, sc.Service, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return gw.Stop(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
