// Package cli holds the pmcmirror cobra commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"PMCMirror/internal/app"
	"PMCMirror/internal/config"
	"PMCMirror/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// RootCmd returns the pmcmirror command tree.
func RootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pmcmirror",
		Short: "Mirror the PMC open-access corpus into Bronze, Silver and Gold layers",
		Long: `pmcmirror reads the PMC manifest listings, fetches new or changed files from
the bulk object store (falling back to FTP when it is unhealthy) and writes raw
captures, normalized records and analytics rows to the configured store.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (default $PMC_MIRROR_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(runCmd(opts))
	cmd.AddCommand(replayCmd(opts))
	cmd.AddCommand(discoverCmd(opts))
	return cmd
}

func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	var (
		cfg config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadPath(o.configPath)
		if err != nil {
			return cfg, nil, err
		}
	} else {
		cfg = config.Load()
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, logging.New(cfg.Logging), nil
}

// withApp builds the application for the lifetime of one command.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.Application, logger *slog.Logger) error) error {
	cfg, logger, err := o.load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	go func() {
		if err := application.ServeMetrics(ctx); err != nil {
			logger.Error("metrics endpoint stopped", "error", err)
		}
	}()

	if err := fn(ctx, application, logger); err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return nil
}
