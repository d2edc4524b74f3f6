// Package cmd defines the sitewatch CLI.
//
// Architecture overview:
//   - Scheduler: internal/schedule ticks every watch.tick_ms, lists the registry and dispatches each due
//     resource to the checker on its own goroutine. An in-flight guard keeps one check per resource.
//   - Check pipeline: internal/worker fetches through the colly fetcher behind a per-host token bucket,
//     canonicalizes the body, fingerprints it and compares against the newest stored fingerprint.
//   - Persistence: every successful fetch is recorded and history is pruned to watch.retention records per
//     resource. Backends are memory, SQLite and Postgres.
//   - Fanout: changes are published on the event bus. SSE clients subscribe directly; sinks (log,
//     Prometheus, Pub/Sub, archive) receive batches.
//   - HTTP API: internal/api manages sites, serves history and content, and streams updates.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/config"
	"github.com/JakeFAU/sitewatch/internal/logging"
)

// runtimeKeyType is the key for storing the runtime in the command context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime carries the loaded configuration and logger to subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "sitewatch",
		Short: "Watches web resources and streams their changes.",
		Long: `sitewatch polls a registry of URLs on per-resource schedules, detects
meaningful content changes by fingerprinting a canonical form of each body,
keeps a short history per resource and pushes change events to live
subscribers.`,
		SilenceUsage: true,

		// Runs after flags are parsed but before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				File:        cfg.Logging.File,
				MaxSizeMB:   cfg.Logging.MaxSizeMB,
				MaxBackups:  cfg.Logging.MaxBackups,
				MaxAgeDays:  cfg.Logging.MaxAgeDays,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			ctx := context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := resolveRuntime(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env SITEWATCH_* overrides)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newInitDBCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newResetDBCmd())

	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	if ctx == nil {
		return nil, errors.New("command context not initialized")
	}
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "sitewatch: %v\n", err)
		os.Exit(1)
	}
}
