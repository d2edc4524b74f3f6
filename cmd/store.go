package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/seed"
	"github.com/JakeFAU/sitewatch/internal/server"
	"github.com/JakeFAU/sitewatch/internal/watch"
)

// newInitDBCmd creates the 'initdb' subcommand. Opening a store applies its
// schema, so this is also a connectivity check.
func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Creates the registry and history tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(rt *runtime, _ watch.Store) error {
				rt.logger.Info("schema ready", zap.String("backend", rt.cfg.Storage.Backend))
				return nil
			})
		},
	}
}

// newSeedCmd creates the 'seed' subcommand, which adds seed resources that
// are not already registered.
func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Adds the configured seed resources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(rt *runtime, store watch.Store) error {
				resources, err := server.LoadSeeds(rt.cfg, rt.logger)
				if err != nil {
					return err
				}
				added, err := seed.Apply(cmd.Context(), store, resources, rt.logger.Named("seed"))
				if err != nil {
					return fmt.Errorf("seed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %d of %d resources\n", added, len(resources))
				return nil
			})
		},
	}
}

// newResetDBCmd creates the 'reset-db' subcommand, which drops all resources
// and history before reseeding.
func newResetDBCmd() *cobra.Command {
	var skipSeed bool
	cmd := &cobra.Command{
		Use:   "reset-db",
		Short: "Drops all resources and history, then reseeds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(rt *runtime, store watch.Store) error {
				if err := store.Reset(cmd.Context()); err != nil {
					return fmt.Errorf("reset: %w", err)
				}
				rt.logger.Warn("registry reset")
				if skipSeed {
					return nil
				}
				resources, err := server.LoadSeeds(rt.cfg, rt.logger)
				if err != nil {
					return err
				}
				added, err := seed.Apply(cmd.Context(), store, resources, rt.logger.Named("seed"))
				if err != nil {
					return fmt.Errorf("reseed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset complete, added %d resources\n", added)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&skipSeed, "no-seed", false, "leave the registry empty after the reset")
	return cmd
}

func withStore(cmd *cobra.Command, fn func(rt *runtime, store watch.Store) error) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	store, err := server.OpenStore(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			rt.logger.Warn("failed to close store", zap.Error(cerr))
		}
	}()
	return fn(rt, store)
}
