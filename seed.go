package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSeedCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the schema, register data sources and upsert the configured universe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, g)
		},
	}
}

func runSeed(cmd *cobra.Command, g *globalFlags) error {
	ctx := cmd.Context()

	a, err := setup(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.EnsureSchema(ctx); err != nil {
		return err
	}

	for _, ds := range a.dataSources() {
		stored, err := a.sources.Ensure(ctx, ds)
		if err != nil {
			return fmt.Errorf("failed to register data source %s: %w", ds.Name, err)
		}
		a.log.Debug().Str("source", stored.Name).Str("id", stored.ID.String()).Msg("data source registered")
	}

	n, err := a.instruments.BulkUpsert(ctx, a.cfg.Universe)
	if err != nil {
		return fmt.Errorf("failed to seed instruments: %w", err)
	}

	total, err := a.instruments.Count(ctx)
	if err != nil {
		return err
	}
	sectors, err := a.instruments.Sectors(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Data sources: %d\n", len(a.dataSources()))
	fmt.Fprintf(out, "Instruments upserted: %d (stored: %d)\n", n, total)
	if len(sectors) > 0 {
		fmt.Fprintf(out, "Sectors: %s\n", strings.Join(sectors, ", "))
	}
	return nil
}
