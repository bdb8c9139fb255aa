package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/ternarybob/harvester/internal/common"
)

func runCommand() *cobra.Command {
	var (
		incremental bool
		force       bool
		concurrency int
		maxItems    int
		seedsFile   string
	)

	cmd := &cobra.Command{
		Use:   "run [seed-url...]",
		Short: "Run (or resume) a harvesting session",
		Long: `Run discovers items from the seed listings, processes the ones this node owns and
records every outcome. Running the same seeds again resumes an interrupted session.
Seeds come from arguments, --seeds-file, or the [crawler] seeds config, in that order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var overrides common.FlagOverrides
			if cmd.Flags().Changed("incremental") {
				overrides.Incremental = &incremental
			}
			if cmd.Flags().Changed("force") {
				overrides.Force = &force
			}
			if cmd.Flags().Changed("concurrency") {
				overrides.Concurrency = &concurrency
			}
			if cmd.Flags().Changed("max-items") {
				overrides.MaxItems = &maxItems
			}

			seeds, err := resolveSeeds(args, seedsFile)
			if err != nil {
				return err
			}

			application, logger, err := newApp(cmd, overrides, true)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			summary, err := application.RunSession(ctx, seeds)
			if summary != nil {
				renderSummary(cmd.OutOrStdout(), summary)
			}

			switch {
			case errors.Is(err, context.Canceled):
				logger.Warn().Msg("Interrupted; progress saved, run again with the same seeds to resume")
				return errInterrupted
			case err != nil:
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&incremental, "incremental", false, "skip items completed by any earlier session")
	flags.BoolVar(&force, "force", false, "discard this session's progress and start over")
	flags.IntVar(&concurrency, "concurrency", 1, "items processed in parallel")
	flags.IntVar(&maxItems, "max-items", 0, "stop after this many items (0 = unlimited)")
	flags.StringVar(&seedsFile, "seeds-file", "", "YAML file listing seed URLs")

	return cmd
}
