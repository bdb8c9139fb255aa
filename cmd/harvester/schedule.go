package main

import (
	"github.com/spf13/cobra"

	"github.com/ternarybob/harvester/internal/common"
)

func scheduleCommand() *cobra.Command {
	var (
		cronExpr   string
		runOnStart bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run incremental sessions over the configured seeds on a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			incremental := true
			application, logger, err := newApp(cmd, common.FlagOverrides{Incremental: &incremental}, true)
			if err != nil {
				return err
			}
			defer application.Close()

			if cmd.Flags().Changed("cron") {
				if err := common.ValidateSchedule(cronExpr); err != nil {
					return err
				}
				application.Config.Schedule.Cron = cronExpr
			}
			if cmd.Flags().Changed("run-on-start") {
				application.Config.Schedule.RunOnStart = runOnStart
			}

			if err := application.StartScheduler(); err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			logger.Info().
				Str("cron", application.Config.Schedule.Cron).
				Msg("Scheduler running - press Ctrl+C to stop")
			<-ctx.Done()

			logger.Info().Msg("Shutting down scheduler")
			return nil
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", "5-field cron expression (overrides [schedule] cron)")
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "start a session immediately")
	return cmd
}
