package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/harvester/internal/app"
	"github.com/ternarybob/harvester/internal/common"
)

func extractCommand() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "extract <course-url>",
		Short: "Extract a single course page",
		Long: `Extract fetches one course page, parses it and writes the JSON file under the
download directory. No session is started and the ledger is left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd, common.FlagOverrides{})
			if err != nil {
				return err
			}
			logger := common.InitLogger(config, config.Coordinator.NodeID)

			extraction, err := app.NewExtraction(config, logger)
			if err != nil {
				return err
			}
			defer extraction.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			content, path, err := extraction.ExtractCourse(ctx, args[0], subject)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Extracted %q\nOutput saved to %s\n", content.Title, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", app.DefaultSingleSubject, "subject directory for the output file")
	return cmd
}
