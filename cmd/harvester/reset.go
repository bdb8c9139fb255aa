package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/harvester/internal/common"
)

func resetCommand() *cobra.Command {
	var (
		seedsFile   string
		clearLedger bool
	)

	cmd := &cobra.Command{
		Use:   "reset [seed-url...]",
		Short: "Discard this node's progress for a session",
		Long: `Reset deletes the stored progress for the session identified by the seeds, so the next
run starts again from discovery. With --ledger the session's items are also removed from the
shared ledger and will be extracted again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := resolveSeeds(args, seedsFile)
			if err != nil {
				return err
			}

			application, _, err := newApp(cmd, common.FlagOverrides{}, false)
			if err != nil {
				return err
			}
			defer application.Close()

			sessionID, err := application.SessionID(seeds)
			if err != nil {
				return err
			}

			result, err := application.Coordinator.Clear(cmd.Context(), sessionID, clearLedger)
			if err != nil {
				return err
			}

			if !result.ProgressCleared {
				fmt.Fprintf(cmd.OutOrStdout(), "No progress stored for session %s\n", sessionID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared session %s (%d ledger items removed)\n", sessionID, result.LedgerKeysDeleted)
			return nil
		},
	}

	cmd.Flags().StringVar(&seedsFile, "seeds-file", "", "YAML file listing seed URLs")
	cmd.Flags().BoolVar(&clearLedger, "ledger", false, "also remove the session's items from the ledger")
	return cmd
}
