package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/coordinator"
)

func statusCommand() *cobra.Command {
	var (
		seedsFile string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "status [seed-url...]",
		Short: "Show ledger counts and this node's progress for a session",
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

			report, err := application.Coordinator.Status(cmd.Context(), sessionID)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			renderStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&seedsFile, "seeds-file", "", "YAML file listing seed URLs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func renderStatus(w io.Writer, report *coordinator.StatusReport) {
	ledger := table.NewWriter()
	ledger.SetOutputMirror(w)
	ledger.SetStyle(table.StyleLight)
	ledger.SetTitle("Ledger")
	ledger.AppendHeader(table.Row{"Status", "Items"})
	for _, status := range []models.ItemStatus{
		models.ItemStatusDiscovered,
		models.ItemStatusInProgress,
		models.ItemStatusCompleted,
		models.ItemStatusFailed,
	} {
		ledger.AppendRow(table.Row{status, report.Ledger.ByStatus[status]})
	}
	ledger.AppendFooter(table.Row{"Total", report.Ledger.Total})
	ledger.Render()

	if len(report.Ledger.ByNode) > 0 {
		nodes := make([]int, 0, len(report.Ledger.ByNode))
		for node := range report.Ledger.ByNode {
			nodes = append(nodes, node)
		}
		sort.Ints(nodes)

		byNode := table.NewWriter()
		byNode.SetOutputMirror(w)
		byNode.SetStyle(table.StyleLight)
		byNode.SetTitle("Items by owner node")
		byNode.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, WidthMin: 12},
			{Number: 2, WidthMin: 8},
		})
		byNode.AppendHeader(table.Row{"Node", "Items"})
		for _, node := range nodes {
			byNode.AppendRow(table.Row{node, report.Ledger.ByNode[node]})
		}
		byNode.Render()
	}

	if report.Progress == nil {
		fmt.Fprintf(w, "No progress recorded on this node for session %s\n", report.SessionID)
		return
	}

	p := report.Progress
	progress := table.NewWriter()
	progress.SetOutputMirror(w)
	progress.SetStyle(table.StyleLight)
	progress.SetTitle("Session " + p.SessionID)
	progress.AppendRows([]table.Row{
		{"Phase", p.Phase},
		{"Node", fmt.Sprintf("%d of %d", p.NodeID, p.TotalNodes)},
		{"Discovered", len(p.DiscoveredItems)},
		{"Cursor", p.Cursor},
		{"Completed", len(p.CompletedItems)},
		{"Failed", len(p.FailedItems)},
		{"Skipped", len(p.SkippedItems)},
		{"Remaining", len(p.Remaining())},
		{"Updated", p.UpdatedAt.Format("2006-01-02 15:04:05")},
	})
	progress.Render()
}

func renderSummary(w io.Writer, summary *models.SessionSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Session " + summary.SessionID)
	t.AppendRows([]table.Row{
		{"State", summary.State},
		{"Resumed", summary.Resumed},
		{"Discovered", summary.Discovered},
		{"Newly found", summary.NewlyFound},
		{"Completed", summary.Completed},
		{"Failed", summary.Failed},
		{"Skipped", summary.Skipped},
		{"Not owned", summary.NotOwned},
		{"Known", summary.Known},
		{"Remaining", summary.Remaining},
		{"Duration", summary.Duration().Round(time.Millisecond)},
	})
	if summary.Error != "" {
		t.AppendRow(table.Row{"Error", summary.Error})
	}
	t.Render()

	if len(summary.FailedItems) > 0 {
		keys := make([]string, 0, len(summary.FailedItems))
		for key := range summary.FailedItems {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		failed := table.NewWriter()
		failed.SetOutputMirror(w)
		failed.SetStyle(table.StyleLight)
		failed.AppendHeader(table.Row{"Failed item", "Error"})
		for _, key := range keys {
			failed.AppendRow(table.Row{key, summary.FailedItems[key]})
		}
		failed.Render()
	}
}
