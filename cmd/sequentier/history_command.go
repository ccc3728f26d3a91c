package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"sequentier/internal/history"
	"sequentier/internal/queue"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var user string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished jobs from the history archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if limit < 0 {
				return errors.New("--limit must be zero or positive")
			}

			out := cmd.OutOrStdout()
			path := cfg.HistoryPath()
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintf(out, "No history yet (%s does not exist)\n", path)
				return nil
			}
			archive, err := history.Open(path)
			if err != nil {
				return err
			}
			defer archive.Close()

			entries, err := archive.List(cmd.Context(), history.Filter{User: user, Limit: limit})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No finished jobs recorded")
				return nil
			}
			fmt.Fprintln(out, renderHistoryTable(entries, shouldColorize(out)))
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Only show this user's jobs")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to show (default 50)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderHistoryTable(entries []history.Entry, colorize bool) string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			entry.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			entry.User,
			entry.RunID,
			entry.TargetApp,
			statusLabel(entry.Status, colorize),
			strconv.Itoa(entry.Files),
			strconv.Itoa(entry.FailedFiles),
			outputLabel(entry),
		})
	}
	return renderTable(
		[]string{"Finished", "User", "Run", "App", "Status", "Files", "Failed", "Output"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func outputLabel(entry history.Entry) string {
	if entry.OutputDirectory == "" {
		if entry.Status == queue.StatusFailed {
			return "(not created)"
		}
		return "-"
	}
	return entry.OutputDirectory
}
