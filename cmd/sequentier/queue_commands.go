package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sequentier/internal/api"
	"sequentier/internal/queue"
)

const dateFlagLayout = "2006-01-02"

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect per-user queues",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var user string
	var date string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's jobs from the day's record file",
		Long:  "Read the record file for --user directly from disk, so it works whether or not the daemon is running.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(user) == "" {
				return errors.New("--user is required")
			}
			day := time.Now()
			if strings.TrimSpace(date) != "" {
				parsed, err := time.ParseInLocation(dateFlagLayout, strings.TrimSpace(date), time.Local)
				if err != nil {
					return fmt.Errorf("invalid --date %q (want YYYY-MM-DD)", date)
				}
				day = parsed
			}

			userCfg, err := ctx.userConfig(user)
			if err != nil {
				return err
			}
			path := queue.RecordPath(userCfg.QueueDirectory, day)
			jobs, err := queue.ReadRecord(path)
			if err != nil {
				return fmt.Errorf("read queue record %s: %w", path, err)
			}

			if jsonOutput {
				return writeJSON(cmd, api.FromJobs(jobs))
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintf(out, "No jobs in %s\n", path)
				return nil
			}
			fmt.Fprintln(out, renderQueueTable(jobs, shouldColorize(out)))
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User whose queue to list")
	cmd.Flags().StringVar(&date, "date", "", "Day of the record file (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderQueueTable(jobs []queue.Job, colorize bool) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		counts := job.Counts()
		done := counts[queue.StatusCompleted] + counts[queue.StatusFailed]
		rows = append(rows, []string{
			job.RunID,
			job.TargetApp,
			statusLabel(job.Status, colorize),
			fmt.Sprintf("%d/%d", done, len(job.Files)),
			strconv.Itoa(counts[queue.StatusFailed]),
			strconv.Itoa(job.RetryCount),
			formatClock(&job.CreatedAt),
			formatClock(job.FinishedAt),
		})
	}
	return renderTable(
		[]string{"Run", "App", "Status", "Files", "Failed", "Retries", "Created", "Finished"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
	)
}

func formatClock(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("15:04:05")
}
