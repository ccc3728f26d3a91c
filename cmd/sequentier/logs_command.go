package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sequentier/internal/logging"
	"sequentier/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var user string
	var runID string
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the run log of a batch",
		Long:  "Print the trailing lines of the run log written for --run under the user's queue directory. With --follow, keep printing lines as the batch progresses.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(user) == "" || strings.TrimSpace(runID) == "" {
				return errors.New("--user and --run are required")
			}
			userCfg, err := ctx.userConfig(user)
			if err != nil {
				return err
			}
			path := logging.RunLogPath(userCfg.QueueDirectory, runID)

			tail, offset, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				if len(tail) == 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "No log lines in %s\n", path)
				}
				return nil
			}
			return logs.Follow(cmd.Context(), path, offset, 250*time.Millisecond, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User the batch belongs to")
	cmd.Flags().StringVar(&runID, "run", "", "Run id of the batch")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	return cmd
}
