package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"sequentier/internal/api"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var targetApp string
	var user string
	var runID string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "enqueue <file>",
		Short: "Submit a file to a running daemon",
		Long:  "Append a file to the batch identified by --user, --run, and --app. Omitting --run starts a new batch with a generated run id.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(targetApp) == "" {
				return errors.New("--app is required")
			}
			if strings.TrimSpace(user) == "" {
				return errors.New("--user is required")
			}
			path, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve file path: %w", err)
			}

			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			resp, err := client.Enqueue(cmd.Context(), api.EnqueueRequest{
				Path:      path,
				TargetApp: targetApp,
				User:      user,
				RunID:     runID,
			})
			if err != nil {
				cfg, _ := ctx.ensureConfig()
				return wrapClientError(err, cfg.API.Bind)
			}

			job := resp.Job
			if resp.Warning != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", resp.Warning)
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queued %s\n", path)
			fmt.Fprintf(out, "Job:    %s\n", job.ID)
			fmt.Fprintf(out, "Run:    %s\n", job.RunID)
			fmt.Fprintf(out, "Status: %s (%d file(s))\n", job.Status, len(job.Files))
			return nil
		},
	}

	cmd.Flags().StringVar(&targetApp, "app", "", "Target application (a Mapping key)")
	cmd.Flags().StringVar(&user, "user", "", "User the batch belongs to")
	cmd.Flags().StringVar(&runID, "run", "", "Run id of an existing batch to append to")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
