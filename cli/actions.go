package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pixelsort/taskwatch/internals/schemas"
	"github.com/pixelsort/taskwatch/internals/timeouts"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondDefault)
			defer cancel()
			stats, err := a.client.Stats(ctx)
			if err != nil {
				return err
			}
			printStats(out(cmd), *stats)
			return nil
		},
	}
}

func newRetryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Re-run an analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAction(cmd, args[0], "retry")
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued or running analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAction(cmd, args[0], "cancel")
		},
	}
}

// runAction loads the list so the action goes through the same optimistic
// path as the dashboard, then prints the confirmed record.
func (a *app) runAction(cmd *cobra.Command, rawID string, action string) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondLong)
	defer cancel()

	rec := a.newReconciler(cmd)
	if err := rec.Load(ctx); err != nil {
		return err
	}
	switch action {
	case "retry":
		err = rec.Retry(ctx, id)
	case "cancel":
		err = rec.Cancel(ctx, id)
	}
	if err != nil {
		return err
	}
	if task, ok := rec.Task(id); ok {
		printTask(out(cmd), &task)
	}
	return nil
}

func newSubmitCmd(a *app) *cobra.Command {
	request := schemas.SubmitRequest{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a new analysis for a media item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := schemas.ValidateSubmitRequest(&request); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondDefault)
			defer cancel()
			task, err := a.client.SubmitAnalysis(ctx, request)
			if err != nil {
				return err
			}
			printTask(out(cmd), task)
			return nil
		},
	}
	cmd.Flags().Int64Var(&request.MediaID, "media", 0, "media id to analyze")
	cmd.Flags().StringVar(&request.Model, "model", "", "model to run")
	cmd.Flags().StringVar(&request.Prompt, "prompt", "", "optional prompt override")
	_ = cmd.MarkFlagRequired("media")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid analysis id %q", schemas.ErrValidation, raw)
	}
	return id, nil
}
