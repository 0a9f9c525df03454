package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixelsort/taskwatch/internals/mockserver"
	"github.com/pixelsort/taskwatch/internals/schemas"
)

func newMockCmd(a *app) *cobra.Command {
	var addr string
	var step time.Duration
	var session string
	var seed int
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run an in-memory analysis backend for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server := mockserver.New(mockserver.Options{
				Session:      session,
				CookieName:   a.config.Server.SessionCookie,
				StepInterval: step,
				Logger:       a.logger,
			})
			server.Store.Seed(demoTasks(seed)...)
			fmt.Fprintf(out(cmd), "mock backend on http://%s/api (websocket %s)\n", addr, mockserver.WebSocketPath)
			return server.Run(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "listen address")
	cmd.Flags().DurationVar(&step, "step", 4*time.Second, "advance tasks every interval (0 disables)")
	cmd.Flags().StringVar(&session, "require-session", "", "reject requests without this session cookie value")
	cmd.Flags().IntVar(&seed, "seed", 8, "number of demo tasks to start with")
	return cmd
}

// demoTasks cycles through the statuses so every dashboard state is visible.
func demoTasks(n int) []schemas.AnalysisTask {
	models := []string{"llava:13b", "bakllava", mockserver.FailingModel}
	tasks := make([]schemas.AnalysisTask, 0, n)
	for i := 0; i < n; i++ {
		task := schemas.AnalysisTask{
			MediaID:  int64(100 + i),
			Filename: fmt.Sprintf("IMG_%04d.jpg", 100+i),
			Model:    models[i%len(models)],
			Status:   schemas.AnalysisStatusPending,
		}
		if i%4 == 1 {
			task.Status = schemas.AnalysisStatusProcessing
		}
		tasks = append(tasks, task)
	}
	return tasks
}
