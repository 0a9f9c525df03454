package cli

import (
	"github.com/spf13/cobra"

	"github.com/pixelsort/taskwatch/internals/backoff"
	"github.com/pixelsort/taskwatch/internals/connstatus"
	"github.com/pixelsort/taskwatch/internals/reconciler"
	"github.com/pixelsort/taskwatch/internals/snapshot"
	"github.com/pixelsort/taskwatch/internals/watcher"
	"github.com/pixelsort/taskwatch/tui"
)

func newWatchCmd(a *app) *cobra.Command {
	var noLive bool
	cmd := &cobra.Command{
		Use:         "watch",
		Short:       "Live dashboard of analysis tasks",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationQuiet: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, notices, closeStore, err := a.newWatcher(cmd, !noLive)
			if err != nil {
				return err
			}
			defer closeStore()
			return tui.Run(cmd.Context(), w, notices)
		},
	}
	cmd.Flags().BoolVar(&noLive, "no-live", false, "poll only, without the websocket")
	return cmd
}

// newWatcher wires the watcher to the configured backend, websocket and
// snapshot cache. The returned func closes the cache.
func (a *app) newWatcher(cmd *cobra.Command, live bool) (*watcher.Watcher, *reconciler.Recorder, func(), error) {
	notices := &reconciler.Recorder{}
	opts := watcher.Options{
		Interval: a.config.PollInterval(),
		PageSize: a.config.Dashboard.PageSize,
		Status:   connstatus.New(nil, a.config.NoticeCooldown()),
		Notifier: notices,
		Logger:   a.logger,
	}
	if live && a.config.WebSocket.Enabled {
		wsURL, err := a.client.WebSocketURL(a.config.WebSocket.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		opts.WebSocketURL = wsURL
		opts.Header = a.client.AuthHeader()
		opts.Heartbeat = a.config.Heartbeat()
		opts.MaxAttempts = a.config.WebSocket.MaxAttempts
		opts.Backoff = backoff.Exponential(backoff.Config{
			Base:   a.config.ReconnectBase(),
			Max:    a.config.ReconnectMax(),
			Factor: 2,
		})
	}

	closeStore := func() {}
	store, err := snapshot.Open(cmd.Context(), a.config.SnapshotPath())
	if err != nil {
		a.logger.Warn("Snapshot cache disabled", "error", err)
	} else {
		opts.Snapshots = store
		closeStore = func() { _ = store.Close() }
	}

	return watcher.New(a.client, opts), notices, closeStore, nil
}
