// Package cli is the taskwatch command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pixelsort/taskwatch/internals/conf"
	"github.com/pixelsort/taskwatch/internals/env"
	"github.com/pixelsort/taskwatch/internals/logging"
	"github.com/pixelsort/taskwatch/internals/schemas"
	"github.com/pixelsort/taskwatch/internals/version"
	"github.com/pixelsort/taskwatch/sdk"
)

// annotationQuiet marks commands that own the terminal; their logs go only
// to the log file.
const annotationQuiet = "taskwatch/quiet"

type rootFlags struct {
	baseURL string
	session string
	dataDir string
	verbose bool
}

// app is the per-invocation state shared by subcommands.
type app struct {
	flags   rootFlags
	config  *conf.Config
	logger  *slog.Logger
	logFile *os.File
	client  *sdk.Client
	session string
	quiet   bool
}

func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, schemas.ErrValidation) {
			return 2
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "taskwatch",
		Short:         "Watch and manage media analysis tasks",
		Version:       version.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.quiet = cmd.Annotations[annotationQuiet] == "true"
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.flags.baseURL, "base-url", "", "API base URL (overrides config and TASKWATCH_BASE_URL)")
	flags.StringVar(&a.flags.session, "session", "", "session cookie value (overrides TASKWATCH_SESSION)")
	flags.StringVar(&a.flags.dataDir, "data-dir", "", "directory for config, logs and the snapshot cache")
	flags.BoolVarP(&a.flags.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		newListCmd(a),
		newStatsCmd(a),
		newRetryCmd(a),
		newCancelCmd(a),
		newSubmitCmd(a),
		newWatchCmd(a),
		newMockCmd(a),
	)
	return cmd
}

func (a *app) setup() error {
	var config *conf.Config
	if a.flags.dataDir != "" {
		loaded, err := conf.Load(a.flags.dataDir)
		if err != nil {
			return err
		}
		config = loaded
	} else {
		config = conf.GetConfig()
	}
	if a.flags.baseURL != "" {
		config.Server.BaseURL = a.flags.baseURL
	}
	a.config = config

	level := slog.LevelWarn
	if a.flags.verbose {
		level = slog.LevelDebug
	}
	logger, logFile, err := logging.Init(config, logging.Options{Quiet: a.quiet, Level: level})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	a.logger = logger
	a.logFile = logFile

	a.session = a.flags.session
	if a.session == "" {
		a.session = env.Get().SESSION
	}
	a.client = sdk.NewClient(
		sdk.WithBaseURL(config.Server.BaseURL),
		sdk.WithSessionCookie(config.Server.SessionCookie, a.session),
	)
	return nil
}

func (a *app) close() {
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
