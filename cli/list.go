package cli

import (
	"context"
	"fmt"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/spf13/cobra"

	"github.com/pixelsort/taskwatch/internals/reconciler"
	"github.com/pixelsort/taskwatch/internals/schemas"
	"github.com/pixelsort/taskwatch/internals/snapshot"
	"github.com/pixelsort/taskwatch/internals/timeouts"
)

type ListArgs struct {
	Status schemas.AnalysisStatus `zog:"status"`
	Search string                 `zog:"search"`
	Page   int                    `zog:"page"`
	Cached bool                   `zog:"cached"`
}

var listArgsSchema = z.Struct(z.Shape{
	"Status": z.StringLike[schemas.AnalysisStatus]().Optional().Trim().OneOf(schemas.AnalysisStatuses),
	"Search": z.String().Optional().Trim(),
	"Page":   z.Int().Default(1).GTE(1),
	"Cached": z.Bool().Optional(),
})

func validateListArgs(args *ListArgs) error {
	if issues := listArgsSchema.Validate(args); len(issues) > 0 {
		return fmt.Errorf("%w: invalid list flags:\n%s", schemas.ErrValidation, z.Issues.Prettify(issues))
	}
	return nil
}

func newListCmd(a *app) *cobra.Command {
	args := ListArgs{}
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List analysis tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args.Status = schemas.AnalysisStatus(status)
			if err := validateListArgs(&args); err != nil {
				return err
			}
			if args.Cached {
				return a.listCached(cmd, args)
			}
			return a.listLive(cmd, args)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show tasks with this status")
	cmd.Flags().StringVar(&args.Search, "search", "", "filter by filename, description or category")
	cmd.Flags().IntVar(&args.Page, "page", 1, "page to show")
	cmd.Flags().BoolVar(&args.Cached, "cached", false, "read the last snapshot instead of the backend")
	return cmd
}

func (a *app) listLive(cmd *cobra.Command, args ListArgs) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondDefault)
	defer cancel()

	rec := a.newReconciler(cmd)
	if err := rec.Load(ctx); err != nil {
		return err
	}
	a.saveSnapshot(ctx, rec)

	printView(cmd, rec, args)
	return nil
}

func (a *app) listCached(cmd *cobra.Command, args ListArgs) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondDefault)
	defer cancel()

	store, err := snapshot.Open(ctx, a.config.SnapshotPath())
	if err != nil {
		return err
	}
	defer store.Close()
	snap, err := store.Load(ctx)
	if err != nil {
		return err
	}

	filtered := reconciler.Filter(snap.Tasks, args.Search, args.Status)
	items, page := reconciler.Paginate(filtered, args.Page, a.config.Dashboard.PageSize)
	fmt.Fprintln(out(cmd), mutedStyle.Render("cached "+snap.SavedAt.Local().Format(time.DateTime)))
	printStats(out(cmd), snap.Stats)
	printTaskTable(out(cmd), reconciler.View{
		Items:    items,
		Filtered: len(filtered),
		Page:     page,
		Pages:    reconciler.PageCount(len(filtered), a.config.Dashboard.PageSize),
		PageSize: a.config.Dashboard.PageSize,
	})
	return nil
}

func printView(cmd *cobra.Command, rec *reconciler.Reconciler, args ListArgs) {
	rec.SetSearch(args.Search)
	rec.SetStatusFilter(args.Status)
	rec.SetPage(args.Page)
	view := rec.View()
	printStats(out(cmd), view.Stats)
	printTaskTable(out(cmd), view)
}

func (a *app) newReconciler(cmd *cobra.Command) *reconciler.Reconciler {
	return reconciler.New(a.client, reconciler.Options{
		PageSize: a.config.Dashboard.PageSize,
		Notifier: printNotifier{w: cmd.ErrOrStderr()},
		Logger:   a.logger,
	})
}

// saveSnapshot is best effort; a cache write never fails the command.
func (a *app) saveSnapshot(ctx context.Context, rec *reconciler.Reconciler) {
	store, err := snapshot.Open(ctx, a.config.SnapshotPath())
	if err != nil {
		a.logger.Warn("Failed to open snapshot cache", "error", err)
		return
	}
	defer store.Close()
	if err := store.Save(ctx, rec.Tasks(), rec.Stats(), time.Now()); err != nil {
		a.logger.Warn("Failed to save snapshot", "error", err)
	}
}
