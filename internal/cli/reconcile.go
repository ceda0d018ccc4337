package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/db"
)

func buildReconcileCommand(load func() (*config.Config, error)) *cobra.Command {
	var markFailed bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "List jobs left printing by a previous run",
		Long: `List jobs recorded as printing with no worker to finish them. With --fail
they are marked failed. Run only while the server is stopped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			database, err := db.Open(db.Config{Path: cfg.Database.Path})
			if err != nil {
				return err
			}
			store := db.NewStore(database)
			defer store.Close()

			return reconcile(cmd.Context(), store, markFailed, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&markFailed, "fail", false, "mark orphaned jobs failed")
	return cmd
}

func reconcile(ctx context.Context, store core.JobStore, markFailed bool, out io.Writer) error {
	orphans, err := core.ReconcileOrphans(ctx, store, markFailed)
	if err != nil {
		return err
	}

	if len(orphans) == 0 {
		fmt.Fprintln(out, "No orphaned jobs.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tUSER\tFILE\tPAPERS\tSTATUS\tCREATED")
	for _, j := range orphans {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\t%s\n",
			j.ID, j.UserID, j.Filename, j.Papers, j.Status, j.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if markFailed {
		fmt.Fprintf(out, "%d job(s) marked failed.\n", len(orphans))
	} else {
		fmt.Fprintf(out, "%d job(s) still printing. Re-run with --fail to mark them failed.\n", len(orphans))
	}
	return nil
}
