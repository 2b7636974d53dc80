package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print local change notifications as they happen",
		Long: `Keep the session open and print a line for every change applied to local
data, including changes that arrive from other devices. Stops on interrupt
or after --count events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				ch, _ := app.Engine.Events().Subscribe(ctx)
				p := newPrinter(rootOpts, cmd.OutOrStdout())
				if !app.Engine.Online() {
					app.Log.Warn().Msg("no remote session; only local changes will be shown")
				}

				seen := 0
				for {
					select {
					case <-ctx.Done():
						return nil
					case ev, ok := <-ch:
						if !ok {
							return nil
						}
						var err error
						if rootOpts.Format == "json" {
							err = p.value(ev)
						} else {
							_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", ev.At.Format(time.RFC3339), ev.Kind, ev.Collection)
						}
						if err != nil {
							return err
						}
						seen++
						if count > 0 && seen >= count {
							return nil
						}
					}
				}
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many events (0 = run until interrupted)")
	return cmd
}

func joinCollections(cs []domain.Collection) string {
	if len(cs) == 0 {
		return "nothing"
	}
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
