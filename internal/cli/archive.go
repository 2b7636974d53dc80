package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

const dateFormat = "2006-01-02"

// NewArchiveCommand creates the archive command and its query subcommand.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	var ensure bool

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Append local transactions to the BigQuery archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				userID, err := archiveUser(app)
				if err != nil {
					return err
				}
				a, err := app.OpenArchive(ctx)
				if err != nil {
					return err
				}
				defer a.Close()

				if ensure {
					if err := a.EnsureTable(ctx); err != nil {
						return err
					}
				}
				txs, err := app.Engine.List(ctx, domain.Transactions)
				if err != nil {
					return err
				}
				res, err := a.Archive(ctx, userID, txs)
				if err != nil {
					return err
				}
				p := newPrinter(rootOpts, cmd.OutOrStdout())
				if rootOpts.Format == "json" {
					return p.value(res)
				}
				return p.message("", fmt.Sprintf("archived %d transactions, rejected %d", res.Archived, len(res.Rejected)), nil)
			})
		},
	}
	cmd.Flags().BoolVar(&ensure, "ensure-table", false, "create the archive table if it does not exist")

	cmd.AddCommand(newArchiveQueryCommand(rootOpts))
	return cmd
}

func newArchiveQueryCommand(rootOpts *RootOptions) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List archived transactions in a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseRange(from, to, time.Now())
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid date range", err)
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				userID, err := archiveUser(app)
				if err != nil {
					return err
				}
				a, err := app.OpenArchive(ctx)
				if err != nil {
					return err
				}
				defer a.Close()

				rows, err := a.QueryByDateRange(ctx, userID, start, end)
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).value(rows)
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "start date YYYY-MM-DD (default: one year ago)")
	cmd.Flags().StringVar(&to, "to", "", "end date YYYY-MM-DD (default: today)")
	return cmd
}

func archiveUser(app *App) (string, error) {
	if app.Config == nil || app.Config.UserID == "" {
		return "", NewExitError(ExitCommandError, "archive needs user_id in the config or LEDGER_USER_ID")
	}
	return app.Config.UserID, nil
}

// parseRange defaults to the year up to now.
func parseRange(from, to string, now time.Time) (start, end time.Time, err error) {
	start, end = now.AddDate(-1, 0, 0), now
	if from != "" {
		if start, err = time.Parse(dateFormat, from); err != nil {
			return start, end, fmt.Errorf("--from: %w", err)
		}
	}
	if to != "" {
		if end, err = time.Parse(dateFormat, to); err != nil {
			return start, end, fmt.Errorf("--to: %w", err)
		}
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("--to %s is before --from %s", end.Format(dateFormat), start.Format(dateFormat))
	}
	return start, end, nil
}
