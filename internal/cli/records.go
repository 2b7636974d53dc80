package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

func parseCollectionArg(name string) (domain.Collection, error) {
	c, err := domain.ParseCollection(name)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "unknown collection", err)
	}
	return c, nil
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "List the records of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCollectionArg(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				recs, err := app.Engine.List(ctx, c)
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).records(recs)
			})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCollectionArg(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				rec, err := app.Engine.Find(ctx, c, args[1])
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).value(rec)
			})
		},
	}
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "add <collection>",
		Short: "Add a record",
		Long: `Add a record to a collection. The record is given with --data as a JSON
object, "@file" or "-" for standard input. An id is generated unless the
record carries one.`,
		Example: `  ledger add transactions --data '{"amount":12.5,"type":"expense","category":"Food"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCollectionArg(args[0])
			if err != nil {
				return err
			}
			rec, err := parseObject(data, cmd.InOrStdin())
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --data", err)
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				added, err := app.Engine.Add(ctx, c, rec)
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).value(added)
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "{}", "record as JSON, @file or -")
	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "update <collection> <id>",
		Short: "Merge fields into a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCollectionArg(args[0])
			if err != nil {
				return err
			}
			patch, err := parseObject(data, cmd.InOrStdin())
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --data", err)
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				updated, err := app.Engine.Update(ctx, c, args[1], patch)
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).value(updated)
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "fields to merge as JSON, @file or -")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCollectionArg(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				existed, err := app.Engine.Delete(ctx, c, args[1])
				if err != nil {
					return err
				}
				text := "deleted " + args[1]
				if !existed {
					text = args[1] + " was not present locally"
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).message("deleted", text, map[string]any{"id": args[1], "existed": existed})
			})
		},
	}
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	var undo bool

	cmd := &cobra.Command{
		Use:   "reconcile <transaction-id>",
		Short: "Mark a transaction as reconciled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				rec, err := app.Engine.ReconcileTransaction(ctx, args[0], !undo)
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).value(rec)
			})
		},
	}

	cmd.Flags().BoolVar(&undo, "undo", false, "clear the reconciled flag instead")
	return cmd
}

// NewSettingsCommand creates the settings command.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	var set string

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change user settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch map[string]any
			if set != "" {
				p, err := parseObject(set, cmd.InOrStdin())
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --set", err)
				}
				patch = p
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				var (
					settings domain.Record
					err      error
				)
				if patch != nil {
					settings, err = app.Engine.UpdateSettings(ctx, patch)
				} else {
					settings, err = app.Engine.Settings(ctx)
				}
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).value(settings)
			})
		},
	}

	cmd.Flags().StringVar(&set, "set", "", "fields to merge as JSON, @file or -")
	return cmd
}

// NewBudgetsCommand creates the budgets command.
func NewBudgetsCommand(rootOpts *RootOptions) *cobra.Command {
	var set string

	cmd := &cobra.Command{
		Use:   "budgets",
		Short: "Show or replace the category budgets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var budgets map[string]any
			if set != "" {
				b, err := parseObject(set, cmd.InOrStdin())
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --set", err)
				}
				budgets = b
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				var (
					out map[string]any
					err error
				)
				if budgets != nil {
					out, err = app.Engine.SaveBudgets(ctx, budgets)
				} else {
					out, err = app.Engine.Budgets(ctx)
				}
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).value(out)
			})
		},
	}

	cmd.Flags().StringVar(&set, "set", "", "complete budget map as JSON, @file or -")
	return cmd
}
