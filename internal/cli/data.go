package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export [destination]",
		Short: "Export all local data",
		Long: `Export all local data as one JSON document. Without a destination the
export is written to standard output. A destination is a file path, a
directory, or a gs://bucket/object URI.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				blob, err := app.Engine.ExportData(ctx)
				if err != nil {
					return err
				}
				if len(args) == 0 || args[0] == "-" {
					_, err := cmd.OutOrStdout().Write(append(blob, '\n'))
					return err
				}
				loc, err := app.Backups.Save(ctx, args[0], blob)
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).message("exported", "exported to "+loc, map[string]any{"location": loc})
			})
		},
	}
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <source>",
		Short: "Import data from an export",
		Long: `Import an export produced by "ledger export" from a file, a gs:// URI or
standard input ("-"). Only the collections present in the export are
overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				var (
					blob []byte
					err  error
				)
				if args[0] == "-" {
					blob, err = io.ReadAll(cmd.InOrStdin())
				} else {
					blob, err = app.Backups.Load(ctx, args[0])
				}
				if err != nil {
					return err
				}
				res, err := app.Engine.ImportData(ctx, blob)
				if err != nil {
					return err
				}
				p := newPrinter(rootOpts, cmd.OutOrStdout())
				if rootOpts.Format == "json" {
					return p.value(res)
				}
				return p.message("imported", "imported "+joinCollections(res.Collections), nil)
			})
		},
	}
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Merge the remote snapshot into local data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				res, err := app.Engine.PullAndMerge(ctx)
				if err != nil {
					return err
				}
				p := newPrinter(rootOpts, cmd.OutOrStdout())
				if rootOpts.Format == "json" {
					return p.value(res)
				}
				if !res.Found {
					return p.message("", "no remote snapshot", nil)
				}
				return p.message("", "merged "+joinCollections(res.Replaced), nil)
			})
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				out := map[string]any{"session": app.Engine.Status()}
				last, ok, err := app.Engine.LastSync(ctx)
				if err != nil {
					return err
				}
				if ok {
					out["lastSync"] = last
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).value(out)
			})
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all financial data on this device",
		Long: `Delete every collection on this device except settings, feature flags
and the PIN, then recreate the default Cash account. Remote data is not
touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "refusing to clear data without --yes")
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				if err := app.Engine.ClearData(ctx); err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).message("cleared", "local data cleared", nil)
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}

// NewFactoryResetCommand creates the factory-reset command.
func NewFactoryResetCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "factory-reset",
		Short: "Remove every ledger key on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "refusing to reset without --yes")
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				if err := app.Engine.FactoryReset(ctx); err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).message("reset", "factory reset complete", nil)
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}
