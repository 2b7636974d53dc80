package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/offline-ledger/internal/archive"
	"github.com/dvloznov/offline-ledger/internal/backup"
	"github.com/dvloznov/offline-ledger/internal/config"
	"github.com/dvloznov/offline-ledger/internal/domain"
	"github.com/dvloznov/offline-ledger/internal/engine"
	"github.com/dvloznov/offline-ledger/internal/localstore"
	"github.com/dvloznov/offline-ledger/internal/logger"
	"github.com/dvloznov/offline-ledger/internal/remote"
)

const shutdownTimeout = 30 * time.Second

// Archiver is the transaction archive used by the archive command.
type Archiver interface {
	EnsureTable(ctx context.Context) error
	Archive(ctx context.Context, userID string, records []domain.Record) (archive.Result, error)
	QueryByDateRange(ctx context.Context, userID string, start, end time.Time) ([]*archive.Row, error)
	Close() error
}

// App is everything one command invocation needs.
type App struct {
	Config      *config.Config
	Engine      *engine.Engine
	Backups     *backup.Manager
	Log         zerolog.Logger
	OpenArchive func(ctx context.Context) (Archiver, error)

	close func(ctx context.Context) error
}

// Close releases the engine and any cloud clients. Pending replication and
// the pending snapshot push are flushed first.
func (a *App) Close() error {
	if a.close == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.close(ctx)
}

// AppOpener builds the App for one invocation.
type AppOpener func(ctx context.Context, opts *RootOptions) (*App, error)

func defaultConfigPath() string {
	if v := os.Getenv("LEDGER_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledger.yaml"
	}
	return filepath.Join(home, ".config", "ledger", "config.yaml")
}

func openApp(ctx context.Context, opts *RootOptions) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	log := logger.NewWithLevel(cfg.Logging.Level)
	if opts.Verbose {
		log = log.Level(zerolog.DebugLevel)
	}
	if cfg.DeviceID != "" {
		log = logger.WithFields(log, map[string]interface{}{"device_id": cfg.DeviceID})
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	backend, err := localstore.NewSQLiteBackend(cfg.Storage.Path, log)
	if err != nil {
		return nil, err
	}

	var store remote.Store
	if cfg.RemoteEnabled() {
		fs, err := remote.NewFirestoreStore(ctx, cfg.Remote.ProjectID, cfg.Remote.DatabaseID, log)
		if err != nil {
			// Local data stays usable without the remote store.
			log.Warn().Err(err).Msg("remote store unavailable, running offline")
		} else {
			store = fs
		}
	}

	eng, err := engine.New(engine.Options{
		Local:         localstore.New(backend),
		Remote:        store,
		SnapshotDelay: cfg.Sync.SnapshotDebounce,
		Logger:        log,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}
	if cfg.UserID != "" {
		if err := eng.Open(ctx, cfg.UserID); err != nil {
			log.Warn().Err(err).Str("user_id", cfg.UserID).Msg("remote session not started")
		}
	}

	backups := backup.NewManager(func(ctx context.Context) (backup.ObjectStore, error) {
		s, err := backup.NewGCSStore(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, cfg.Backup.Bucket, log)

	app := &App{
		Config:  cfg,
		Engine:  eng,
		Backups: backups,
		Log:     log,
		OpenArchive: func(ctx context.Context) (Archiver, error) {
			a, err := archive.NewArchiver(ctx, cfg.Archive.ProjectID, cfg.Archive.Dataset, log)
			if err != nil {
				return nil, err
			}
			return a, nil
		},
	}
	app.close = func(ctx context.Context) error {
		if err := backups.Close(); err != nil {
			log.Warn().Err(err).Msg("closing backup storage")
		}
		return eng.Shutdown(ctx)
	}
	return app, nil
}

// withApp opens the App, runs fn and closes the App.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := opts.open(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening ledger", err)
	}
	runErr := fn(ctx, app)
	if err := app.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
