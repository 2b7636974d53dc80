// Package backup persists export blobs to a local file or to Cloud Storage
// and reads them back for import.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"
)

// ObjectOpener creates the ObjectStore on first gs:// use.
type ObjectOpener func(ctx context.Context) (ObjectStore, error)

// Manager routes backups by destination: gs:// URIs go to the object store,
// everything else is a local file path.
type Manager struct {
	open          ObjectOpener
	defaultBucket string
	log           zerolog.Logger
	now           func() time.Time

	mu      sync.Mutex
	objects ObjectStore
}

// NewManager creates a Manager. defaultBucket is used for a bare "gs://"
// destination. open may be nil when only files are needed.
func NewManager(open ObjectOpener, defaultBucket string, log zerolog.Logger) *Manager {
	return &Manager{
		open:          open,
		defaultBucket: defaultBucket,
		log:           log.With().Str("component", "backup").Logger(),
		now:           time.Now,
	}
}

// ObjectName is the default name for an export taken at t.
func ObjectName(t time.Time) string {
	return "ledger-export-" + t.UTC().Format("20060102T150405Z") + ".json"
}

// Save writes data to dest and returns the resolved location. A directory or
// a bucket without an object name gets ObjectName appended.
func (m *Manager) Save(ctx context.Context, dest string, data []byte) (string, error) {
	if IsGCSURI(dest) {
		bucket, object, err := m.resolveGCS(dest)
		if err != nil {
			return "", fmt.Errorf("Save: %w", err)
		}
		if object == "" || strings.HasSuffix(object, "/") {
			object += ObjectName(m.now())
		}
		store, err := m.objectStore(ctx)
		if err != nil {
			return "", fmt.Errorf("Save: %w", err)
		}
		if err := store.Upload(ctx, bucket, object, data); err != nil {
			return "", fmt.Errorf("Save: %w", err)
		}
		loc := "gs://" + bucket + "/" + object
		m.log.Info().Str("location", loc).Int("bytes", len(data)).Msg("backup uploaded")
		return loc, nil
	}

	path := dest
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		path = filepath.Join(dest, ObjectName(m.now()))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("Save: creating directory: %w", err)
		}
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("Save: writing %s: %w", path, err)
	}
	m.log.Info().Str("location", path).Int("bytes", len(data)).Msg("backup written")
	return path, nil
}

// Load reads a backup from a file path or a gs:// URI.
func (m *Manager) Load(ctx context.Context, src string) ([]byte, error) {
	if IsGCSURI(src) {
		bucket, object, err := m.resolveGCS(src)
		if err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		if object == "" {
			return nil, fmt.Errorf("Load: %s names no object", src)
		}
		store, err := m.objectStore(ctx)
		if err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		data, err := store.Download(ctx, bucket, object)
		if err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return data, nil
}

// Close releases the object store if one was opened.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		return nil
	}
	err := m.objects.Close()
	m.objects = nil
	return err
}

func (m *Manager) resolveGCS(uri string) (bucket, object string, err error) {
	bucket, object, err = ParseGCSURI(uri)
	if err != nil {
		return "", "", err
	}
	if bucket == "" {
		bucket = m.defaultBucket
	}
	if bucket == "" {
		return "", "", fmt.Errorf("no bucket in %q and no default bucket configured", uri)
	}
	return bucket, object, nil
}

func (m *Manager) objectStore(ctx context.Context) (ObjectStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.objects != nil {
		return m.objects, nil
	}
	if m.open == nil {
		return nil, fmt.Errorf("cloud storage is not configured")
	}
	store, err := m.open(ctx)
	if err != nil {
		return nil, err
	}
	m.objects = store
	return store, nil
}
