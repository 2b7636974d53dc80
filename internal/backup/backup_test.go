package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockObjectStore is a mock implementation of ObjectStore for testing.
type mockObjectStore struct {
	UploadFunc   func(ctx context.Context, bucket, object string, data []byte) error
	DownloadFunc func(ctx context.Context, bucket, object string) ([]byte, error)
	closed       bool
}

func (m *mockObjectStore) Upload(ctx context.Context, bucket, object string, data []byte) error {
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, bucket, object, data)
	}
	return nil
}

func (m *mockObjectStore) Download(ctx context.Context, bucket, object string) ([]byte, error) {
	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, bucket, object)
	}
	return nil, nil
}

func (m *mockObjectStore) Close() error {
	m.closed = true
	return nil
}

func newManager(store ObjectStore, bucket string) *Manager {
	var open ObjectOpener
	if store != nil {
		open = func(ctx context.Context) (ObjectStore, error) { return store, nil }
	}
	m := NewManager(open, bucket, zerolog.New(io.Discard))
	m.now = func() time.Time { return time.Date(2026, 7, 1, 8, 30, 0, 0, time.UTC) }
	return m
}

func TestManager_FileRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newManager(nil, "")
	dest := filepath.Join(t.TempDir(), "nested", "export.json")

	loc, err := m.Save(ctx, dest, []byte(`{"version":1}`))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if loc != dest {
		t.Errorf("location = %q, want %q", loc, dest)
	}

	data, err := m.Load(ctx, dest)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != `{"version":1}` {
		t.Errorf("Load = %q", data)
	}
}

func TestManager_SaveIntoDirectory(t *testing.T) {
	dir := t.TempDir()
	m := newManager(nil, "")

	loc, err := m.Save(context.Background(), dir, []byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "ledger-export-20260701T083000Z.json")
	if loc != want {
		t.Errorf("location = %q, want %q", loc, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("file not written: %v", err)
	}
}

func TestManager_GCS(t *testing.T) {
	tests := []struct {
		name       string
		dest       string
		bucket     string
		wantBucket string
		wantObject string
	}{
		{name: "explicit object", dest: "gs://bkt/exports/a.json", wantBucket: "bkt", wantObject: "exports/a.json"},
		{name: "bucket only", dest: "gs://bkt", wantBucket: "bkt", wantObject: "ledger-export-20260701T083000Z.json"},
		{name: "folder", dest: "gs://bkt/daily/", wantBucket: "bkt", wantObject: "daily/ledger-export-20260701T083000Z.json"},
		{name: "default bucket", dest: "gs://", bucket: "fallback", wantBucket: "fallback", wantObject: "ledger-export-20260701T083000Z.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBucket, gotObject string
			store := &mockObjectStore{UploadFunc: func(ctx context.Context, bucket, object string, data []byte) error {
				gotBucket, gotObject = bucket, object
				return nil
			}}
			m := newManager(store, tt.bucket)

			loc, err := m.Save(context.Background(), tt.dest, []byte("{}"))
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			if gotBucket != tt.wantBucket || gotObject != tt.wantObject {
				t.Errorf("uploaded to %s/%s, want %s/%s", gotBucket, gotObject, tt.wantBucket, tt.wantObject)
			}
			if loc != "gs://"+tt.wantBucket+"/"+tt.wantObject {
				t.Errorf("location = %q", loc)
			}
			if err := m.Close(); err != nil || !store.closed {
				t.Errorf("Close = %v, closed = %v", err, store.closed)
			}
		})
	}
}

func TestManager_GCSErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := newManager(nil, "").Save(ctx, "gs://bkt/x.json", nil); err == nil {
		t.Error("Save to gs:// without an object store succeeded")
	}
	if _, err := newManager(&mockObjectStore{}, "").Save(ctx, "gs://", nil); err == nil {
		t.Error("Save without any bucket succeeded")
	}
	if _, err := newManager(&mockObjectStore{}, "bkt").Load(ctx, "gs://bkt"); err == nil {
		t.Error("Load without an object name succeeded")
	}

	boom := errors.New("forbidden")
	store := &mockObjectStore{DownloadFunc: func(ctx context.Context, bucket, object string) ([]byte, error) {
		return nil, boom
	}}
	if _, err := newManager(store, "").Load(ctx, "gs://bkt/x.json"); !errors.Is(err, boom) {
		t.Errorf("Load error = %v, want %v", err, boom)
	}
}

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{uri: "gs://my-bucket/path/to/file.json", wantBucket: "my-bucket", wantObject: "path/to/file.json"},
		{uri: "gs://my-bucket", wantBucket: "my-bucket"},
		{uri: "s3://bucket/file", wantErr: true},
		{uri: "/local/file", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGCSURI error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("got %q/%q, want %q/%q", bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}
