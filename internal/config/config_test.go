package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvUserID, EnvStoragePath, EnvProjectID, EnvAPIToken} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_LEDGER_PROJECT", "my-project")

	path := writeConfig(t, `
user_id: alice
device_id: phone
storage:
  path: /tmp/ledger-test.db
remote:
  enabled: true
  project_id: ${TEST_LEDGER_PROJECT}
sync:
  snapshot_debounce: 500ms
backup:
  bucket: ledger-backups
archive:
  dataset: ledger
server:
  addr: ":9090"
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.UserID != "alice" || cfg.DeviceID != "phone" {
		t.Errorf("identity = %q/%q", cfg.UserID, cfg.DeviceID)
	}
	if cfg.Remote.ProjectID != "my-project" {
		t.Errorf("project_id = %q, want env-expanded value", cfg.Remote.ProjectID)
	}
	if cfg.Sync.SnapshotDebounce != 500*time.Millisecond {
		t.Errorf("snapshot_debounce = %v", cfg.Sync.SnapshotDebounce)
	}
	if cfg.Storage.Path != "/tmp/ledger-test.db" || cfg.Server.Addr != ":9090" || cfg.Logging.Level != "debug" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !cfg.RemoteEnabled() {
		t.Error("RemoteEnabled = false")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.SnapshotDebounce != DefaultSnapshotDebounce {
		t.Errorf("debounce = %v", cfg.Sync.SnapshotDebounce)
	}
	if !strings.HasSuffix(cfg.Storage.Path, "ledger.db") {
		t.Errorf("storage path = %q", cfg.Storage.Path)
	}
	if cfg.RemoteEnabled() {
		t.Error("remote enabled by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvUserID, "bob")
	t.Setenv(EnvStoragePath, "/data/bob.db")
	t.Setenv(EnvProjectID, "env-project")
	t.Setenv(EnvAPIToken, "tok")

	path := writeConfig(t, "user_id: alice\nremote:\n  enabled: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UserID != "bob" || cfg.Storage.Path != "/data/bob.db" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Remote.ProjectID != "env-project" || cfg.Archive.ProjectID != "env-project" {
		t.Errorf("project ids = %q/%q", cfg.Remote.ProjectID, cfg.Archive.ProjectID)
	}
	if cfg.Server.Token != "tok" {
		t.Errorf("server token = %q, want tok", cfg.Server.Token)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "bad yaml", content: "user_id: [", want: "parsing config file"},
		{name: "bad duration", content: "sync:\n  snapshot_debounce: soon\n", want: "snapshot_debounce"},
		{name: "remote without project", content: "remote:\n  enabled: true\n", want: "remote.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("LEDGER_TEST_A", "x")
	got := expandEnvVars("a=${LEDGER_TEST_A} b=${LEDGER_TEST_UNSET_VAR}")
	if got != "a=x b=" {
		t.Errorf("expandEnvVars = %q", got)
	}
}
