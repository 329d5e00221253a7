package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RELAYSWITCH_DATA_DIR", dir)

	cfg := Load()
	if cfg.Backend != BackendFile {
		t.Errorf("Backend = %q, want file", cfg.Backend)
	}
	if want := filepath.Join(dir, ConfigFileName); cfg.ConfigFile != want {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, want)
	}
	if want := filepath.Join(dir, "node_history.json"); cfg.HistoryFile != want {
		t.Errorf("HistoryFile = %q, want %q", cfg.HistoryFile, want)
	}
	if cfg.PruneInterval != 24*time.Hour {
		t.Errorf("PruneInterval = %v, want 24h", cfg.PruneInterval)
	}
	if !cfg.APIEnabled || cfg.TrustProxy {
		t.Errorf("APIEnabled = %v, TrustProxy = %v", cfg.APIEnabled, cfg.TrustProxy)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RELAYSWITCH_DATA_DIR", t.TempDir())
	t.Setenv("RELAYSWITCH_HISTORY_BACKEND", "Badger")
	t.Setenv("RELAYSWITCH_ALLOWED_CIDRS", `"10.0.0.0/8", 127.0.0.1/32`)
	t.Setenv("RELAYSWITCH_REDIS_DB", "3")

	cfg := Load()
	if cfg.Backend != BackendBadger {
		t.Errorf("Backend = %q, want badger", cfg.Backend)
	}
	if len(cfg.AllowedCIDRS) != 2 || cfg.AllowedCIDRS[0] != "10.0.0.0/8" {
		t.Errorf("AllowedCIDRS = %v", cfg.AllowedCIDRS)
	}
	if cfg.RedisDB != 3 {
		t.Errorf("RedisDB = %d, want 3", cfg.RedisDB)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("RELAYSWITCH_HISTORY_BACKEND", "sqlite")
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Load() should have panicked")
		}
	}()
	Load()
}

func TestDataDir(t *testing.T) {
	env := func(vars map[string]string) func(string) string {
		return func(k string) string { return vars[k] }
	}
	home := filepath.Join("home", "me")

	tests := []struct {
		name   string
		goos   string
		vars   map[string]string
		expect string
	}{
		{"linux default", "linux", nil, filepath.Join(home, ".local", "share", AppName)},
		{"linux xdg", "linux", map[string]string{"XDG_DATA_HOME": "/data"}, filepath.Join("/data", AppName)},
		{"darwin", "darwin", nil, filepath.Join(home, "Library", "Application Support", AppName)},
		{"windows appdata", "windows", map[string]string{"APPDATA": `C:\Users\me\AppData\Roaming`}, filepath.Join(`C:\Users\me\AppData\Roaming`, AppName)},
		{"windows no appdata", "windows", nil, filepath.Join(home, AppName)},
		{"other", "plan9", nil, filepath.Join(home, "."+AppName)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dataDir(tt.goos, env(tt.vars), home); got != tt.expect {
				t.Errorf("dataDir() = %q, want %q", got, tt.expect)
			}
		})
	}
}

func TestMustDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{
			name:     "valid duration",
			key:      "TEST_DURATION",
			value:    "5s",
			def:      1 * time.Second,
			expected: 5 * time.Second,
		},
		{
			name:     "invalid duration uses default",
			key:      "TEST_DURATION_INVALID",
			value:    "invalid",
			def:      10 * time.Second,
			expected: 10 * time.Second,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_DURATION_MISSING",
			value:    "",
			def:      15 * time.Second,
			expected: 15 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			result := mustDuration(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustDuration() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMustBool(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      bool
		expected bool
	}{
		{"true value", "true", false, true},
		{"false value", "false", true, false},
		{"invalid value uses default", "invalid", true, true},
		{"missing variable uses default", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			if result := mustBool("TEST_BOOL", tt.def); result != tt.expected {
				t.Errorf("mustBool() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestGetenvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_INVALID", "not_a_number")

	if got := getenvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getenvInt() = %d, want 42", got)
	}
	if got := getenvInt("TEST_INT_INVALID", 7); got != 7 {
		t.Errorf("getenvInt() = %d, want default 7", got)
	}
}

func TestParseTasks(t *testing.T) {
	tf, err := ParseTasks(Template())
	if err != nil {
		t.Fatalf("ParseTasks(Template()) error = %v", err)
	}
	if tf.Clash.Controller != DefaultController || tf.Clash.HTTPProxy != DefaultHTTPProxy {
		t.Errorf("clash = %+v", tf.Clash)
	}
	if tf.Monitoring.Interval() != 30*time.Second || tf.Monitoring.VerifyCount != 3 {
		t.Errorf("monitoring = %+v", tf.Monitoring)
	}
	if len(tf.Tasks) != 2 || !tf.Tasks[0].IsEnabled() || tf.Tasks[1].IsEnabled() {
		t.Errorf("tasks = %+v", tf.Tasks)
	}
}

func TestParseTasksJSONAndDefaults(t *testing.T) {
	t.Setenv("TEST_CLASH_SECRET", "s3cr3t")
	data := []byte(`{
  "clash": {"controller": "http://10.0.0.1:9090", "secret": "${TEST_CLASH_SECRET}"},
  "monitoring": {"interval_sec": 2.5},
  "tasks": [{"name": "gm", "proxy_group_name": "Gemini", "service_name": "gemini"}]
}`)

	tf, err := ParseTasks(data)
	if err != nil {
		t.Fatalf("ParseTasks() error = %v", err)
	}
	if tf.Clash.Secret != "s3cr3t" {
		t.Errorf("Secret = %q, want expanded value", tf.Clash.Secret)
	}
	if tf.Clash.HTTPProxy != DefaultHTTPProxy {
		t.Errorf("HTTPProxy = %q, want default", tf.Clash.HTTPProxy)
	}
	if tf.Monitoring.Interval() != 2500*time.Millisecond {
		t.Errorf("Interval() = %v", tf.Monitoring.Interval())
	}
	if !tf.Tasks[0].IsEnabled() {
		t.Error("omitted enabled should default to true")
	}
}

func TestParseTasksErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"empty", ``, "empty"},
		{"bad yaml", "tasks: [", "parse"},
		{"unknown field", "tasks: []\nfoo: 1\n", "foo"},
		{"no tasks", "clash: {}\n", "no task configured"},
		{"missing fields", "tasks:\n  - name: a\n", "proxy_group_name is required"},
		{"duplicate", "tasks:\n  - {name: a, proxy_group_name: g, service_name: s}\n  - {name: a, proxy_group_name: g, service_name: s}\n", "duplicate"},
		{"negative rotations", "monitoring: {max_rotations: -1}\ntasks:\n  - {name: a, proxy_group_name: g, service_name: s}\n", "max_rotations"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTasks([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseTasks() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ConfigFileName)

	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("WriteTemplate() error = %v", err)
	}
	if _, err := LoadTasks(path); err != nil {
		t.Fatalf("LoadTasks() error = %v", err)
	}
	if err := WriteTemplate(path, false); !errors.Is(err, ErrExists) {
		t.Errorf("second WriteTemplate() error = %v, want ErrExists", err)
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Errorf("forced WriteTemplate() error = %v", err)
	}
	if _, err := LoadTasks(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadTasks() on a missing file should fail")
	}
}
