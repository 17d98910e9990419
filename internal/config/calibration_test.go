package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadServiceConfig(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		contents string
		wantErr  string
	}{
		{
			name:     "full config",
			file:     "cal.json",
			contents: `{"listen": ":9090", "database_path": "/tmp/c.db", "units": "celsius", "limit_to_range": true, "capture_port": "/dev/ttyUSB0", "capture_baud": 9600, "capture_table": "bench"}`,
		},
		{
			name:     "partial config keeps defaults",
			file:     "cal.json",
			contents: `{"units": "percent"}`,
		},
		{
			name:     "empty object",
			file:     "cal.json",
			contents: `{}`,
		},
		{
			name:     "wrong extension",
			file:     "cal.yaml",
			contents: `{}`,
			wantErr:  ".json extension",
		},
		{
			name:     "malformed JSON",
			file:     "cal.json",
			contents: `{"listen": `,
			wantErr:  "parse config JSON",
		},
		{
			name:     "empty listen rejected",
			file:     "cal.json",
			contents: `{"listen": ""}`,
			wantErr:  "listen must not be empty",
		},
		{
			name:     "negative baud rejected",
			file:     "cal.json",
			contents: `{"capture_port": "/dev/ttyUSB0", "capture_baud": -1}`,
			wantErr:  "capture_baud must be positive",
		},
		{
			name:     "capture table without port rejected",
			file:     "cal.json",
			contents: `{"capture_table": "bench"}`,
			wantErr:  "capture_port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.file, tt.contents)
			cfg, err := LoadServiceConfig(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("LoadServiceConfig() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadServiceConfig() failed: %v", err)
			}
			if cfg == nil {
				t.Fatal("LoadServiceConfig() returned nil config")
			}
		})
	}
}

func TestLoadServiceConfig_MissingFile(t *testing.T) {
	if _, err := LoadServiceConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("LoadServiceConfig() succeeded on a missing file")
	}
}

func TestServiceConfig_Defaults(t *testing.T) {
	cfg := EmptyServiceConfig()

	if got := cfg.GetListen(); got != ":8080" {
		t.Errorf("GetListen() = %q, want :8080", got)
	}
	if got := cfg.GetDatabasePath(); got != "calibration.db" {
		t.Errorf("GetDatabasePath() = %q, want calibration.db", got)
	}
	if got := cfg.GetUnits(); got != "raw" {
		t.Errorf("GetUnits() = %q, want raw", got)
	}
	if cfg.GetLimitToRange() {
		t.Error("GetLimitToRange() = true, want false (extrapolate by default)")
	}
	if got := cfg.GetCapturePort(); got != "" {
		t.Errorf("GetCapturePort() = %q, want empty (capture off)", got)
	}
	if got := cfg.GetCaptureBaud(); got != 115200 {
		t.Errorf("GetCaptureBaud() = %d, want 115200", got)
	}
	if got := cfg.GetCaptureTable(); got != "capture" {
		t.Errorf("GetCaptureTable() = %q, want capture", got)
	}
}

func TestServiceConfig_Overrides(t *testing.T) {
	path := writeConfigFile(t, "cal.json",
		`{"listen": ":9191", "units": "mps", "limit_to_range": true, "capture_port": "/dev/ttyACM0"}`)
	cfg, err := LoadServiceConfig(path)
	if err != nil {
		t.Fatalf("LoadServiceConfig() failed: %v", err)
	}

	if got := cfg.GetListen(); got != ":9191" {
		t.Errorf("GetListen() = %q, want :9191", got)
	}
	if got := cfg.GetUnits(); got != "mps" {
		t.Errorf("GetUnits() = %q, want mps", got)
	}
	if !cfg.GetLimitToRange() {
		t.Error("GetLimitToRange() = false, want true")
	}
	if got := cfg.GetCapturePort(); got != "/dev/ttyACM0" {
		t.Errorf("GetCapturePort() = %q, want /dev/ttyACM0", got)
	}
	// Untouched fields still default
	if got := cfg.GetCaptureBaud(); got != 115200 {
		t.Errorf("GetCaptureBaud() = %d, want 115200", got)
	}
}
