package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
output_path: /tmp/out
sync_interval: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AnonymizeLabel != "Busy" {
		t.Errorf("AnonymizeLabel = %q", cfg.AnonymizeLabel)
	}
	if cfg.ExpiryWarnDays != 7 {
		t.Errorf("ExpiryWarnDays = %d", cfg.ExpiryWarnDays)
	}
	if cfg.Timeout != 10 {
		t.Errorf("Timeout = %d", cfg.Timeout)
	}
	if cfg.SyncInterval != 0 {
		t.Errorf("SyncInterval = %d, want 0 (single cycle)", cfg.SyncInterval)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CAL_OUT", "/srv/calendars")
	path := writeConfig(t, `
output_path: ${CAL_OUT}
filename: merged.ics
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutputPath != "/srv/calendars" {
		t.Errorf("OutputPath = %q", cfg.OutputPath)
	}
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing output_path", "sync_interval: 60\n"},
		{"negative retries", "output_path: /tmp/out\nretries: -1\n"},
		{"bad timezone", "output_path: /tmp/out\ntimezone: Mars/Olympus\n"},
		{"bad log level", "output_path: /tmp/out\nlog_level: loud\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 15
	cfg.Delay = 3
	cfg.SyncInterval = 300

	if cfg.FetchTimeout() != 15*time.Second {
		t.Errorf("FetchTimeout = %s", cfg.FetchTimeout())
	}
	if cfg.FetchDelay() != 3*time.Second {
		t.Errorf("FetchDelay = %s", cfg.FetchDelay())
	}
	if cfg.Interval() != 5*time.Minute {
		t.Errorf("Interval = %s", cfg.Interval())
	}
}

func TestLocationDefaultsToLocal(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Location() != time.Local {
		t.Errorf("Location = %v, want local", cfg.Location())
	}
	cfg.Timezone = "Europe/Berlin"
	if cfg.Location().String() != "Europe/Berlin" {
		t.Errorf("Location = %v", cfg.Location())
	}
}
