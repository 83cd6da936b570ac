package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/pflag"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.Search.Since != "10 years ago" {
		t.Errorf("Search.Since = %q, want %q", cfg.Search.Since, "10 years ago")
	}
	if !cfg.Search.Recursive {
		t.Error("recursion should be enabled by default")
	}
	if cfg.Search.IgnoreCase {
		t.Error("matching should be case-sensitive by default")
	}
	if len(cfg.Search.Branches) != 0 {
		t.Errorf("Search.Branches = %v, want all refs", cfg.Search.Branches)
	}
	if cfg.Workers.Jobs < 1 {
		t.Errorf("Workers.Jobs = %d, want >= 1", cfg.Workers.Jobs)
	}
	if cfg.Backend.Kind != "git" {
		t.Errorf("Backend.Kind = %q, want git", cfg.Backend.Kind)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad version", func(c *Config) { c.Version = 99 }, "version"},
		{"zero jobs", func(c *Config) { c.Workers.Jobs = 0 }, "workers.jobs"},
		{"empty since", func(c *Config) { c.Search.Since = "  " }, "search.since"},
		{"unknown backend", func(c *Config) { c.Backend.Kind = "hg" }, "backend.kind"},
		{"negative timeout", func(c *Config) { c.Backend.TimeoutMs = -1 }, "backend.timeoutMs"},
		{"negative in-flight", func(c *Config) { c.Backend.MaxInFlight = -2 }, "backend.maxInFlight"},
		{"negative qps", func(c *Config) { c.Backend.QueriesPerSecond = -0.5 }, "backend.queriesPerSecond"},
		{"unknown format", func(c *Config) { c.Output.Format = "xml" }, "output.format"},
		{"unknown color", func(c *Config) { c.Output.Color = "sometimes" }, "output.color"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			cfgErr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("Validate() = %v (%T), want *ConfigError", err, err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.wantField)
			}
		})
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{Field: "workers.jobs", Message: "must be at least 1"}
	want := "config error in field 'workers.jobs': must be at least 1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestLoadConfig_Default(t *testing.T) {
	cfg, err := LoadConfig(LoadOptions{RepoRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if diff := cmp.Diff(DefaultConfig(), cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("LoadConfig() without file mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	formats := map[string]string{
		"json": `{"version": 1, "search": {"since": "2 years ago", "branches": ["master", "stable"]}, "workers": {"jobs": 3}}`,
		"yaml": "version: 1\nsearch:\n  since: 2 years ago\n  branches: [master, stable]\nworkers:\n  jobs: 3\n",
		"toml": "version = 1\n[search]\nsince = \"2 years ago\"\nbranches = [\"master\", \"stable\"]\n[workers]\njobs = 3\n",
	}

	for ext, content := range formats {
		t.Run(ext, func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, DirName)
			if err := os.MkdirAll(dir, 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dir, "config."+ext), []byte(content), 0644); err != nil {
				t.Fatal(err)
			}

			cfg, err := LoadConfig(LoadOptions{RepoRoot: root})
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}

			if cfg.Search.Since != "2 years ago" {
				t.Errorf("Search.Since = %q, want %q", cfg.Search.Since, "2 years ago")
			}
			if diff := cmp.Diff([]string{"master", "stable"}, cfg.Search.Branches); diff != "" {
				t.Errorf("Search.Branches mismatch (-want +got):\n%s", diff)
			}
			if cfg.Workers.Jobs != 3 {
				t.Errorf("Workers.Jobs = %d, want 3", cfg.Workers.Jobs)
			}
			// Untouched keys keep their defaults
			if !cfg.Search.Recursive {
				t.Error("Search.Recursive should default to true")
			}
			if cfg.Output.Format != "text" {
				t.Errorf("Output.Format = %q, want text", cfg.Output.Format)
			}
		})
	}
}

func TestLoadConfig_ExplicitFileMissing(t *testing.T) {
	_, err := LoadConfig(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "fixhunt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(LoadOptions{ConfigFile: path}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("FIXHUNT_SEARCH_SINCE", "2015-01-01")
	t.Setenv("FIXHUNT_BACKEND_KIND", "gogit")
	t.Setenv("FIXHUNT_WORKERS_JOBS", "7")

	cfg, err := LoadConfig(LoadOptions{RepoRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Search.Since != "2015-01-01" {
		t.Errorf("Search.Since = %q, want env override", cfg.Search.Since)
	}
	if cfg.Backend.Kind != "gogit" {
		t.Errorf("Backend.Kind = %q, want env override", cfg.Backend.Kind)
	}
	if cfg.Workers.Jobs != 7 {
		t.Errorf("Workers.Jobs = %d, want 7", cfg.Workers.Jobs)
	}
}

func TestLoadConfig_FlagsWin(t *testing.T) {
	t.Setenv("FIXHUNT_SEARCH_SINCE", "2015-01-01")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringP("since", "s", "10 years ago", "")
	flags.StringArrayP("branch", "b", nil, "")
	flags.IntP("jobs", "j", 1, "")
	if err := flags.Parse([]string{"--since", "1 year ago", "-b", "linux-6.1.y", "-b", "master"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(LoadOptions{RepoRoot: t.TempDir(), Flags: flags})
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Search.Since != "1 year ago" {
		t.Errorf("Search.Since = %q, want flag value", cfg.Search.Since)
	}
	if diff := cmp.Diff([]string{"linux-6.1.y", "master"}, cfg.Search.Branches); diff != "" {
		t.Errorf("Search.Branches mismatch (-want +got):\n%s", diff)
	}
	// Unchanged flag must not clobber the default
	if cfg.Workers.Jobs != DefaultConfig().Workers.Jobs {
		t.Errorf("Workers.Jobs = %d, want default %d", cfg.Workers.Jobs, DefaultConfig().Workers.Jobs)
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	for _, ext := range []string{"json", "yaml", "toml"} {
		t.Run(ext, func(t *testing.T) {
			root := t.TempDir()
			path := filepath.Join(root, DirName, "config."+ext)

			cfg := DefaultConfig()
			cfg.Search.Branches = []string{"master"}
			cfg.Search.IgnoreCase = true
			cfg.Backend.QueriesPerSecond = 2.5
			if err := cfg.Save(path); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			loaded, err := LoadConfig(LoadOptions{RepoRoot: root})
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if diff := cmp.Diff(cfg, loaded, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfig_Encode(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		format string
		want   string
	}{
		{"json", `"since": "10 years ago"`},
		{"yaml", "since: 10 years ago"},
		{"toml", `since = "10 years ago"`},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := cfg.Encode(&buf, tt.format); err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("Encode(%s) = %s, want to contain %q", tt.format, buf.String(), tt.want)
			}
		})
	}

	if err := cfg.Encode(&bytes.Buffer{}, "ini"); err == nil {
		t.Error("expected error for unknown format")
	}
}
