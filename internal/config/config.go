package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// DirName is the per-repository directory holding config.{json,yaml,toml}.
const DirName = ".fixhunt"

// EnvPrefix prefixes environment overrides, e.g. FIXHUNT_SEARCH_SINCE.
const EnvPrefix = "FIXHUNT"

// Config represents the complete fixhunt configuration
type Config struct {
	Version int `json:"version" mapstructure:"version" yaml:"version" toml:"version"`

	Search  SearchConfig  `json:"search" mapstructure:"search" yaml:"search" toml:"search"`
	Workers WorkersConfig `json:"workers" mapstructure:"workers" yaml:"workers" toml:"workers"`
	Backend BackendConfig `json:"backend" mapstructure:"backend" yaml:"backend" toml:"backend"`
	Output  OutputConfig  `json:"output" mapstructure:"output" yaml:"output" toml:"output"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging" yaml:"logging" toml:"logging"`
	Store   StoreConfig   `json:"store" mapstructure:"store" yaml:"store" toml:"store"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics" yaml:"metrics" toml:"metrics"`
}

// SearchConfig controls the scope of every history query
type SearchConfig struct {
	Branches   []string `json:"branches" mapstructure:"branches" yaml:"branches" toml:"branches"`
	Since      string   `json:"since" mapstructure:"since" yaml:"since" toml:"since"`
	IgnoreCase bool     `json:"ignoreCase" mapstructure:"ignoreCase" yaml:"ignoreCase" toml:"ignoreCase"`
	Recursive  bool     `json:"recursive" mapstructure:"recursive" yaml:"recursive" toml:"recursive"`
}

// WorkersConfig sizes the traversal worker pool
type WorkersConfig struct {
	Jobs int `json:"jobs" mapstructure:"jobs" yaml:"jobs" toml:"jobs"`
}

// BackendConfig selects and tunes the history backend
type BackendConfig struct {
	Kind             string  `json:"kind" mapstructure:"kind" yaml:"kind" toml:"kind"`
	GitBinary        string  `json:"gitBinary" mapstructure:"gitBinary" yaml:"gitBinary" toml:"gitBinary"`
	TimeoutMs        int     `json:"timeoutMs" mapstructure:"timeoutMs" yaml:"timeoutMs" toml:"timeoutMs"`
	MaxInFlight      int     `json:"maxInFlight" mapstructure:"maxInFlight" yaml:"maxInFlight" toml:"maxInFlight"`
	QueriesPerSecond float64 `json:"queriesPerSecond" mapstructure:"queriesPerSecond" yaml:"queriesPerSecond" toml:"queriesPerSecond"`
}

// OutputConfig controls how events are rendered
type OutputConfig struct {
	Format string `json:"format" mapstructure:"format" yaml:"format" toml:"format"`
	Color  string `json:"color" mapstructure:"color" yaml:"color" toml:"color"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level" yaml:"level" toml:"level"`
	File  string `json:"file,omitempty" mapstructure:"file" yaml:"file,omitempty" toml:"file,omitempty"`
}

// StoreConfig points at the optional run history database
type StoreConfig struct {
	Path string `json:"path,omitempty" mapstructure:"path" yaml:"path,omitempty" toml:"path,omitempty"`
}

// MetricsConfig controls the Prometheus textfile export
type MetricsConfig struct {
	TextfilePath string `json:"textfilePath,omitempty" mapstructure:"textfilePath" yaml:"textfilePath,omitempty" toml:"textfilePath,omitempty"`
}

// Valid enumerations
var (
	BackendKinds  = []string{"git", "gogit"}
	OutputFormats = []string{"text", "json", "yaml"}
	ColorModes    = []string{"auto", "always", "never"}
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Search: SearchConfig{
			Branches:   []string{},
			Since:      "10 years ago",
			IgnoreCase: false,
			Recursive:  true,
		},
		Workers: WorkersConfig{
			Jobs: runtime.NumCPU(),
		},
		Backend: BackendConfig{
			Kind:             "git",
			GitBinary:        "git",
			TimeoutMs:        120000,
			MaxInFlight:      0,
			QueriesPerSecond: 0,
		},
		Output: OutputConfig{
			Format: "text",
			Color:  "auto",
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// flagBindings maps config keys to the CLI flags that override them.
var flagBindings = map[string]string{
	"search.branches":      "branch",
	"search.since":         "since",
	"search.ignoreCase":    "ignore-case",
	"workers.jobs":         "jobs",
	"backend.kind":         "backend",
	"output.format":        "format",
	"store.path":           "db",
	"metrics.textfilePath": "metrics-file",
}

// LoadOptions says where LoadConfig looks for overrides.
type LoadOptions struct {
	RepoRoot   string         // searched for .fixhunt/config.*
	ConfigFile string         // explicit file, takes precedence over RepoRoot
	Flags      *pflag.FlagSet // changed flags override everything else
}

// LoadConfig builds the effective configuration.
// Precedence: changed flags > FIXHUNT_* env > config file > defaults
func LoadConfig(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		if opts.RepoRoot != "" {
			v.AddConfigPath(filepath.Join(opts.RepoRoot, DirName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for key, name := range flagBindings {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file in the default location just means defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || opts.ConfigFile != "" {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every leaf of cfg with viper so that env and flag
// bindings resolve even when no config file is present.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("version", cfg.Version)
	v.SetDefault("search.branches", cfg.Search.Branches)
	v.SetDefault("search.since", cfg.Search.Since)
	v.SetDefault("search.ignoreCase", cfg.Search.IgnoreCase)
	v.SetDefault("search.recursive", cfg.Search.Recursive)
	v.SetDefault("workers.jobs", cfg.Workers.Jobs)
	v.SetDefault("backend.kind", cfg.Backend.Kind)
	v.SetDefault("backend.gitBinary", cfg.Backend.GitBinary)
	v.SetDefault("backend.timeoutMs", cfg.Backend.TimeoutMs)
	v.SetDefault("backend.maxInFlight", cfg.Backend.MaxInFlight)
	v.SetDefault("backend.queriesPerSecond", cfg.Backend.QueriesPerSecond)
	v.SetDefault("output.format", cfg.Output.Format)
	v.SetDefault("output.color", cfg.Output.Color)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("metrics.textfilePath", cfg.Metrics.TextfilePath)
}

// Encode writes the configuration in the given format (json, yaml or toml)
func (c *Config) Encode(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "json", "":
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return err
		}
		return enc.Close()
	case "toml":
		return toml.NewEncoder(w).Encode(c)
	default:
		return &ConfigError{Field: "format", Message: fmt.Sprintf("unknown config format %q", format)}
	}
}

// Save writes the configuration to path, choosing the encoding by extension
func (c *Config) Save(path string) error {
	format := strings.TrimPrefix(filepath.Ext(path), ".")

	var buf bytes.Buffer
	if err := c.Encode(&buf, format); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Workers.Jobs < 1 {
		return &ConfigError{Field: "workers.jobs", Message: "must be at least 1"}
	}
	if strings.TrimSpace(c.Search.Since) == "" {
		return &ConfigError{Field: "search.since", Message: "must not be empty"}
	}
	if !contains(BackendKinds, c.Backend.Kind) {
		return &ConfigError{Field: "backend.kind", Message: "must be one of " + strings.Join(BackendKinds, ", ")}
	}
	if c.Backend.TimeoutMs < 0 {
		return &ConfigError{Field: "backend.timeoutMs", Message: "must not be negative"}
	}
	if c.Backend.MaxInFlight < 0 {
		return &ConfigError{Field: "backend.maxInFlight", Message: "must not be negative"}
	}
	if c.Backend.QueriesPerSecond < 0 {
		return &ConfigError{Field: "backend.queriesPerSecond", Message: "must not be negative"}
	}
	if !contains(OutputFormats, c.Output.Format) {
		return &ConfigError{Field: "output.format", Message: "must be one of " + strings.Join(OutputFormats, ", ")}
	}
	if !contains(ColorModes, c.Output.Color) {
		return &ConfigError{Field: "output.color", Message: "must be one of " + strings.Join(ColorModes, ", ")}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
