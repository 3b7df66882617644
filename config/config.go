package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/franksops/gorelocate/engine"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config holds every setting of a relocation run.
type Config struct {
	// Source is a directory path or s3://bucket/prefix.
	Source string `yaml:"source"`
	// Target is the destination container path. A leading "/" is taken from
	// the backend's namespace root, anything else from the source root.
	Target string `yaml:"target"`

	Workers          int           `yaml:"workers"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	ProgressInterval time.Duration `yaml:"progress_interval"`

	// Journal is the path of the bbolt run journal; empty disables it.
	Journal  string `yaml:"journal"`
	LogLevel string `yaml:"log_level"`
	TUI      bool   `yaml:"tui"`

	S3 S3Config `yaml:"s3"`
}

// S3Config holds the settings of S3-compatible sources.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Workers:          engine.DefaultWorkers,
		PollInterval:     engine.DefaultPollInterval,
		ProgressInterval: engine.DefaultProgressInterval,
		LogLevel:         "INFO",
	}
}

// Load reads a YAML file over the defaults. ${VAR} references are expanded
// from the environment before parsing; unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(interpolateEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// interpolateEnv replaces ${VAR} with its value. Unset variables are left
// in place so Validate can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source is required")
	}
	if rest, ok := strings.CutPrefix(c.Source, "s3://"); ok {
		if bucket, _, _ := strings.Cut(rest, "/"); bucket == "" {
			return fmt.Errorf("source %q: missing bucket", c.Source)
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.ProgressInterval <= 0 {
		return fmt.Errorf("progress_interval must be positive")
	}

	for name, v := range map[string]string{
		"source":      c.Source,
		"target":      c.Target,
		"journal":     c.Journal,
		"s3.region":   c.S3.Region,
		"s3.endpoint": c.S3.Endpoint,
	} {
		if m := envVarPattern.FindStringSubmatch(v); m != nil {
			return fmt.Errorf("%s: environment variable ${%s} is not set", name, m[1])
		}
	}
	return nil
}
