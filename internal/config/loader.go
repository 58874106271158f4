package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/ada/internal/checks"
)

// Default values applied by applyDefaults.
const (
	DefaultBackend        = "sandbox"
	DefaultMaxRetries     = 3
	DefaultTasksDir       = "tasks"
	DefaultRunsDir        = ".ada/runs"
	DefaultSandboxRoot    = ".ada_sandbox"
	DefaultImage          = "ada_agent"
	DefaultDockerfile     = "docker/Dockerfile"
	DefaultTempDir        = ".ada_temp"
	DefaultMaxToolCalls   = 10
	DefaultPlannerCalls   = 5
	DefaultCommandTimeout = "30s"
	DefaultSearchLimit    = 20000
	DefaultRulesDir       = "rules"
	DefaultConcurrency    = 2
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultCheckTimeout   = "2m"
)

// Load reads and parses a configuration from the given YAML file path,
// then applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// LoadDefault loads the first config found in ./ada.yaml, then
// ~/.ada/config.yaml. With neither present it returns Default and an empty
// path.
func LoadDefault() (*Config, string, error) {
	candidates := []string{"ada.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".ada", "config.yaml"))
	}

	for _, path := range candidates {
		_, err := os.Stat(path)
		if err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return Default(), "", nil
}

func applyDefaults(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultBackend
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.TasksDir == "" {
		cfg.TasksDir = DefaultTasksDir
	}
	if cfg.RunsDir == "" {
		cfg.RunsDir = DefaultRunsDir
	}

	if cfg.Sandbox.Root == "" {
		cfg.Sandbox.Root = DefaultSandboxRoot
	}
	if cfg.Sandbox.Resume == nil {
		resume := true
		cfg.Sandbox.Resume = &resume
	}

	d := &cfg.Docker
	if d.Image == "" {
		d.Image = DefaultImage
	}
	if d.Dockerfile == "" {
		d.Dockerfile = DefaultDockerfile
	}
	if d.Context == "" {
		d.Context = "."
	}
	if d.TempDir == "" {
		d.TempDir = DefaultTempDir
	}

	if cfg.Provider.MaxRetries == 0 {
		cfg.Provider.MaxRetries = 3
	}

	if cfg.Agent.MaxToolCalls == 0 {
		cfg.Agent.MaxToolCalls = DefaultMaxToolCalls
	}
	if cfg.Agent.PlannerToolCalls == 0 {
		cfg.Agent.PlannerToolCalls = DefaultPlannerCalls
	}

	if cfg.Tools.CommandTimeout == "" {
		cfg.Tools.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Tools.SearchLimit == 0 {
		cfg.Tools.SearchLimit = DefaultSearchLimit
	}

	if cfg.Rules.Dir == "" {
		cfg.Rules.Dir = DefaultRulesDir
	}

	for name, c := range cfg.Checks {
		if c.Timeout == "" {
			c.Timeout = DefaultCheckTimeout
		}
		if c.Parser == "" {
			c.Parser = "generic"
		}
		cfg.Checks[name] = c
	}
	// Without an explicit list every defined check runs, by name.
	if cfg.ValidateChecks == nil && len(cfg.Checks) > 0 {
		for name := range cfg.Checks {
			cfg.ValidateChecks = append(cfg.ValidateChecks, name)
		}
		sort.Strings(cfg.ValidateChecks)
	}

	if cfg.Jobs.Concurrency == 0 {
		cfg.Jobs.Concurrency = DefaultConcurrency
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}

// CheckConfigs resolves ValidateChecks into runnable check definitions.
// Call Validate first; unknown names and bad timeouts are errors here.
func (c *Config) CheckConfigs() ([]checks.CheckConfig, error) {
	out := make([]checks.CheckConfig, 0, len(c.ValidateChecks))
	for _, name := range c.ValidateChecks {
		def, ok := c.Checks[name]
		if !ok {
			return nil, fmt.Errorf("undefined check %q", name)
		}
		timeout, err := parseDuration(def.Timeout)
		if err != nil {
			return nil, fmt.Errorf("check %s timeout: %w", name, err)
		}
		out = append(out, checks.CheckConfig{
			Name:       name,
			Command:    def.Command,
			Parser:     def.Parser,
			Timeout:    timeout,
			AutoFix:    def.AutoFix,
			FixCommand: def.FixCommand,
		})
	}
	return out, nil
}

// CommandTimeout returns the parsed tool command timeout.
func (c *Config) CommandTimeout() time.Duration {
	d, err := parseDuration(c.Tools.CommandTimeout)
	if err != nil {
		return 0
	}
	return d
}

// ProviderTimeout returns the parsed provider request timeout, or 0.
func (c *Config) ProviderTimeout() time.Duration {
	d, err := parseDuration(c.Provider.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// ResumeEnabled reports whether interrupted sandbox runs are resumed.
func (c *Config) ResumeEnabled() bool {
	return c.Sandbox.Resume == nil || *c.Sandbox.Resume
}

// YAML renders the effective configuration.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
