// Package config loads ada.yaml, fills defaults, applies environment
// overrides and validates the result.
package config

// Config is the top-level configuration parsed from YAML.
type Config struct {
	Backend    string           `yaml:"backend"`
	MaxRetries int              `yaml:"max_retries"`
	TasksDir   string           `yaml:"tasks_dir"`
	RunsDir    string           `yaml:"runs_dir"`
	Sandbox    Sandbox          `yaml:"sandbox"`
	Docker     Docker           `yaml:"docker"`
	Provider   Provider         `yaml:"provider"`
	Agent      Agent            `yaml:"agent"`
	Tools      Tools            `yaml:"tools"`
	Rules      Rules            `yaml:"rules"`
	Checks     map[string]Check `yaml:"checks"`
	// ValidateChecks names the checks the validator runs, in order.
	ValidateChecks []string `yaml:"validate_checks"`
	Jobs           Jobs     `yaml:"jobs"`
	Logging        Logging  `yaml:"logging"`
}

// Sandbox configures the copy-and-reconcile backend.
type Sandbox struct {
	Root          string `yaml:"root"`
	Resume        *bool  `yaml:"resume"`
	KeepWorkspace bool   `yaml:"keep_workspace"`
}

// Docker configures the container backend.
type Docker struct {
	Image      string   `yaml:"image"`
	Dockerfile string   `yaml:"dockerfile"`
	Context    string   `yaml:"context"`
	TempDir    string   `yaml:"temp_dir"`
	ForwardEnv []string `yaml:"forward_env"`
}

// Provider selects the reasoning backend. API keys only come from the
// environment.
type Provider struct {
	Name              string  `yaml:"name"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	Mock              bool    `yaml:"mock"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	MaxRetries        int     `yaml:"max_retries"`
	Timeout           string  `yaml:"timeout"`
}

// Agent bounds the reasoning loops.
type Agent struct {
	MaxToolCalls     int    `yaml:"max_tool_calls"`
	MaxTurns         int    `yaml:"max_turns"`
	PlannerToolCalls int    `yaml:"planner_tool_calls"`
	PromptDir        string `yaml:"prompt_dir"`
}

// Tools tunes the sandboxed tool surface.
type Tools struct {
	CommandTimeout  string   `yaml:"command_timeout"`
	SearchLimit     int      `yaml:"search_limit"`
	BlockedCommands []string `yaml:"blocked_commands"`
}

// Rules points at the per-repository rule folder.
type Rules struct {
	Dir string `yaml:"dir"`
}

// Check defines a deterministic check run by the validator.
type Check struct {
	Command    string `yaml:"command"`
	Parser     string `yaml:"parser"`
	Timeout    string `yaml:"timeout"`
	FixCommand string `yaml:"fix_command"`
	AutoFix    bool   `yaml:"auto_fix"`
}

// Jobs configures the job database and pool.
type Jobs struct {
	DB          string `yaml:"db"`
	Concurrency int    `yaml:"concurrency"`
}

// Logging configures the process logger.
type Logging struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	File    string `yaml:"file"`
	Journal bool   `yaml:"journal"`
}
