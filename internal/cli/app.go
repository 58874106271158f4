package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lucasnoah/ada/internal/agent"
	"github.com/lucasnoah/ada/internal/checks"
	"github.com/lucasnoah/ada/internal/config"
	"github.com/lucasnoah/ada/internal/isolation"
	"github.com/lucasnoah/ada/internal/jobs"
	"github.com/lucasnoah/ada/internal/pipeline"
	"github.com/lucasnoah/ada/internal/provider"
	"github.com/lucasnoah/ada/internal/toolbox"
)

// checkConfig rejects an invalid configuration before any work starts.
func checkConfig(cfg *config.Config) error {
	errs := config.Validate(cfg)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w (run `ada config validate` for all %d)", errs[0], len(errs))
}

// providerFor builds the reasoning provider from the environment with the
// configuration layered on top.
func providerFor(cfg *config.Config, mock bool, log *slog.Logger) (provider.Provider, error) {
	s := provider.SettingsFromEnv(app.getenv)
	if cfg.Provider.Name != "" {
		s.Name = cfg.Provider.Name
	}
	if cfg.Provider.Model != "" {
		s.Model = cfg.Provider.Model
	}
	if cfg.Provider.MaxRetries > 0 {
		s.MaxRetries = cfg.Provider.MaxRetries
	}
	s.ForceMock = s.ForceMock || mock || cfg.Provider.Mock
	s.BaseURL = cfg.Provider.BaseURL
	s.Temperature = cfg.Provider.Temperature
	s.MaxTokens = cfg.Provider.MaxTokens
	s.Timeout = cfg.ProviderTimeout()
	s.RequestsPerMinute = cfg.Provider.RequestsPerMinute
	s.Logger = log

	p, err := provider.Select(s)
	if err != nil {
		return nil, err
	}
	log.Debug("provider selected", "provider", s.Resolve(), "model", s.Model)
	return p, nil
}

func toolOptions(cfg *config.Config, log *slog.Logger) toolbox.Options {
	return toolbox.Options{
		Timeout:      cfg.CommandTimeout(),
		SearchLimit:  cfg.Tools.SearchLimit,
		ExtraBlocked: cfg.Tools.BlockedCommands,
		Logger:       log,
	}
}

// pipelineFactory wires coder and validator for each prepared workspace.
func pipelineFactory(cfg *config.Config, log *slog.Logger, mock bool, completed []string) isolation.PipelineFactory {
	return func(ws isolation.Workspace) (*pipeline.Orchestrator, error) {
		p, err := providerFor(cfg, mock, log)
		if err != nil {
			return nil, err
		}
		checkCfgs, err := cfg.CheckConfigs()
		if err != nil {
			return nil, err
		}

		coder := agent.NewCoder(p, ws.Tools, agent.CoderOptions{
			MaxToolCalls: cfg.Agent.MaxToolCalls,
			MaxTurns:     cfg.Agent.MaxTurns,
			PromptDir:    cfg.Agent.PromptDir,
			Logger:       log,
		})
		validator := agent.NewValidator(checks.NewRunner(nil, log), checkCfgs, log)

		return pipeline.New([]pipeline.Stage{coder, validator}, pipeline.Options{
			MaxRetries: cfg.MaxRetries,
			Rules:      []pipeline.RuleProvider{pipeline.FolderRules{Dir: cfg.Rules.Dir}},
			Store:      pipeline.NewStore(cfg.RunsDir),
			Completed:  completed,
			Seed:       map[string]any{pipeline.KeyCheckpointPath: ws.CheckpointPath},
			Resume:     ws.Resumed,
			Logger:     log,
		}), nil
	}
}

// backendFor builds a fresh backend of the given kind.
func backendFor(kind string, cfg *config.Config, log *slog.Logger, mock bool, completed []string) (isolation.Backend, error) {
	return isolation.New(kind, isolation.Config{
		SandboxRoot: cfg.Sandbox.Root,
		Resume:      cfg.ResumeEnabled(),
		Factory:     pipelineFactory(cfg, log, mock, completed),
		Tools:       toolOptions(cfg, log),
		Docker: isolation.DockerOptions{
			Image:        cfg.Docker.Image,
			Dockerfile:   cfg.Docker.Dockerfile,
			BuildContext: cfg.Docker.Context,
			TempDir:      cfg.Docker.TempDir,
			ForwardEnv:   cfg.Docker.ForwardEnv,
			Mock:         mock,
			Getenv:       app.getenv,
		},
		Logger: log,
	})
}

// openJobs opens the job store named by dsn, the config or the default path.
func openJobs(ctx context.Context, cfg *config.Config, dsn string) (jobs.Store, error) {
	if dsn == "" {
		dsn = cfg.Jobs.DB
	}
	if dsn == "" {
		var err error
		if dsn, err = jobs.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	store, err := jobs.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return store, nil
}
