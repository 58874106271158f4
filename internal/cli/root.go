package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/ada/internal/config"
	"github.com/lucasnoah/ada/internal/logging"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile string
	logLevel   string
)

// app holds what PersistentPreRunE resolved for the running command.
var app struct {
	cfg      *config.Config
	cfgPath  string
	log      *slog.Logger
	closeLog func() error
	getenv   func(string) string
}

var rootCmd = &cobra.Command{
	Use:   "ada",
	Short: "ada runs a coding agent against an isolated copy of a repository",
	Long: `ada takes a task (or a backlog of user stories), lets a reasoning provider
edit an isolated copy of a repository through sandboxed tools, validates the
result with project checks and copies accepted work back.

Configuration is read from --config, ./ada.yaml or ~/.ada/config.yaml.
A .env file in the working directory is loaded without overriding variables
that are already set. Job history lives in ~/.ada/jobs.db unless --jobs-db
points elsewhere.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app.closeLog != nil {
			app.closeLog()
			app.closeLog = nil
		}
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so running loops can checkpoint and backends can clean up.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	app.getenv = os.Getenv

	var err error
	if configFile != "" {
		app.cfg, err = config.Load(configFile)
		app.cfgPath = configFile
	} else {
		app.cfg, app.cfgPath, err = config.LoadDefault()
	}
	if err != nil {
		return err
	}
	config.ApplyEnv(app.cfg, app.getenv)
	if logLevel != "" {
		app.cfg.Logging.Level = logLevel
	}

	app.log, app.closeLog, err = logging.New(logging.Options{
		Level:   app.cfg.Logging.Level,
		Format:  app.cfg.Logging.Format,
		File:    app.cfg.Logging.File,
		Journal: app.cfg.Logging.Journal,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	app.log.Debug("configuration loaded", "path", app.cfgPath, "backend", app.cfg.Backend)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to ada.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(epicCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(configCmd)
}
