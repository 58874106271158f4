package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/ada/internal/agent"
	"github.com/lucasnoah/ada/internal/epic"
	"github.com/lucasnoah/ada/internal/isolation"
	"github.com/lucasnoah/ada/internal/pipeline"
	"github.com/lucasnoah/ada/internal/provider"
	"github.com/lucasnoah/ada/internal/task"
	"github.com/lucasnoah/ada/internal/toolbox"
)

var (
	epicTasksDir string
	epicBackend  string
	epicMock     bool
	epicJSON     bool
)

var epicCmd = &cobra.Command{
	Use:   "epic <stories_file> <repo_path>",
	Short: "Plan user stories into tasks and run them in order",
	Long: `Each story is explored with read-only tools and broken into tasks, which are
written under --tasks-dir and executed one after the other, each in a fresh
backend. The first failure stops the epic.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stories, err := task.LoadList(args[0])
		if err != nil {
			return err
		}
		repo, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		cfg := app.cfg
		if cmd.Flags().Changed("backend") {
			cfg.Backend = epicBackend
		}
		if cmd.Flags().Changed("tasks-dir") {
			cfg.TasksDir = epicTasksDir
		}
		if err := checkConfig(cfg); err != nil {
			return err
		}
		mock := epicMock || cfg.Provider.Mock

		planners := func(story task.Task) (epic.Planner, error) {
			tools, err := toolbox.New(repo, toolOptions(cfg, app.log))
			if err != nil {
				return nil, err
			}
			var p provider.Provider
			if mock || provider.SettingsFromEnv(app.getenv).ForceMock {
				step, err := epic.OfflinePlan(story)
				if err != nil {
					return nil, err
				}
				p = provider.NewMock(step)
			} else if p, err = providerFor(cfg, false, app.log); err != nil {
				return nil, err
			}
			return agent.NewPlanner(p, tools.Restrict(toolbox.ReadOnlyTools...), agent.PlannerOptions{
				MaxToolCalls: cfg.Agent.PlannerToolCalls,
				PromptDir:    cfg.Agent.PromptDir,
				Logger:       app.log,
			}), nil
		}
		backends := func(t task.Task, completed []string) (isolation.Backend, error) {
			return backendFor(cfg.Backend, cfg, app.log, mock, completed)
		}

		runner := epic.New(planners, backends, epic.Options{
			TasksDir: cfg.TasksDir,
			Rules:    []pipeline.RuleProvider{pipeline.FolderRules{Dir: cfg.Rules.Dir}},
			Logger:   app.log,
		})
		report, err := runner.Run(cmd.Context(), stories, repo)
		if report != nil {
			if epicJSON {
				data, jerr := json.MarshalIndent(report, "", "  ")
				if jerr != nil {
					return jerr
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			} else {
				printEpicReport(cmd, report)
			}
		}
		if err != nil {
			return err
		}
		if !report.Success {
			return fmt.Errorf("epic: %w", errTaskFailed)
		}
		return nil
	},
}

func printEpicReport(cmd *cobra.Command, r *epic.Report) {
	for _, s := range r.Stories {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d task(s) planned, %d completed\n", s.StoryID, len(s.TaskFiles), len(s.Completed))
		if s.FailedTask != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  failed at %s\n", s.FailedTask)
		}
		if s.Error != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  error: %s\n", s.Error)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Completed: %d task(s)\n", len(r.Completed))
}

func init() {
	epicCmd.Flags().StringVar(&epicTasksDir, "tasks-dir", epic.DefaultTasksDir, "where planned task files are written")
	epicCmd.Flags().StringVar(&epicBackend, "backend", isolation.KindSandbox, "isolation backend: sandbox or docker")
	epicCmd.Flags().BoolVar(&epicMock, "mock", false, "plan offline and use the scripted mock provider")
	epicCmd.Flags().BoolVar(&epicJSON, "json", false, "print the report as JSON")
}
