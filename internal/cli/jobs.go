package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/ada/internal/analytics"
	"github.com/lucasnoah/ada/internal/jobs"
	"github.com/lucasnoah/ada/internal/pipeline"
)

var (
	jobsStatus string
	jobsTask   string
	jobsLimit  int
	jobsFormat string
	jobsDB     string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect recorded jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		opts := jobs.ListOpts{TaskID: jobsTask, Limit: jobsLimit}
		if jobsStatus != "" {
			st, err := jobs.ParseStatus(jobsStatus)
			if err != nil {
				return err
			}
			opts.Status = st
		}

		store, err := openJobs(ctx, app.cfg, jobsDB)
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.List(ctx, opts)
		if err != nil {
			return err
		}
		if jobsFormat == "json" {
			return printJSON(cmd, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTASK\tSTATUS\tBACKEND\tCREATED\tDURATION")
		for _, j := range list {
			dur := "-"
			if j.StartedAt != nil {
				dur = j.Duration().Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				j.ID[:8], j.TaskID, j.Status, j.Backend, humanize.Time(j.CreatedAt), dur)
		}
		return w.Flush()
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openJobs(ctx, app.cfg, jobsDB)
		if err != nil {
			return err
		}
		defer store.Close()

		j, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		logs, err := store.Logs(ctx, j.ID)
		if err != nil {
			return err
		}
		if jobsFormat == "json" {
			return printJSON(cmd, struct {
				*jobs.Job
				Log []jobs.LogLine `json:"log"`
			}{j, logs})
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Job:      %s\n", j.ID)
		fmt.Fprintf(cmd.OutOrStdout(), "Task:     %s %s\n", j.TaskID, j.Title)
		fmt.Fprintf(cmd.OutOrStdout(), "Status:   %s\n", j.Status)
		fmt.Fprintf(cmd.OutOrStdout(), "Backend:  %s\n", j.Backend)
		fmt.Fprintf(cmd.OutOrStdout(), "Repo:     %s\n", j.Repo)
		fmt.Fprintf(cmd.OutOrStdout(), "Created:  %s (%s)\n", j.CreatedAt.Format(time.RFC3339), humanize.Time(j.CreatedAt))
		if j.StartedAt != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Duration: %s\n", j.Duration().Round(time.Millisecond))
		}
		if j.Error != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Error:    %s\n", j.Error)
		}
		if len(logs) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Log:")
			for _, l := range logs {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", l.At.Local().Format(time.TimeOnly), l.Line)
			}
		}
		return nil
	},
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize job outcomes and stage behaviour",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openJobs(ctx, app.cfg, jobsDB)
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.List(ctx, jobs.ListOpts{})
		if err != nil {
			return err
		}
		runs, err := pipeline.NewStore(app.cfg.RunsDir).List("")
		if err != nil {
			return err
		}
		backends := analytics.SummarizeJobs(list)
		stages := analytics.SummarizeStages(runs)
		attempts := analytics.AttemptDistribution(runs)

		if jobsFormat == "json" {
			return printJSON(cmd, map[string]any{
				"backends": backends,
				"stages":   stages,
				"attempts": attempts,
			})
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BACKEND\tTOTAL\tOK\tFAILED\tACTIVE\tSUCCESS%\tAVG\tP95")
		for _, b := range backends {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.1f\t%.1fs\t%.1fs\n",
				b.Backend, b.Total, b.Succeeded, b.Failed, b.Active, b.SuccessRate, b.AvgSeconds, b.P95Seconds)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "STAGE\tRUNS\tREJECTED\tERRORS\tREJECT%\tAVG")
		for _, s := range stages {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f\t%.1fs\n",
				s.Stage, s.Runs, s.Rejections, s.Errors, s.RejectionRate, s.AvgSeconds)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "CYCLES\tRUNS")
		for _, a := range attempts {
			fmt.Fprintf(w, "%d\t%d\n", a.Attempts, a.Count)
		}
		return w.Flush()
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	jobsCmd.PersistentFlags().StringVar(&jobsDB, "jobs-db", "", "job store path or postgres:// DSN")
	jobsCmd.PersistentFlags().StringVar(&jobsFormat, "format", "table", "output format: table or json")

	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsListCmd.Flags().StringVar(&jobsTask, "task", "", "filter by task ID")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum jobs to show")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsStatsCmd)
}
