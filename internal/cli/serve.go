package cli

import (
	"github.com/spf13/cobra"

	"github.com/lucasnoah/ada/internal/pipeline"
	"github.com/lucasnoah/ada/internal/web"
)

var (
	servePort int
	serveDB   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a read-only dashboard of jobs and pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openJobs(ctx, app.cfg, serveDB)
		if err != nil {
			return err
		}
		defer store.Close()

		srv := web.NewServer(store, pipeline.NewStore(app.cfg.RunsDir), servePort, app.log)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", web.DefaultPort, "port to listen on")
	serveCmd.Flags().StringVar(&serveDB, "jobs-db", "", "job store path or postgres:// DSN")
	rootCmd.AddCommand(serveCmd)
}
