// Package web serves a read-only view of recorded jobs and pipeline runs.
package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lucasnoah/ada/internal/jobs"
	"github.com/lucasnoah/ada/internal/pipeline"
)

const DefaultPort = 8734

var funcMap = template.FuncMap{
	"badgeClass": func(status jobs.Status) string {
		return "badge badge-" + strings.ToLower(string(status))
	},
	"relTime": humanize.Time,
	"shortID": func(id string) string {
		if len(id) > 8 {
			return id[:8]
		}
		return id
	},
	"duration": func(j jobs.Job) string {
		if j.StartedAt == nil {
			return "-"
		}
		return j.Duration().Round(time.Second).String()
	},
}

// Server exposes the job store and run history over HTTP.
type Server struct {
	jobs jobs.Store
	runs *pipeline.Store
	port int
	log  *slog.Logger

	dashboardTmpl *template.Template
}

// NewServer creates a Server. runs may be nil when run history is not kept.
func NewServer(store jobs.Store, runs *pipeline.Store, port int, logger *slog.Logger) *Server {
	if port == 0 {
		port = DefaultPort
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		jobs:          store,
		runs:          runs,
		port:          port,
		log:           logger,
		dashboardTmpl: template.Must(template.New("dashboard").Funcs(funcMap).Parse(dashboardHTML)),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /api/jobs", s.handleJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJob)
	mux.HandleFunc("GET /api/jobs/{id}/log", s.handleJobLog)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{task}", s.handleRun)
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("serving job dashboard", "url", fmt.Sprintf("http://localhost:%d", s.port))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

const dashboardHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>ada jobs</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { padding: 4px 12px; text-align: left; }
.badge { padding: 2px 6px; border-radius: 4px; }
.badge-success { background: #cfc; }
.badge-failed { background: #fcc; }
.badge-running { background: #ffc; }
.badge-pending { background: #eee; }
</style>
</head>
<body>
<h1>Jobs</h1>
{{if .Jobs}}
<table>
<tr><th>ID</th><th>Task</th><th>Title</th><th>Status</th><th>Backend</th><th>Created</th><th>Duration</th></tr>
{{range .Jobs}}
<tr>
<td><a href="/api/jobs/{{.ID}}">{{shortID .ID}}</a></td>
<td><a href="/api/runs/{{.TaskID}}">{{.TaskID}}</a></td>
<td>{{.Title}}</td>
<td><span class="{{badgeClass .Status}}">{{.Status}}</span></td>
<td>{{.Backend}}</td>
<td>{{relTime .CreatedAt}}</td>
<td>{{duration .}}</td>
</tr>
{{end}}
</table>
{{else}}
<p>No jobs yet.</p>
{{end}}
</body>
</html>
`
