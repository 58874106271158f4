package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lucasnoah/ada/internal/jobs"
	"github.com/lucasnoah/ada/internal/pipeline"
)

type dashboardData struct {
	Jobs []jobs.Job
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	list, err := s.jobs.List(r.Context(), jobs.ListOpts{Limit: 100})
	if err != nil {
		s.serverError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.dashboardTmpl.Execute(w, dashboardData{Jobs: list}); err != nil {
		s.log.Warn("render dashboard", "error", err)
	}
}

// handleJobs accepts ?status=, ?task= and ?limit=.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := jobs.ListOpts{TaskID: q.Get("task"), Limit: 100}
	if v := q.Get("status"); v != "" {
		st, err := jobs.ParseStatus(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = n
	}

	list, err := s.jobs.List(r.Context(), opts)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if list == nil {
		list = []jobs.Job{}
	}
	writeJSON(w, list)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, j)
}

func (s *Server) handleJobLog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.jobs.Get(r.Context(), id); errors.Is(err, jobs.ErrJobNotFound) {
		http.NotFound(w, r)
		return
	} else if err != nil {
		s.serverError(w, err)
		return
	}
	lines, err := s.jobs.Logs(r.Context(), id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if lines == nil {
		lines = []jobs.LogLine{}
	}
	writeJSON(w, lines)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, []pipeline.RunRecord{})
		return
	}
	list, err := s.runs.List(r.URL.Query().Get("status"))
	if err != nil {
		s.serverError(w, err)
		return
	}
	if list == nil {
		list = []pipeline.RunRecord{}
	}
	writeJSON(w, list)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.NotFound(w, r)
		return
	}
	rec, err := s.runs.Get(r.PathValue("task"))
	if errors.Is(err, pipeline.ErrRunNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
