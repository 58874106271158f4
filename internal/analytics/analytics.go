// Package analytics summarizes job outcomes and per-stage behaviour from
// the job store and recorded pipeline runs.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/lucasnoah/ada/internal/jobs"
	"github.com/lucasnoah/ada/internal/pipeline"
)

// BackendSummary holds outcome and duration stats for one backend.
type BackendSummary struct {
	Backend     string  `json:"backend"`
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Active      int     `json:"active"`
	SuccessRate float64 `json:"success_rate_pct"`
	AvgSeconds  float64 `json:"avg_seconds"`
	P50Seconds  float64 `json:"p50_seconds"`
	P95Seconds  float64 `json:"p95_seconds"`
}

// StageSummary holds how often a stage ran and rejected work.
type StageSummary struct {
	Stage         string  `json:"stage"`
	Runs          int     `json:"runs"`
	Rejections    int     `json:"rejections"`
	Errors        int     `json:"errors"`
	RejectionRate float64 `json:"rejection_rate_pct"`
	AvgSeconds    float64 `json:"avg_seconds"`
}

// AttemptDist is the number of finished runs that needed a given number of
// cycles.
type AttemptDist struct {
	Attempts int `json:"attempts"`
	Count    int `json:"count"`
}

// SummarizeJobs groups jobs by backend. Success rate counts finished jobs
// only; durations cover finished jobs that were started.
func SummarizeJobs(list []jobs.Job) []BackendSummary {
	type acc struct {
		s    BackendSummary
		secs []float64
	}
	byBackend := make(map[string]*acc)
	for _, j := range list {
		a := byBackend[j.Backend]
		if a == nil {
			a = &acc{s: BackendSummary{Backend: j.Backend}}
			byBackend[j.Backend] = a
		}
		a.s.Total++
		switch j.Status {
		case jobs.StatusSuccess:
			a.s.Succeeded++
		case jobs.StatusFailed:
			a.s.Failed++
		default:
			a.s.Active++
		}
		if j.Status.Terminal() && j.StartedAt != nil && j.FinishedAt != nil {
			a.secs = append(a.secs, j.FinishedAt.Sub(*j.StartedAt).Seconds())
		}
	}

	out := make([]BackendSummary, 0, len(byBackend))
	for _, a := range byBackend {
		sort.Float64s(a.secs)
		a.s.SuccessRate = pct(a.s.Succeeded, a.s.Succeeded+a.s.Failed)
		a.s.AvgSeconds = avg(a.secs)
		a.s.P50Seconds = percentile(a.secs, 50)
		a.s.P95Seconds = percentile(a.secs, 95)
		out = append(out, a.s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

// SummarizeStages aggregates every stage record across runs, ordered by
// stage name.
func SummarizeStages(runs []pipeline.RunRecord) []StageSummary {
	type acc struct {
		s    StageSummary
		secs []float64
	}
	byStage := make(map[string]*acc)
	for _, run := range runs {
		for _, cycle := range run.Cycles {
			for _, rec := range cycle.Stages {
				a := byStage[rec.Stage]
				if a == nil {
					a = &acc{s: StageSummary{Stage: rec.Stage}}
					byStage[rec.Stage] = a
				}
				a.s.Runs++
				switch {
				case rec.Error != "":
					a.s.Errors++
				case !rec.Success:
					a.s.Rejections++
				}
				if d, err := time.ParseDuration(rec.Duration); err == nil {
					a.secs = append(a.secs, d.Seconds())
				}
			}
		}
	}

	out := make([]StageSummary, 0, len(byStage))
	for _, a := range byStage {
		a.s.RejectionRate = pct(a.s.Rejections, a.s.Runs)
		a.s.AvgSeconds = avg(a.secs)
		out = append(out, a.s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

// AttemptDistribution counts completed and failed runs by cycles used.
func AttemptDistribution(runs []pipeline.RunRecord) []AttemptDist {
	counts := make(map[int]int)
	for _, run := range runs {
		if run.Status != pipeline.StatusCompleted && run.Status != pipeline.StatusFailed {
			continue
		}
		counts[run.Attempts]++
	}
	out := make([]AttemptDist, 0, len(counts))
	for n, c := range counts {
		out = append(out, AttemptDist{Attempts: n, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempts < out[j].Attempts })
	return out
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
