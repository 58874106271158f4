package pipeline

// Run statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// RunRecord is the persisted history of one task's pipeline run.
type RunRecord struct {
	TaskID      string        `json:"task_id"`
	Title       string        `json:"title"`
	Workspace   string        `json:"workspace"`
	Status      string        `json:"status"`
	Attempts    int           `json:"attempts"`
	Cycles      []CycleRecord `json:"cycles"`
	Feedback    []string      `json:"feedback,omitempty"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
}

// Interrupted reports whether the run stopped before finishing: it is still
// in progress or a stage aborted it with an error.
func (r *RunRecord) Interrupted() bool {
	return r.Status == StatusInProgress || (r.Status == StatusFailed && r.Error != "")
}

// NextAttempt is the cycle a resumed run starts with. A cycle cut short by
// a stage error is run again.
func (r *RunRecord) NextAttempt() int {
	if n := len(r.Cycles); n > 0 {
		last := r.Cycles[n-1]
		if k := len(last.Stages); k > 0 && last.Stages[k-1].Error != "" {
			return last.Attempt
		}
	}
	return r.Attempts + 1
}

// CycleRecord is one pass over the stage list.
type CycleRecord struct {
	Attempt int           `json:"attempt"`
	Stages  []StageRecord `json:"stages"`
}

// StageRecord is the outcome of one stage within a cycle.
type StageRecord struct {
	Stage    string   `json:"stage"`
	Success  bool     `json:"success"`
	Duration string   `json:"duration"`
	Feedback []string `json:"feedback,omitempty"`
	Error    string   `json:"error,omitempty"`
}
