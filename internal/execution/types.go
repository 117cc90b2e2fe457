package execution

import (
	"time"

	"github.com/ggonzalez94/bridgectl/internal/route"
	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusQuoted    RunStatus = "quoted"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the persisted record of one route execution.
type Run struct {
	RunID     string             `json:"run_id"`
	Provider  string             `json:"provider"`
	Status    RunStatus          `json:"status"`
	Intent    route.MoveIntent   `json:"intent"`
	Route     route.Route        `json:"route"`
	Results   []route.StepResult `json:"results"`
	Error     string             `json:"error,omitempty"`
	CreatedAt string             `json:"created_at"`
	UpdatedAt string             `json:"updated_at"`
}

func NewRunID() string {
	return "run_" + uuid.NewString()
}

func NewRun(r route.Route) Run {
	now := time.Now().UTC().Format(time.RFC3339)
	return Run{
		RunID:     NewRunID(),
		Provider:  r.Provider,
		Status:    RunStatusQuoted,
		Intent:    r.Intent,
		Route:     r,
		Results:   []route.StepResult{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Run) Touch() {
	r.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// Finish records the outcome of Executor.Execute on the run.
func (r *Run) Finish(results []route.StepResult, err error) {
	r.Results = append([]route.StepResult(nil), results...)
	if err != nil {
		r.Status = RunStatusFailed
		r.Error = err.Error()
	} else {
		r.Status = RunStatusCompleted
		r.Error = ""
	}
	r.Touch()
}

// LastTxHash returns the most recent source transaction hash of the run.
func (r Run) LastTxHash() (string, int64) {
	for i := len(r.Results) - 1; i >= 0; i-- {
		if r.Results[i].TxHash != "" {
			return r.Results[i].TxHash, r.Results[i].ChainID
		}
	}
	return "", 0
}
