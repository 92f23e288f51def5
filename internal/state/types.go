package state

import "time"

// Progress is the coarse run state written to progress.json so a run can be
// inspected or resumed.
type Progress struct {
	RunID            string              `json:"run_id"`
	Project          string              `json:"project"`
	Status           string              `json:"status"`
	StartedAt        time.Time           `json:"started_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	CurrentMilestone int                 `json:"current_milestone"`
	CurrentPhase     string              `json:"current_phase,omitempty"`
	Milestones       []MilestoneProgress `json:"milestones"`
}

// MilestoneProgress tracks per-phase status for one milestone.
type MilestoneProgress struct {
	Number int               `json:"number"`
	Name   string            `json:"name"`
	Status string            `json:"status"`
	Phases map[string]string `json:"phases"`
}

// Milestone returns the progress entry for number n, creating it if absent.
func (p *Progress) Milestone(n int, name string) *MilestoneProgress {
	for i := range p.Milestones {
		if p.Milestones[i].Number == n {
			return &p.Milestones[i]
		}
	}
	p.Milestones = append(p.Milestones, MilestoneProgress{
		Number: n,
		Name:   name,
		Status: "pending",
		Phases: make(map[string]string),
	})
	return &p.Milestones[len(p.Milestones)-1]
}

// Session records one agent invocation in sessions.json.
type Session struct {
	SessionID string        `json:"session_id"`
	Milestone int           `json:"milestone"`
	Phase     string        `json:"phase"`
	Attempt   int           `json:"attempt"`
	Status    string        `json:"status"`
	CostUSD   float64       `json:"cost_usd"`
	Duration  time.Duration `json:"duration"`
	NumTurns  int           `json:"num_turns"`
	StartedAt time.Time     `json:"started_at"`
}

// Checkpoint marks a phase as finished for a milestone; --resume skips
// phases with a completed checkpoint.
type Checkpoint struct {
	Milestone int       `json:"milestone"`
	Phase     string    `json:"phase"`
	Status    string    `json:"status"`
	SessionID string    `json:"session_id,omitempty"`
	CostUSD   float64   `json:"cost_usd"`
	Evidence  []string  `json:"evidence,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Failure is one line of failure_logs/failures.jsonl.
type Failure struct {
	Milestone int       `json:"milestone"`
	Phase     string    `json:"phase"`
	ErrorType string    `json:"error_type"`
	Message   string    `json:"message"`
	Attempt   int       `json:"attempt"`
	Level     int       `json:"level,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ResourceSample is one line of stability_logs/resource_metrics.jsonl.
type ResourceSample struct {
	Timestamp    time.Time `json:"timestamp"`
	Label        string    `json:"label,omitempty"`
	CPUPercent   float64   `json:"cpu_percent"`
	MemPercent   float64   `json:"mem_percent"`
	MemUsedBytes uint64    `json:"mem_used_bytes"`
	Goroutines   int       `json:"goroutines"`
}

// Results is the final run summary written to results.json.
type Results struct {
	RunID        string            `json:"run_id"`
	Project      string            `json:"project"`
	Status       string            `json:"status"`
	Error        string            `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Duration     time.Duration     `json:"duration"`
	TotalCostUSD float64           `json:"total_cost_usd"`
	Milestones   []MilestoneResult `json:"milestones"`
}

// MilestoneResult summarizes one milestone.
type MilestoneResult struct {
	Number    int           `json:"number"`
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Strategy  string        `json:"strategy,omitempty"`
	StepBacks int           `json:"step_backs"`
	CostUSD   float64       `json:"cost_usd"`
	Phases    []PhaseResult `json:"phases"`
}

// PhaseResult summarizes the last attempt of a phase.
type PhaseResult struct {
	Phase    string        `json:"phase"`
	Status   string        `json:"status"`
	Attempts int           `json:"attempts"`
	CostUSD  float64       `json:"cost_usd"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Evidence []string      `json:"evidence,omitempty"`
}
