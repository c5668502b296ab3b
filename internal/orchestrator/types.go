package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/finsight/internal/agents"
	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/gate"
	"github.com/fyrsmithlabs/finsight/internal/report"
)

// Stage is a state of the run state machine.
type Stage string

const (
	StageValidating   Stage = "validating"
	StageDispatching  Stage = "dispatching"
	StageResearching  Stage = "researching"
	StageAnalyzing    Stage = "analyzing"
	StageGating       Stage = "gating"
	StageSynthesizing Stage = "synthesizing"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// transitions lists the legal successors of each stage. Research and
// analysis interleave in parallel mode, so either may follow the other.
var transitions = map[Stage][]Stage{
	StageValidating:   {StageDispatching},
	StageDispatching:  {StageResearching, StageAnalyzing},
	StageResearching:  {StageAnalyzing, StageGating, StageSynthesizing},
	StageAnalyzing:    {StageResearching, StageGating, StageSynthesizing},
	StageGating:       {StageResearching, StageAnalyzing, StageGating, StageSynthesizing, StageCompleted},
	StageSynthesizing: {StageGating},
}

// Mode selects how the upstream agents are scheduled.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

// ParseMode returns the mode for s. Empty means parallel.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeParallel, nil
	case ModeParallel, ModeSequential:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// RunRequest starts a run.
type RunRequest struct {
	RunID  string      `json:"run_id"`
	Ticker string      `json:"ticker"`
	Tone   report.Tone `json:"tone"`
	Mode   Mode        `json:"mode"`

	// Deadline bounds the whole run. Zero uses the configured default.
	Deadline time.Duration `json:"deadline,omitempty"`

	// DeadlineAt, when set, is the absolute end of the run and takes
	// precedence over Deadline. Queued runs set it at submission so time
	// spent waiting counts against the budget.
	DeadlineAt time.Time `json:"deadline_at,omitempty"`
}

// AgentStatus is the state of one agent within a run. Retried marks the
// wait between a failed attempt, or a gate rejection, and the next one.
// Degraded is terminal for upstream dimensions whose result is unavailable.
type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentRunning   AgentStatus = "running"
	AgentRetried   AgentStatus = "retried"
	AgentSucceeded AgentStatus = "succeeded"
	AgentDegraded  AgentStatus = "degraded"
	AgentFailed    AgentStatus = "failed"
)

var agentTransitions = map[AgentStatus][]AgentStatus{
	AgentPending: {AgentRunning, AgentFailed},
	AgentRunning: {AgentRetried, AgentSucceeded, AgentDegraded, AgentFailed},
	AgentRetried: {AgentRunning, AgentDegraded, AgentFailed},
}

// Terminal reports whether the agent is done for this run.
func (s AgentStatus) Terminal() bool {
	return s == AgentSucceeded || s == AgentDegraded || s == AgentFailed
}

// CanTransition reports whether an agent may move from s to next. Staying
// in the same status is always allowed.
func (s AgentStatus) CanTransition(next AgentStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range agentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AgentState tracks one agent within a run.
type AgentState struct {
	Agent    finding.Producer `json:"agent"`
	Status   AgentStatus      `json:"status"`
	Attempts int              `json:"attempts"`
	Reason   string           `json:"reason,omitempty"`

	// RejectedByGate is set when the dimension was degraded by rejections.
	RejectedByGate bool `json:"rejected_by_gate,omitempty"`

	Verdicts []gate.Verdict `json:"verdicts,omitempty"`

	// Result is the accepted result. Rejected holds every rejected one.
	Result   *agents.Result   `json:"-"`
	Rejected []*agents.Result `json:"-"`

	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

func (a *AgentState) clone() *AgentState {
	out := *a
	out.Verdicts = append([]gate.Verdict(nil), a.Verdicts...)
	out.Result = a.Result.Clone()
	out.Rejected = make([]*agents.Result, len(a.Rejected))
	for i, r := range a.Rejected {
		out.Rejected[i] = r.Clone()
	}
	return &out
}

// RunState is the complete state of a run. RunStates handed to callers are
// snapshots and never change.
type RunState struct {
	RunID  string      `json:"run_id"`
	Ticker string      `json:"ticker"`
	Tone   report.Tone `json:"tone"`
	Mode   Mode        `json:"mode"`
	Stage  Stage       `json:"stage"`

	// FailedStage is the stage that was active when the run failed.
	FailedStage Stage  `json:"failed_stage,omitempty"`
	Error       string `json:"error,omitempty"`

	CompanyName string                           `json:"company_name,omitempty"`
	Agents      map[finding.Producer]*AgentState `json:"agents"`
	Warnings    []gate.Violation                 `json:"warnings,omitempty"`

	// FindingIDs lists every finding persisted by this run, in write order.
	FindingIDs []string       `json:"finding_ids"`
	Report     *report.Report `json:"report,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	err error
}

// NewRunState creates the initial state for req.
func NewRunState(req RunRequest) *RunState {
	s := &RunState{
		RunID:      req.RunID,
		Ticker:     req.Ticker,
		Tone:       req.Tone,
		Mode:       req.Mode,
		Stage:      StageValidating,
		Agents:     make(map[finding.Producer]*AgentState, 3),
		FindingIDs: []string{},
		StartedAt:  time.Now(),
	}
	for _, p := range []finding.Producer{finding.ProducerResearch, finding.ProducerAnalysis, finding.ProducerSynthesis} {
		s.Agents[p] = &AgentState{Agent: p, Status: AgentPending}
	}
	return s
}

// Err returns the terminal error of a failed run.
func (s *RunState) Err() error { return s.err }

// Degraded returns the degraded upstream dimensions and their reasons.
func (s *RunState) Degraded() map[finding.Producer]string {
	out := make(map[finding.Producer]string)
	for p, a := range s.Agents {
		if a.Status == AgentDegraded {
			out[p] = a.Reason
		}
	}
	return out
}

// DegradedNames lists degraded dimensions in sorted order.
func (s *RunState) DegradedNames() []string {
	var names []string
	for p := range s.Degraded() {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}

// CanTransition checks whether the run may move to next.
func (s *RunState) CanTransition(next Stage) error {
	if s.Stage.Terminal() {
		return fmt.Errorf("cannot transition from terminal stage %s", s.Stage)
	}
	if next == StageFailed {
		return nil
	}
	for _, allowed := range transitions[s.Stage] {
		if allowed == next {
			return nil
		}
	}
	return fmt.Errorf("cannot transition from %s to %s", s.Stage, next)
}

// Clone returns a deep copy.
func (s *RunState) Clone() *RunState {
	out := *s
	out.Agents = make(map[finding.Producer]*AgentState, len(s.Agents))
	for p, a := range s.Agents {
		out.Agents[p] = a.clone()
	}
	out.Warnings = append([]gate.Violation(nil), s.Warnings...)
	out.FindingIDs = append([]string{}, s.FindingIDs...)
	if s.Report != nil {
		rep := *s.Report
		rep.Sections = append([]report.Section(nil), s.Report.Sections...)
		out.Report = &rep
	}
	return &out
}

// Progress reports a stage or agent transition.
type Progress struct {
	RunID   string           `json:"run_id"`
	Ticker  string           `json:"ticker"`
	Stage   Stage            `json:"stage"`
	Agent   finding.Producer `json:"agent,omitempty"`
	Status  AgentStatus      `json:"status,omitempty"`
	Attempt int              `json:"attempt,omitempty"`
	Message string           `json:"message"`
	At      time.Time        `json:"at"`
}

// ProgressCallback receives progress updates. It is called synchronously
// and must not block.
type ProgressCallback func(Progress)
