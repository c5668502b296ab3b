package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/gate"
	"github.com/fyrsmithlabs/finsight/internal/report"
)

func TestNewRunState(t *testing.T) {
	s := NewRunState(RunRequest{RunID: "r1", Ticker: "AAPL", Tone: report.ToneBullish, Mode: ModeSequential})

	assert.Equal(t, StageValidating, s.Stage)
	assert.Len(t, s.Agents, 3)
	for p, a := range s.Agents {
		assert.Equal(t, p, a.Agent)
		assert.Equal(t, AgentPending, a.Status)
	}
	assert.NotNil(t, s.FindingIDs)
	assert.Empty(t, s.Degraded())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Stage
		ok       bool
	}{
		{StageValidating, StageDispatching, true},
		{StageValidating, StageSynthesizing, false},
		{StageDispatching, StageResearching, true},
		{StageResearching, StageAnalyzing, true},
		{StageResearching, StageGating, true},
		{StageAnalyzing, StageSynthesizing, true},
		{StageGating, StageResearching, true},
		{StageGating, StageCompleted, true},
		{StageSynthesizing, StageCompleted, false},
		{StageSynthesizing, StageFailed, true},
		{StageCompleted, StageFailed, false},
		{StageFailed, StageValidating, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			s := &RunState{Stage: tt.from}
			err := s.CanTransition(tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAgentStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to AgentStatus
		ok       bool
	}{
		{AgentPending, AgentRunning, true},
		{AgentRunning, AgentRetried, true},
		{AgentRetried, AgentRunning, true},
		{AgentRunning, AgentSucceeded, true},
		{AgentRunning, AgentDegraded, true},
		{AgentRetried, AgentDegraded, true},
		{AgentRunning, AgentRunning, true},
		{AgentPending, AgentSucceeded, false},
		{AgentRetried, AgentSucceeded, false},
		{AgentSucceeded, AgentRunning, false},
		{AgentDegraded, AgentRetried, false},
		{AgentFailed, AgentRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
	assert.True(t, AgentSucceeded.Terminal())
	assert.False(t, AgentRetried.Terminal())
}

func TestAttemptTimeout(t *testing.T) {
	limit, runBound := attemptTimeout(context.Background(), time.Second, 0.6)
	assert.Equal(t, time.Second, limit)
	assert.False(t, runBound)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	limit, runBound = attemptTimeout(ctx, 10*time.Second, 0.5)
	assert.True(t, runBound)
	assert.InDelta(t, float64(500*time.Millisecond), float64(limit), float64(50*time.Millisecond))

	limit, runBound = attemptTimeout(ctx, 10*time.Millisecond, 0.5)
	assert.Equal(t, 10*time.Millisecond, limit)
	assert.False(t, runBound)
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageCompleted.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.False(t, StageGating.Terminal())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeParallel, m)

	m, err = ParseMode("sequential")
	require.NoError(t, err)
	assert.Equal(t, ModeSequential, m)

	_, err = ParseMode("round-robin")
	assert.Error(t, err)
}

func TestRunStateClone_Independent(t *testing.T) {
	s := NewRunState(RunRequest{RunID: "r1", Ticker: "AAPL"})
	s.FindingIDs = append(s.FindingIDs, "a")
	s.Warnings = []gate.Violation{{Type: gate.ViolationLargeDelta}}
	s.Report = &report.Report{Sections: []report.Section{{Name: report.SectionSnapshot}}}
	s.Agents[finding.ProducerResearch].Verdicts = []gate.Verdict{{Accepted: true}}

	c := s.Clone()
	c.FindingIDs[0] = "b"
	c.Warnings[0].Type = gate.ViolationTooLong
	c.Report.Sections[0].Body = "changed"
	c.Agents[finding.ProducerResearch].Status = AgentFailed
	c.Agents[finding.ProducerResearch].Verdicts[0].Accepted = false

	assert.Equal(t, "a", s.FindingIDs[0])
	assert.Equal(t, gate.ViolationLargeDelta, s.Warnings[0].Type)
	assert.Empty(t, s.Report.Sections[0].Body)
	assert.Equal(t, AgentPending, s.Agents[finding.ProducerResearch].Status)
	assert.True(t, s.Agents[finding.ProducerResearch].Verdicts[0].Accepted)
}

func TestDegradedNames_Sorted(t *testing.T) {
	s := NewRunState(RunRequest{})
	s.Agents[finding.ProducerResearch].Status = AgentDegraded
	s.Agents[finding.ProducerAnalysis].Status = AgentDegraded
	assert.Equal(t, []string{"analysis", "research"}, s.DegradedNames())
}

func TestConfig_Backoff(t *testing.T) {
	c := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 350 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, c.backoff(0))
	assert.Equal(t, 200*time.Millisecond, c.backoff(1))
	assert.Equal(t, 350*time.Millisecond, c.backoff(2))
	assert.Equal(t, 350*time.Millisecond, c.backoff(10))
}

func TestConfig_Defaults(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 2, c.MaxRetries)
	assert.Equal(t, 2, c.DegradeTolerance)
	assert.Equal(t, 2*time.Minute, c.DefaultDeadline)
	assert.InDelta(t, 0.6, c.UpstreamShare, 1e-9)
	assert.Equal(t, 250*time.Millisecond, c.SynthesisFloor)
}

func TestStageError(t *testing.T) {
	err := stageError(StageGating, "persisting research findings", finding.ErrStore)
	assert.ErrorIs(t, err, finding.ErrStore)
	assert.Contains(t, err.Error(), "gating")
	assert.Contains(t, err.Error(), "persisting research findings")
}
