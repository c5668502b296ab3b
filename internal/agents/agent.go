// Package agents implements the task agents that gather, analyze and
// synthesize findings during a run.
//
// Agents read from the memory store but never write to it. The orchestrator
// persists a result's findings only after the quality gate accepts them and
// writes the assigned ids back into Result.Findings.
package agents

import (
	"context"

	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/memory"
	"github.com/fyrsmithlabs/finsight/internal/report"
)

// Agent is one task-executing worker.
type Agent interface {
	Name() finding.Producer
	Execute(ctx context.Context, ticker string, hints Hints, mem memory.Store) (*Result, error)
}

// Hints carry run context into an agent call.
type Hints struct {
	RunID       string
	Tone        report.Tone
	CompanyName string

	// Attempt is 1 for the first execution.
	Attempt int

	// Feedback is the gate's rejection reason from the previous attempt.
	Feedback string

	// Upstream results for synthesis. Nil when the dimension is degraded.
	Research *Result
	Analysis *Result

	// Degraded maps a degraded upstream producer to its reason.
	Degraded map[finding.Producer]string
}

// Output is the typed payload of a Result. The variants are closed.
type Output interface {
	producer() finding.Producer
}

// Result is what an agent returns for gating.
type Result struct {
	Agent    finding.Producer
	Payload  Output
	Findings []finding.Finding
}

// Clone copies the result so the findings slice can be updated independently.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Findings = make([]finding.Finding, len(r.Findings))
	for i, f := range r.Findings {
		out.Findings[i] = f.Clone()
	}
	return &out
}

// Research returns the research payload, if that is the variant.
func (r *Result) Research() (*ResearchOutput, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.Payload.(*ResearchOutput)
	return p, ok
}

// Analysis returns the analysis payload, if that is the variant.
func (r *Result) Analysis() (*AnalysisOutput, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.Payload.(*AnalysisOutput)
	return p, ok
}

// Synthesis returns the synthesis payload, if that is the variant.
func (r *Result) Synthesis() (*SynthesisOutput, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.Payload.(*SynthesisOutput)
	return p, ok
}

// firstID returns the id of the first finding of kind that satisfies keep.
func firstID(findings []finding.Finding, kind finding.Kind, keep func(finding.Finding) bool) string {
	for _, f := range findings {
		if f.Kind != kind || f.ID == "" {
			continue
		}
		if keep == nil || keep(f) {
			return f.ID
		}
	}
	return ""
}

func appendID(ids []string, id string) []string {
	if id == "" {
		return ids
	}
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
