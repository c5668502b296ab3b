package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/agents"
	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/logging"
)

// errRejectedTwice marks a result rejected on both gate rounds.
var errRejectedTwice = errors.New("rejected on re-execution")

const gateRounds = 2

// dimension runs one upstream agent to a terminal status. It returns an
// error only for run-fatal failures; everything else degrades.
func (e *Executor) dimension(ctx context.Context, r *run, agent agents.Agent, stage Stage, timeout time.Duration, hints agents.Hints) error {
	name := agent.Name()
	r.agent(name, func(a *AgentState) { a.StartedAt = time.Now() })

	res, err := e.gated(ctx, r, agent, stage, timeout, hints)

	var se *StageError
	switch {
	case err == nil:
		r.setStatus(name, AgentSucceeded, func(a *AgentState) { a.Result = res })
		r.report(Progress{Agent: name, Status: AgentSucceeded, Message: "accepted"})
		return nil
	case errors.As(err, &se):
		r.setStatus(name, AgentFailed, func(a *AgentState) { a.Reason = err.Error() })
		return err
	}

	rejected := errors.Is(err, errRejectedTwice)
	reason := err.Error()
	r.setStatus(name, AgentDegraded, func(a *AgentState) {
		a.Reason = reason
		a.RejectedByGate = rejected
	})
	e.logger.Warn("dimension degraded", append(logging.ContextFields(logging.WithStage(ctx, string(stage))),
		zap.String("agent", string(name)),
		zap.Bool("rejected_by_gate", rejected),
		zap.String("reason", reason))...)
	r.report(Progress{Agent: name, Status: AgentDegraded, Message: reason})
	return nil
}

// gated executes agent, validates the result and persists it once accepted.
// A rejection re-executes the agent once with the rejection reason as
// feedback.
func (e *Executor) gated(ctx context.Context, r *run, agent agents.Agent, stage Stage, timeout time.Duration, hints agents.Hints) (*agents.Result, error) {
	name := agent.Name()
	ticker := r.state.Ticker

	var lastReason string
	for round := 1; round <= gateRounds; round++ {
		h := hints
		h.Feedback = lastReason
		msg := "executing"
		if round > 1 {
			msg = "re-executing after rejection"
		}
		r.enter(stage, name, msg)

		res, err := e.attempts(ctx, r, agent, stage, timeout, h)
		if err != nil {
			return nil, err
		}

		r.enter(StageGating, name, "validating "+string(name))
		verdict, err := e.deps.Gate.Validate(ctx, ticker, res)
		if err != nil {
			if ctx.Err() != nil {
				return nil, deadlineError(ctx, StageGating)
			}
			if !errors.Is(err, finding.ErrStore) {
				err = fmt.Errorf("%w: %v", finding.ErrStore, err)
			}
			return nil, stageError(StageGating, "reading prior findings", err)
		}
		r.update(func(s *RunState) {
			a := s.Agents[name]
			a.Verdicts = append(a.Verdicts, verdict)
			s.Warnings = append(s.Warnings, verdict.Warnings...)
			if !verdict.Accepted {
				a.Rejected = append(a.Rejected, res.Clone())
			}
		})
		e.metrics.recordVerdict(ctx, name, verdict.Accepted)

		if verdict.Accepted {
			if ctx.Err() != nil {
				return nil, deadlineError(ctx, StageGating)
			}
			if err := e.persist(ctx, r, res); err != nil {
				return nil, err
			}
			return res, nil
		}
		lastReason = verdict.Reason
		p := Progress{Agent: name, Message: "rejected: " + verdict.Reason}
		if round < gateRounds {
			r.setStatus(name, AgentRetried, nil)
			p.Status = AgentRetried
		}
		r.report(p)
	}
	return nil, fmt.Errorf("%w: %s", errRejectedTwice, lastReason)
}

// attempts executes agent with per-attempt timeouts and retries transient
// failures with exponential backoff.
func (e *Executor) attempts(ctx context.Context, r *run, agent agents.Agent, stage Stage, timeout time.Duration, hints agents.Hints) (*agents.Result, error) {
	name := agent.Name()
	ticker := r.state.Ticker

	ctx, span := tracer.Start(ctx, "Orchestrator."+string(stage))
	defer span.End()
	span.SetAttributes(attribute.String("agent", string(name)))
	ctx = logging.WithStage(ctx, string(stage))

	share := e.cfg.UpstreamShare
	if stage == StageSynthesizing {
		share = 1
	}

	var lastErr error
	for retry := 0; retry <= e.cfg.MaxRetries; retry++ {
		if retry > 0 {
			r.setStatus(name, AgentRetried, nil)
			r.report(Progress{Agent: name, Status: AgentRetried, Message: lastErr.Error()})
			if err := e.sleep(ctx, e.cfg.backoff(retry-1)); err != nil {
				return nil, deadlineError(ctx, stage)
			}
		}
		if ctx.Err() != nil {
			return nil, deadlineError(ctx, stage)
		}

		var attempt int
		r.setStatus(name, AgentRunning, func(a *AgentState) {
			a.Attempts++
			attempt = a.Attempts
		})
		h := hints
		h.Attempt = attempt
		r.report(Progress{Agent: name, Status: AgentRunning, Attempt: attempt, Message: fmt.Sprintf("attempt %d", attempt)})

		limit, runBound := attemptTimeout(ctx, timeout, share)
		actx, cancel := context.WithTimeout(ctx, limit)
		start := time.Now()
		res, err := agent.Execute(actx, ticker, h, e.deps.Memory)
		timedOut := errors.Is(actx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil && res == nil {
			err = errors.New("agent returned no result")
		}
		e.metrics.recordAttempt(ctx, name, time.Since(start), err)

		// Past this point the run itself has no time left for the work
		// that follows, whether or not the agent produced a result.
		if ctx.Err() != nil || (runBound && timedOut) {
			return nil, deadlineError(ctx, stage)
		}
		if err == nil {
			res.Agent = name
			return res, nil
		}
		if errors.Is(err, finding.ErrStore) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, stageError(stage, "memory store failure", err)
		}
		if errors.Is(err, finding.ErrDataUnavailable) || !isTransient(err) {
			return nil, err
		}

		lastErr = err
		e.logger.Info("retrying agent after transient failure", append(logging.ContextFields(ctx),
			zap.String("agent", string(name)),
			zap.Int("attempt", attempt),
			zap.Error(err))...)
	}
	span.SetStatus(codes.Error, "retries exhausted")
	return nil, fmt.Errorf("%d attempts failed: %w", e.cfg.MaxRetries+1, lastErr)
}

// attemptTimeout is min(stage timeout, share of the remaining deadline).
// runBound reports that the run deadline, not the stage timeout, set it.
func attemptTimeout(ctx context.Context, stageTimeout time.Duration, share float64) (limit time.Duration, runBound bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return stageTimeout, false
	}
	budget := time.Duration(float64(time.Until(deadline)) * share)
	if budget < stageTimeout {
		return budget, true
	}
	return stageTimeout, false
}

// persist writes accepted findings and records their ids on res.
func (e *Executor) persist(ctx context.Context, r *run, res *agents.Result) error {
	results := e.deps.Memory.PutBatch(ctx, res.Findings)
	ids := make([]string, 0, len(results))
	var failed error
	for i, pr := range results {
		if pr.Err != nil {
			if failed == nil {
				failed = pr.Err
			}
			continue
		}
		res.Findings[i].ID = pr.ID
		ids = append(ids, pr.ID)
	}
	r.update(func(s *RunState) { s.FindingIDs = append(s.FindingIDs, ids...) })

	if failed != nil {
		if errors.Is(failed, finding.ErrDeadlineExceeded) || ctx.Err() != nil {
			return deadlineError(ctx, StageGating)
		}
		if !errors.Is(failed, finding.ErrStore) {
			failed = fmt.Errorf("%w: %v", finding.ErrStore, failed)
		}
		return stageError(StageGating, fmt.Sprintf("persisting %s findings", res.Agent), failed)
	}
	return nil
}

func deadlineError(ctx context.Context, stage Stage) *StageError {
	reason := "run deadline exceeded"
	if errors.Is(ctx.Err(), context.Canceled) {
		reason = "run cancelled"
	}
	return stageError(stage, reason, finding.ErrDeadlineExceeded)
}
