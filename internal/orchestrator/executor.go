package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/finsight/internal/agents"
	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/gate"
	"github.com/fyrsmithlabs/finsight/internal/logging"
	"github.com/fyrsmithlabs/finsight/internal/memory"
	"github.com/fyrsmithlabs/finsight/internal/providers/marketdata"
	"github.com/fyrsmithlabs/finsight/internal/report"
)

var tickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

// Gate validates agent results.
type Gate interface {
	Validate(ctx context.Context, ticker string, result *agents.Result) (gate.Verdict, error)
}

// Deps are the collaborators of an Executor.
type Deps struct {
	Market    marketdata.Provider
	Research  agents.Agent
	Analysis  agents.Agent
	Synthesis agents.Agent
	Gate      Gate
	Memory    memory.Store
}

func (d Deps) validate() error {
	switch {
	case d.Market == nil:
		return errors.New("market data provider is required")
	case d.Research == nil, d.Analysis == nil, d.Synthesis == nil:
		return errors.New("research, analysis and synthesis agents are required")
	case d.Gate == nil:
		return errors.New("quality gate is required")
	case d.Memory == nil:
		return errors.New("memory store is required")
	}
	return nil
}

// Executor runs research requests through the stage machine. It holds no
// per-run state and is safe for concurrent use.
type Executor struct {
	deps     Deps
	cfg      Config
	logger   *zap.Logger
	metrics  *Metrics
	progress ProgressCallback
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor.
func NewExecutor(deps Deps, cfg Config, logger *zap.Logger) (*Executor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	return &Executor{
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		metrics: NewMetrics(logger),
		sleep:   sleepCtx,
	}, nil
}

// OnProgress sets the progress callback.
func (e *Executor) OnProgress(callback ProgressCallback) {
	e.progress = callback
}

// run is the mutable state of one execution.
type run struct {
	e     *Executor
	mu    sync.Mutex
	state *RunState
}

func (r *run) snapshot() *RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

func (r *run) update(fn func(s *RunState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.state)
}

// enter moves the run to stage and reports it.
func (r *run) enter(stage Stage, agent finding.Producer, msg string) {
	r.mu.Lock()
	if err := r.state.CanTransition(stage); err != nil {
		r.mu.Unlock()
		r.e.logger.Warn("ignoring illegal transition", zap.String("run_id", r.state.RunID), zap.Error(err))
		return
	}
	r.state.Stage = stage
	r.mu.Unlock()
	r.report(Progress{Stage: stage, Agent: agent, Message: msg})
}

func (r *run) report(p Progress) {
	p.RunID, p.Ticker = r.state.RunID, r.state.Ticker
	if p.Stage == "" {
		r.mu.Lock()
		p.Stage = r.state.Stage
		r.mu.Unlock()
	}
	p.At = time.Now()
	if r.e.progress != nil {
		r.e.progress(p)
	}
}

func (r *run) agent(p finding.Producer, fn func(a *AgentState)) {
	r.update(func(s *RunState) { fn(s.Agents[p]) })
}

// setStatus moves agent p to status and applies fn in the same critical
// section. Illegal moves are logged and dropped.
func (r *run) setStatus(p finding.Producer, status AgentStatus, fn func(a *AgentState)) {
	r.mu.Lock()
	a := r.state.Agents[p]
	if !a.Status.CanTransition(status) {
		from := a.Status
		r.mu.Unlock()
		r.e.logger.Warn("ignoring illegal agent transition",
			zap.String("run_id", r.state.RunID),
			zap.String("agent", string(p)),
			zap.String("from", string(from)),
			zap.String("to", string(status)))
		return
	}
	a.Status = status
	if status.Terminal() {
		a.CompletedAt = time.Now()
	}
	if fn != nil {
		fn(a)
	}
	r.mu.Unlock()
}

// Run executes req to completion. It always returns the final state; the
// error is the terminal *StageError for failed runs.
func (e *Executor) Run(ctx context.Context, req RunRequest) (*RunState, error) {
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if req.Tone == "" {
		req.Tone = report.ToneNeutral
	}
	if req.Mode == "" {
		req.Mode = ModeParallel
	}
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = e.cfg.DefaultDeadline
	}

	ctx, span := tracer.Start(ctx, "Orchestrator.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", req.RunID),
		attribute.String("ticker", req.Ticker),
		attribute.String("mode", string(req.Mode)),
	)

	var cancel context.CancelFunc
	if req.DeadlineAt.IsZero() {
		ctx, cancel = context.WithTimeout(ctx, deadline)
	} else {
		ctx, cancel = context.WithDeadline(ctx, req.DeadlineAt)
		deadline = time.Until(req.DeadlineAt)
	}
	defer cancel()
	ctx = logging.WithTicker(logging.WithRunID(ctx, req.RunID), req.Ticker)

	r := &run{e: e, state: NewRunState(req)}
	log := e.logger.With(logging.ContextFields(ctx)...)
	log.Info("run started", zap.String("mode", string(req.Mode)), zap.String("tone", string(req.Tone)), zap.Duration("deadline", deadline))
	r.report(Progress{Stage: StageValidating, Message: "run started"})

	err := e.execute(ctx, r, req)

	r.mu.Lock()
	failedAt := r.state.Stage
	r.mu.Unlock()

	outcome := "completed"
	if err != nil {
		outcome = "failed"
		var se *StageError
		if errors.As(err, &se) {
			failedAt = se.Stage
		}
		r.update(func(s *RunState) {
			s.FailedStage = failedAt
			s.Stage = StageFailed
			s.Error = err.Error()
			s.err = err
			s.CompletedAt = time.Now()
			for _, a := range s.Agents {
				if a.Status == AgentRunning || a.Status == AgentRetried {
					a.Status = AgentFailed
					a.CompletedAt = s.CompletedAt
				}
			}
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("run failed", zap.String("stage", string(failedAt)), zap.Error(err))
		r.report(Progress{Stage: StageFailed, Message: err.Error()})
	} else {
		r.update(func(s *RunState) { s.CompletedAt = time.Now() })
		r.enter(StageCompleted, "", "run completed")
		log.Info("run completed", zap.Strings("degraded", r.snapshot().DegradedNames()))
	}

	final := r.snapshot()
	e.metrics.recordRun(ctx, outcome, string(failedAt), final.CompletedAt.Sub(final.StartedAt))
	return final, err
}

func (e *Executor) execute(ctx context.Context, r *run, req RunRequest) error {
	quote, err := e.validateTicker(ctx, req.Ticker)
	if err != nil {
		return err
	}
	r.update(func(s *RunState) { s.CompanyName = quote.CompanyName })

	r.enter(StageDispatching, "", "dispatching "+string(req.Mode))
	if err := e.dispatch(ctx, r, req); err != nil {
		return err
	}

	snap := r.snapshot()
	degraded := snap.Degraded()
	if len(degraded) > e.cfg.DegradeTolerance {
		sentinel := finding.ErrDataUnavailable
		for p := range degraded {
			if snap.Agents[p].RejectedByGate {
				sentinel = finding.ErrRejectedByGate
			}
		}
		return stageError(StageDispatching,
			fmt.Sprintf("%d degraded dimensions exceed tolerance %d (%s)", len(degraded), e.cfg.DegradeTolerance, strings.Join(snap.DegradedNames(), ", ")),
			sentinel)
	}
	if err := ctx.Err(); err != nil {
		return stageError(snap.Stage, "deadline passed before synthesis", finding.ErrDeadlineExceeded)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < e.cfg.SynthesisFloor {
			return stageError(snap.Stage,
				fmt.Sprintf("%s left before synthesis, need %s", left.Round(time.Millisecond), e.cfg.SynthesisFloor),
				finding.ErrDeadlineExceeded)
		}
	}

	return e.synthesize(ctx, r, req, quote.CompanyName)
}

// validateTicker checks syntax and resolves the ticker. Every failure is
// InvalidTicker and nothing is retried.
func (e *Executor) validateTicker(ctx context.Context, ticker string) (marketdata.Quote, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.validate")
	defer span.End()

	if !tickerPattern.MatchString(ticker) {
		return marketdata.Quote{}, stageError(StageValidating, fmt.Sprintf("malformed ticker %q", ticker), finding.ErrInvalidTicker)
	}
	q, err := e.deps.Market.GetQuote(ctx, ticker)
	switch {
	case err != nil && ctx.Err() != nil:
		return marketdata.Quote{}, stageError(StageValidating, "deadline passed during validation", finding.ErrDeadlineExceeded)
	case errors.Is(err, marketdata.ErrNotFound):
		return marketdata.Quote{}, stageError(StageValidating, fmt.Sprintf("no security found for %s", ticker), finding.ErrInvalidTicker)
	case err != nil:
		return marketdata.Quote{}, stageError(StageValidating, fmt.Sprintf("resolving %s: %v", ticker, err), finding.ErrInvalidTicker)
	case strings.TrimSpace(q.CompanyName) == "":
		return marketdata.Quote{}, stageError(StageValidating, fmt.Sprintf("%s has no company name", ticker), finding.ErrInvalidTicker)
	case q.Price <= 0:
		return marketdata.Quote{}, stageError(StageValidating, fmt.Sprintf("%s has no positive price", ticker), finding.ErrInvalidTicker)
	}
	return q, nil
}

// dispatch runs research and analysis and waits for both to become terminal.
func (e *Executor) dispatch(ctx context.Context, r *run, req RunRequest) error {
	hints := agents.Hints{RunID: req.RunID, Tone: req.Tone, CompanyName: r.snapshot().CompanyName}

	if req.Mode == ModeSequential {
		if err := e.dimension(ctx, r, e.deps.Research, StageResearching, e.cfg.ResearchTimeout, hints); err != nil {
			return err
		}
		return e.dimension(ctx, r, e.deps.Analysis, StageAnalyzing, e.cfg.AnalysisTimeout, hints)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	g.Go(func() error {
		return e.dimension(gctx, r, e.deps.Research, StageResearching, e.cfg.ResearchTimeout, hints)
	})
	g.Go(func() error {
		return e.dimension(gctx, r, e.deps.Analysis, StageAnalyzing, e.cfg.AnalysisTimeout, hints)
	})
	return g.Wait()
}

// synthesize produces the report. Rejection twice is fatal.
func (e *Executor) synthesize(ctx context.Context, r *run, req RunRequest, company string) error {
	snap := r.snapshot()
	hints := agents.Hints{
		RunID:       req.RunID,
		Tone:        req.Tone,
		CompanyName: company,
		Research:    snap.Agents[finding.ProducerResearch].Result,
		Analysis:    snap.Agents[finding.ProducerAnalysis].Result,
		Degraded:    snap.Degraded(),
	}

	res, err := e.gated(ctx, r, e.deps.Synthesis, StageSynthesizing, e.cfg.SynthesisTimeout, hints)
	if err != nil {
		r.setStatus(finding.ProducerSynthesis, AgentFailed, func(a *AgentState) { a.Reason = err.Error() })
		if errors.Is(err, errRejectedTwice) {
			return stageError(StageGating, "synthesis rejected twice", fmt.Errorf("%w: %v", finding.ErrRejectedByGate, err))
		}
		var se *StageError
		if errors.As(err, &se) {
			return err
		}
		if !errors.Is(err, finding.ErrDataUnavailable) {
			err = fmt.Errorf("%w: %v", finding.ErrDataUnavailable, err)
		}
		return stageError(StageSynthesizing, "synthesis failed", err)
	}

	out, ok := res.Synthesis()
	if !ok {
		return stageError(StageSynthesizing, "synthesis returned no report", finding.ErrDataUnavailable)
	}
	rep := out.Report
	r.setStatus(finding.ProducerSynthesis, AgentSucceeded, func(a *AgentState) { a.Result = res })
	r.update(func(s *RunState) { s.Report = &rep })
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
