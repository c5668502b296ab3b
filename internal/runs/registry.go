// Package runs tracks asynchronous research runs.
//
// The registry keeps every run in memory for fast lookups and, when a
// publisher is configured, emits lifecycle events to NATS subjects:
//
//	{prefix}.{ticker}.{run_id}.started
//	{prefix}.{ticker}.{run_id}.progress
//	{prefix}.{ticker}.{run_id}.completed
//	{prefix}.{ticker}.{run_id}.failed
//
// Finished runs are removed after the retention period.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/orchestrator"
)

var (
	// ErrNotFound is returned for unknown or expired run ids.
	ErrNotFound = errors.New("run not found")

	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("run registry is shut down")
)

// Status is the coarse lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Done reports whether the run has finished.
func (s Status) Done() bool { return s == StatusCompleted || s == StatusFailed }

// Runner executes runs. *orchestrator.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunState, error)
	OnProgress(callback orchestrator.ProgressCallback)
}

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	ID          string             `json:"run_id"`
	Ticker      string             `json:"ticker"`
	Status      Status             `json:"status"`
	Stage       orchestrator.Stage `json:"stage,omitempty"`
	Message     string             `json:"message,omitempty"`
	Error       string             `json:"error,omitempty"`
	SubmittedAt time.Time          `json:"submitted_at"`
	Deadline    time.Time          `json:"deadline"`
	UpdatedAt   time.Time          `json:"updated_at"`
	FinishedAt  time.Time          `json:"finished_at,omitempty"`

	// State is the final orchestrator state, set once the run is done.
	State *orchestrator.RunState `json:"state,omitempty"`
}

// Config controls retention and concurrency.
type Config struct {
	// Retention is how long finished runs stay queryable.
	Retention time.Duration `koanf:"retention"`

	// MaxConcurrent bounds runs executing at once. Extra runs queue.
	MaxConcurrent int `koanf:"max_concurrent"`

	// SubjectPrefix is the first token of event subjects.
	SubjectPrefix string `koanf:"subject_prefix"`

	// DefaultDeadline bounds runs submitted without a deadline, counted
	// from submission.
	DefaultDeadline time.Duration `koanf:"default_deadline"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "finsight.runs"
	}
	if c.DefaultDeadline <= 0 {
		c.DefaultDeadline = 2 * time.Minute
	}
}

type entry struct {
	mu     sync.Mutex
	snap   Snapshot
	done   chan struct{}
	cancel context.CancelFunc
}

func (e *entry) snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.snap
	if s.State != nil {
		s.State = s.State.Clone()
	}
	return s
}

// Registry runs requests in the background and records their outcome.
type Registry struct {
	runner Runner
	events *Events
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	runs sync.Map // run id -> *entry
	sem  chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
	base   context.Context
	stop   context.CancelFunc
}

// New creates a registry over runner. A nil publisher disables events.
func New(runner Runner, pub Publisher, cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	base, stop := context.WithCancel(context.Background())
	r := &Registry{
		runner: runner,
		events: NewEvents(pub, cfg.SubjectPrefix, logger),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		base:   base,
		stop:   stop,
	}
	runner.OnProgress(r.onProgress)
	return r
}

// Submit queues req and returns its run id without waiting. Request-scoped
// values of ctx (trace, logger fields) carry into the run; its cancellation
// does not. The run deadline starts at submission, so a run that waits in
// the queue past it fails without executing.
func (r *Registry) Submit(ctx context.Context, req orchestrator.RunRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}
	if strings.TrimSpace(req.Ticker) == "" {
		return "", fmt.Errorf("ticker is required")
	}
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	if _, exists := r.runs.Load(req.RunID); exists {
		return "", fmt.Errorf("run %s already exists", req.RunID)
	}
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))

	now := r.now()
	if req.DeadlineAt.IsZero() {
		d := req.Deadline
		if d <= 0 {
			d = r.cfg.DefaultDeadline
		}
		req.DeadlineAt = now.Add(d)
	}

	runCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), req.DeadlineAt)
	release := context.AfterFunc(r.base, cancel)

	e := &entry{
		snap: Snapshot{
			ID:          req.RunID,
			Ticker:      req.Ticker,
			Status:      StatusPending,
			SubmittedAt: now,
			UpdatedAt:   now,
			Deadline:    req.DeadlineAt,
		},
		done:   make(chan struct{}),
		cancel: cancel,
	}
	r.runs.Store(req.RunID, e)
	activeRuns.Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer release()
		defer cancel()
		r.execute(runCtx, e, req)
	}()
	return req.RunID, nil
}

func (r *Registry) execute(ctx context.Context, e *entry, req orchestrator.RunRequest) {
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		reason := "cancelled while queued"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "deadline passed while queued"
		}
		r.finish(e, nil, &orchestrator.StageError{Stage: orchestrator.StageValidating, Reason: reason, Err: finding.ErrDeadlineExceeded})
		return
	}

	e.mu.Lock()
	e.snap.Status = StatusRunning
	e.snap.Stage = orchestrator.StageValidating
	e.snap.UpdatedAt = r.now()
	snap := e.snap
	e.mu.Unlock()
	r.events.Publish(EventStarted, snap)

	r.logger.Info("run submitted to executor", zap.String("run_id", req.RunID), zap.String("ticker", req.Ticker))
	state, err := r.runner.Run(ctx, req)
	r.finish(e, state, err)
}

func (r *Registry) finish(e *entry, state *orchestrator.RunState, err error) {
	e.mu.Lock()
	now := r.now()
	e.snap.UpdatedAt = now
	e.snap.FinishedAt = now
	e.snap.State = state
	if state != nil {
		e.snap.Stage = state.Stage
	}
	event := EventCompleted
	if err != nil {
		e.snap.Status = StatusFailed
		e.snap.Error = err.Error()
		event = EventFailed
	} else {
		e.snap.Status = StatusCompleted
	}
	snap := e.snap
	e.mu.Unlock()

	close(e.done)
	activeRuns.Dec()
	runsFinished.WithLabelValues(string(snap.Status)).Inc()
	r.events.Publish(event, snap)

	id := snap.ID
	time.AfterFunc(r.cfg.Retention, func() { r.runs.Delete(id) })
}

// onProgress routes executor progress to the run it belongs to.
func (r *Registry) onProgress(p orchestrator.Progress) {
	v, ok := r.runs.Load(p.RunID)
	if !ok {
		return
	}
	e := v.(*entry)
	e.mu.Lock()
	if e.snap.Status.Done() {
		e.mu.Unlock()
		return
	}
	e.snap.Stage = p.Stage
	e.snap.Message = p.Message
	e.snap.UpdatedAt = r.now()
	ticker := e.snap.Ticker
	e.mu.Unlock()
	r.events.Progress(ticker, p)
}

// Get returns the current snapshot of run id.
func (r *Registry) Get(id string) (Snapshot, error) {
	e, err := r.entry(id)
	if err != nil {
		return Snapshot{}, err
	}
	return e.snapshot(), nil
}

// Wait blocks until run id finishes or ctx ends. On ctx end it returns the
// latest snapshot along with the context error.
func (r *Registry) Wait(ctx context.Context, id string) (Snapshot, error) {
	e, err := r.entry(id)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-e.done:
		return e.snapshot(), nil
	case <-ctx.Done():
		return e.snapshot(), ctx.Err()
	}
}

// Cancel stops run id. Cancelling a finished run is a no-op.
func (r *Registry) Cancel(id string) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.cancel()
	return nil
}

// List returns snapshots of all retained runs, newest first.
func (r *Registry) List() []Snapshot {
	var out []Snapshot
	r.runs.Range(func(_, v any) bool {
		out = append(out, v.(*entry).snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Shutdown refuses new runs, cancels running ones and waits for them to
// record their outcome or for ctx to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs: %w", ctx.Err())
	}
}

func (r *Registry) entry(id string) (*entry, error) {
	v, ok := r.runs.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v.(*entry), nil
}
