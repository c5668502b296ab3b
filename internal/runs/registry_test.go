package runs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/orchestrator"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func connect(t *testing.T) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(startTestNATSServer(t).ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

// fakeRunner reports two progress steps and then runs fn.
type fakeRunner struct {
	mu sync.Mutex
	cb orchestrator.ProgressCallback
	fn func(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunState, error)
}

func (f *fakeRunner) OnProgress(cb orchestrator.ProgressCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *fakeRunner) Run(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunState, error) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	for _, st := range []orchestrator.Stage{orchestrator.StageValidating, orchestrator.StageDispatching} {
		cb(orchestrator.Progress{RunID: req.RunID, Ticker: req.Ticker, Stage: st, Message: string(st), At: time.Now()})
	}
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	s := orchestrator.NewRunState(req)
	s.Stage = orchestrator.StageCompleted
	s.FindingIDs = []string{"f-1", "f-2"}
	return s, nil
}

// blockingRunner waits for cancellation.
func blockingRunner(started chan<- string) *fakeRunner {
	return &fakeRunner{fn: func(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunState, error) {
		if started != nil {
			started <- req.RunID
		}
		<-ctx.Done()
		s := orchestrator.NewRunState(req)
		s.Stage = orchestrator.StageFailed
		return s, &orchestrator.StageError{Stage: orchestrator.StageDispatching, Reason: "run cancelled", Err: finding.ErrDeadlineExceeded}
	}}
}

type failingPublisher struct{}

func (failingPublisher) Publish(string, []byte) error { return errors.New("connection closed") }

func TestRegistry_SubmitPublishesLifecycle(t *testing.T) {
	nc := connect(t)
	msgs := make(chan *nats.Msg, 16)
	sub, err := nc.ChanSubscribe("finsight.runs.>", msgs)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, nc.Flush())

	reg := New(&fakeRunner{}, nc, Config{}, zaptest.NewLogger(t))
	id, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "brk.b"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap, err := reg.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, "BRK.B", snap.Ticker)
	require.NotNil(t, snap.State)
	assert.Equal(t, orchestrator.StageCompleted, snap.State.Stage)

	var events []Event
	timeout := time.After(3 * time.Second)
	for len(events) < 4 {
		select {
		case m := <-msgs:
			var body Message
			require.NoError(t, json.Unmarshal(m.Data, &body))
			assert.Equal(t, id, body.RunID)
			assert.Equal(t, "finsight.runs.BRK_B."+id+"."+string(body.Event), m.Subject)
			if body.Event == EventCompleted {
				assert.Equal(t, []string{"f-1", "f-2"}, body.FindingIDs)
			}
			events = append(events, body.Event)
		case <-timeout:
			t.Fatalf("received only %v", events)
		}
	}
	assert.Equal(t, []Event{EventStarted, EventProgress, EventProgress, EventCompleted}, events)
}

func TestRegistry_FailedRun(t *testing.T) {
	nc := connect(t)
	sub, err := nc.SubscribeSync("finsight.runs.ZZZZ.*.failed")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	runner := &fakeRunner{fn: func(_ context.Context, req orchestrator.RunRequest) (*orchestrator.RunState, error) {
		s := orchestrator.NewRunState(req)
		s.Stage = orchestrator.StageFailed
		return s, &orchestrator.StageError{Stage: orchestrator.StageValidating, Reason: "no security found for ZZZZ", Err: finding.ErrInvalidTicker}
	}}
	reg := New(runner, nc, Config{}, zaptest.NewLogger(t))
	id, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "ZZZZ"})
	require.NoError(t, err)

	snap, err := reg.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "no security found")

	m, err := sub.NextMsg(3 * time.Second)
	require.NoError(t, err)
	var body Message
	require.NoError(t, json.Unmarshal(m.Data, &body))
	assert.Equal(t, EventFailed, body.Event)
	assert.Contains(t, body.Error, "invalid ticker")
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := New(&fakeRunner{}, nil, Config{}, nil)
	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reg.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, reg.Cancel("missing"), ErrNotFound)
}

func TestRegistry_SubmitValidation(t *testing.T) {
	reg := New(&fakeRunner{}, nil, Config{}, nil)
	_, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "  "})
	assert.Error(t, err)

	id, err := reg.Submit(context.Background(), orchestrator.RunRequest{RunID: "fixed", Ticker: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)
	_, err = reg.Submit(context.Background(), orchestrator.RunRequest{RunID: "fixed", Ticker: "AAPL"})
	assert.Error(t, err)
}

func TestRegistry_WaitHonorsContext(t *testing.T) {
	started := make(chan string, 1)
	reg := New(blockingRunner(started), nil, Config{}, zaptest.NewLogger(t))
	defer func() { _ = reg.Shutdown(context.Background()) }()

	id, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "AAPL"})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	snap, err := reg.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, orchestrator.StageDispatching, snap.Stage)
}

func TestRegistry_SubmitDetachesFromRequestContext(t *testing.T) {
	reg := New(&fakeRunner{}, nil, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	id, err := reg.Submit(ctx, orchestrator.RunRequest{Ticker: "AAPL"})
	require.NoError(t, err)
	cancel()

	snap, err := reg.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
}

func TestRegistry_Cancel(t *testing.T) {
	started := make(chan string, 1)
	reg := New(blockingRunner(started), nil, Config{}, nil)
	id, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "AAPL"})
	require.NoError(t, err)
	<-started

	require.NoError(t, reg.Cancel(id))
	snap, err := reg.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
}

func TestRegistry_MaxConcurrentQueues(t *testing.T) {
	started := make(chan string, 2)
	reg := New(blockingRunner(started), nil, Config{MaxConcurrent: 1}, nil)
	defer func() { _ = reg.Shutdown(context.Background()) }()

	first, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "AAPL"})
	require.NoError(t, err)
	second, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, first, <-started)

	snap, err := reg.Get(second)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, snap.Status)

	require.NoError(t, reg.Cancel(first))
	assert.Equal(t, second, <-started)
}

func TestRegistry_StampsDeadlineAtSubmit(t *testing.T) {
	got := make(chan orchestrator.RunRequest, 2)
	runner := &fakeRunner{fn: func(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunState, error) {
		got <- req
		dl, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, req.DeadlineAt, dl, time.Millisecond)
		return orchestrator.NewRunState(req), nil
	}}
	reg := New(runner, nil, Config{DefaultDeadline: time.Minute}, nil)

	before := time.Now()
	id, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "AAPL", Deadline: 90 * time.Second})
	require.NoError(t, err)
	req := <-got
	assert.WithinDuration(t, before.Add(90*time.Second), req.DeadlineAt, time.Second)
	snap, err := reg.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, req.DeadlineAt, snap.Deadline)

	_, err = reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "MSFT"})
	require.NoError(t, err)
	req = <-got
	assert.WithinDuration(t, before.Add(time.Minute), req.DeadlineAt, time.Second)
}

func TestRegistry_QueuedRunDeadlineIncludesWait(t *testing.T) {
	started := make(chan string, 2)
	reg := New(blockingRunner(started), nil, Config{MaxConcurrent: 1}, nil)
	defer func() { _ = reg.Shutdown(context.Background()) }()

	first, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "AAPL", Deadline: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, first, <-started)

	queued, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "MSFT", Deadline: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := reg.Wait(ctx, queued)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "deadline passed while queued")
	assert.Nil(t, snap.State, "the run never reached the executor")
	assert.Len(t, started, 0)
}

func TestRegistry_Retention(t *testing.T) {
	reg := New(&fakeRunner{}, nil, Config{Retention: 20 * time.Millisecond}, nil)
	id, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "AAPL"})
	require.NoError(t, err)
	_, err = reg.Wait(context.Background(), id)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := reg.Get(id)
		return errors.Is(err, ErrNotFound)
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_ShutdownCancelsRuns(t *testing.T) {
	started := make(chan string, 1)
	reg := New(blockingRunner(started), nil, Config{}, nil)
	id, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "AAPL"})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))

	snap, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)

	_, err = reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "AAPL"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegistry_PublishFailureDoesNotFailRun(t *testing.T) {
	reg := New(&fakeRunner{}, failingPublisher{}, Config{}, zaptest.NewLogger(t))
	id, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "AAPL"})
	require.NoError(t, err)
	snap, err := reg.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	reg := New(&fakeRunner{}, nil, Config{}, nil)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var tick int
	var mu sync.Mutex
	reg.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	a, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "AAPL"})
	require.NoError(t, err)
	_, _ = reg.Wait(context.Background(), a)
	b, err := reg.Submit(context.Background(), orchestrator.RunRequest{Ticker: "MSFT"})
	require.NoError(t, err)
	_, _ = reg.Wait(context.Background(), b)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, b, list[0].ID)
	assert.Equal(t, a, list[1].ID)
}

func TestEvents_Subject(t *testing.T) {
	e := NewEvents(nil, "desk.runs.", nil)
	assert.Equal(t, "desk.runs.BRK_B.r1.progress", e.Subject("BRK.B", "r1", EventProgress))
	assert.Equal(t, "desk.runs._.r_1.started", e.Subject("", "r*1", EventStarted))
}
