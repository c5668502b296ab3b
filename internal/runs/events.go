package runs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/orchestrator"
)

// Event names the last subject token of a run event.
type Event string

const (
	EventStarted   Event = "started"
	EventProgress  Event = "progress"
	EventCompleted Event = "completed"
	EventFailed    Event = "failed"
)

// Publisher sends raw messages. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON body of every run event.
type Message struct {
	RunID   string             `json:"run_id"`
	Ticker  string             `json:"ticker"`
	Event   Event              `json:"event"`
	Status  Status             `json:"status,omitempty"`
	Stage   orchestrator.Stage `json:"stage,omitempty"`
	Agent   string             `json:"agent,omitempty"`
	Attempt int                `json:"attempt,omitempty"`
	Message string             `json:"message,omitempty"`
	Error   string             `json:"error,omitempty"`

	// Degraded and FindingIDs are set on terminal events.
	Degraded   []string  `json:"degraded,omitempty"`
	FindingIDs []string  `json:"finding_ids,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Events publishes run events. A nil publisher makes every call a no-op.
// Publish failures are logged and never affect the run.
type Events struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
}

// NewEvents creates an event publisher rooted at prefix.
func NewEvents(pub Publisher, prefix string, logger *zap.Logger) *Events {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Events{pub: pub, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Subject returns the subject for event on a run.
func (e *Events) Subject(ticker, runID string, event Event) string {
	return fmt.Sprintf("%s.%s.%s.%s", e.prefix, token(ticker), token(runID), event)
}

// Publish emits a lifecycle event built from snap.
func (e *Events) Publish(event Event, snap Snapshot) {
	msg := Message{
		RunID:     snap.ID,
		Ticker:    snap.Ticker,
		Event:     event,
		Status:    snap.Status,
		Stage:     snap.Stage,
		Message:   snap.Message,
		Error:     snap.Error,
		Timestamp: snap.UpdatedAt,
	}
	if s := snap.State; s != nil {
		msg.Degraded = s.DegradedNames()
		msg.FindingIDs = s.FindingIDs
	}
	if !snap.FinishedAt.IsZero() {
		msg.DurationMS = snap.FinishedAt.Sub(snap.SubmittedAt).Milliseconds()
	}
	e.send(msg)
}

// Progress emits a progress event for p.
func (e *Events) Progress(ticker string, p orchestrator.Progress) {
	e.send(Message{
		RunID:     p.RunID,
		Ticker:    ticker,
		Event:     EventProgress,
		Status:    StatusRunning,
		Stage:     p.Stage,
		Agent:     string(p.Agent),
		Attempt:   p.Attempt,
		Message:   p.Message,
		Timestamp: p.At,
	})
}

func (e *Events) send(msg Message) {
	if e == nil || e.pub == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		e.logger.Warn("marshal run event", zap.String("run_id", msg.RunID), zap.Error(err))
		return
	}
	subject := e.Subject(msg.Ticker, msg.RunID, msg.Event)
	if err := e.pub.Publish(subject, data); err != nil {
		eventsFailed.Inc()
		e.logger.Warn("publish run event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
