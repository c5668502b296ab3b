// Package finding defines the unit of knowledge exchanged between agents
// and the error taxonomy shared by every stage of a run.
package finding

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind tags the payload variant carried by a Finding.
type Kind string

const (
	KindNewsSentiment    Kind = "news_sentiment"
	KindRiskItem         Kind = "risk_item"
	KindOpportunityItem  Kind = "opportunity_item"
	KindValuationMetric  Kind = "valuation_metric"
	KindHealthMetric     Kind = "health_metric"
	KindGrowthMetric     Kind = "growth_metric"
	KindRiskScore        Kind = "risk_score"
	KindNarrativeSection Kind = "narrative_section"
)

// AllKinds returns every kind in declaration order.
func AllKinds() []Kind {
	return []Kind{
		KindNewsSentiment,
		KindRiskItem,
		KindOpportunityItem,
		KindValuationMetric,
		KindHealthMetric,
		KindGrowthMetric,
		KindRiskScore,
		KindNarrativeSection,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Producer identifies the agent that created a Finding.
type Producer string

const (
	ProducerResearch  Producer = "research"
	ProducerAnalysis  Producer = "analysis"
	ProducerSynthesis Producer = "synthesis"
)

// Finding is an immutable unit of knowledge produced by a task agent.
//
// ID, CreatedAt and Embedding are assigned by the memory store when the
// Finding is written. A changed payload is a new Finding.
type Finding struct {
	ID        string    `json:"id"`
	Ticker    string    `json:"ticker"`
	Producer  Producer  `json:"producer"`
	RunID     string    `json:"run_id,omitempty"`
	Kind      Kind      `json:"kind"`
	Content   Payload   `json:"content"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// New builds an unsaved Finding whose kind is taken from the payload.
func New(ticker string, producer Producer, runID string, content Payload) Finding {
	f := Finding{
		Ticker:   strings.ToUpper(strings.TrimSpace(ticker)),
		Producer: producer,
		RunID:    runID,
		Content:  content,
	}
	if content != nil {
		f.Kind = content.Kind()
	}
	return f
}

// Text returns the textual rendering used for embeddings and context digests.
func (f Finding) Text() string {
	if f.Content == nil {
		return ""
	}
	return f.Content.Text()
}

// Validate checks the fields a store requires before writing.
func (f Finding) Validate() error {
	if strings.TrimSpace(f.Ticker) == "" {
		return fmt.Errorf("%w: ticker is required", ErrStore)
	}
	if f.Kind == "" {
		return fmt.Errorf("%w: kind is required", ErrStore)
	}
	if !f.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrStore, f.Kind)
	}
	if f.Content == nil {
		return fmt.Errorf("%w: content is required", ErrStore)
	}
	if f.Content.Kind() != f.Kind {
		return fmt.Errorf("%w: content is %s but kind is %s", ErrStore, f.Content.Kind(), f.Kind)
	}
	return nil
}

// Clone returns a copy that shares no slices or pointers with f,
// including those inside the payload.
func (f Finding) Clone() Finding {
	out := f
	out.Embedding = cloneSlice(f.Embedding)
	out.Content = clonePayload(f.Content)
	return out
}

type findingJSON struct {
	ID        string          `json:"id"`
	Ticker    string          `json:"ticker"`
	Producer  Producer        `json:"producer"`
	RunID     string          `json:"run_id,omitempty"`
	Kind      Kind            `json:"kind"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// UnmarshalJSON decodes content into the variant named by kind.
func (f *Finding) UnmarshalJSON(data []byte) error {
	var raw findingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	content, err := DecodePayload(raw.Kind, raw.Content)
	if err != nil {
		return err
	}
	*f = Finding{
		ID:        raw.ID,
		Ticker:    raw.Ticker,
		Producer:  raw.Producer,
		RunID:     raw.RunID,
		Kind:      raw.Kind,
		Content:   content,
		CreatedAt: raw.CreatedAt,
	}
	return nil
}

// IDs returns the ids of the given findings in order.
func IDs(findings []Finding) []string {
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		if f.ID != "" {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// OfKind returns the findings with the given kind, preserving order.
func OfKind(findings []Finding, kind Kind) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}
