// Package report holds the final report model and its export formats.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Tone selects the framing of the narrative.
type Tone string

const (
	ToneNeutral Tone = "neutral"
	ToneBullish Tone = "bullish"
	ToneBearish Tone = "bearish"
)

// ParseTone returns the tone for s. Empty means neutral.
func ParseTone(s string) (Tone, error) {
	switch t := Tone(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return ToneNeutral, nil
	case ToneNeutral, ToneBullish, ToneBearish:
		return t, nil
	default:
		return "", fmt.Errorf("unknown tone %q", s)
	}
}

// SectionName identifies a report section.
type SectionName string

const (
	SectionExecutiveSummary SectionName = "executive_summary"
	SectionSnapshot         SectionName = "snapshot"
	SectionIndicators       SectionName = "indicators"
	SectionNewsSentiment    SectionName = "news_sentiment"
	SectionOpportunities    SectionName = "opportunities"
	SectionRisks            SectionName = "risks"
	SectionPerspective      SectionName = "perspective"
)

// Sections returns every section in report order.
func Sections() []SectionName {
	return []SectionName{
		SectionExecutiveSummary,
		SectionSnapshot,
		SectionIndicators,
		SectionNewsSentiment,
		SectionOpportunities,
		SectionRisks,
		SectionPerspective,
	}
}

// Title is the heading rendered for the section.
func (s SectionName) Title() string {
	switch s {
	case SectionExecutiveSummary:
		return "Executive Summary"
	case SectionSnapshot:
		return "Snapshot"
	case SectionIndicators:
		return "Indicators"
	case SectionNewsSentiment:
		return "News & Sentiment"
	case SectionOpportunities:
		return "Opportunities"
	case SectionRisks:
		return "Risks"
	case SectionPerspective:
		return "Perspective"
	default:
		return string(s)
	}
}

// MaxSummaryWords bounds the Executive Summary.
const MaxSummaryWords = 150

// Section is one rendered part of a report.
type Section struct {
	Name        SectionName `json:"name"`
	Title       string      `json:"title"`
	Body        string      `json:"body"`
	Unavailable bool        `json:"unavailable,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Citations   []string    `json:"citations"`
}

// Report is the synthesized output of a completed run.
type Report struct {
	RunID       string    `json:"run_id"`
	Ticker      string    `json:"ticker"`
	CompanyName string    `json:"company_name,omitempty"`
	Tone        Tone      `json:"tone"`
	GeneratedAt time.Time `json:"generated_at"`
	Sections    []Section `json:"sections"`

	// Degraded lists upstream dimensions that were unavailable, with reasons.
	Degraded map[string]string `json:"degraded,omitempty"`
}

// Section returns the named section.
func (r *Report) Section(name SectionName) (Section, bool) {
	for _, s := range r.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Format is an export encoding.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat returns the format for s. Empty means markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", "md":
		return FormatMarkdown, nil
	case FormatMarkdown, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// Export encodes r.
func Export(r Report, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(r, "", "  ")
	case FormatMarkdown, "":
		return []byte(Markdown(r)), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// Markdown renders r as a markdown document.
func Markdown(r Report) string {
	var b strings.Builder

	name := r.Ticker
	if r.CompanyName != "" {
		name = fmt.Sprintf("%s (%s)", r.CompanyName, r.Ticker)
	}
	fmt.Fprintf(&b, "# Financial Research Report: %s\n\n", name)
	fmt.Fprintf(&b, "*Generated %s | Tone: %s | Run %s*\n\n", r.GeneratedAt.UTC().Format(time.RFC3339), r.Tone, r.RunID)

	for _, s := range r.Sections {
		title := s.Title
		if title == "" {
			title = s.Name.Title()
		}
		fmt.Fprintf(&b, "## %s\n\n", title)
		if s.Unavailable {
			b.WriteString("> Unavailable")
			if s.Reason != "" {
				b.WriteString(": " + s.Reason)
			}
			b.WriteString("\n\n")
		}
		if body := strings.TrimSpace(s.Body); body != "" {
			b.WriteString(body)
			b.WriteString("\n\n")
		}
		if len(s.Citations) > 0 {
			fmt.Fprintf(&b, "<sub>Sources: %s</sub>\n\n", strings.Join(s.Citations, ", "))
		}
	}

	b.WriteString("---\n\n*This report is for informational purposes only and is not investment advice.*\n")
	return b.String()
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// TruncateWords limits s to maxWords, cutting at the last sentence boundary
// that fits. When the first sentence alone is too long it is cut at the word
// budget and closed with an ellipsis.
func TruncateWords(s string, maxWords int) string {
	s = strings.TrimSpace(s)
	if maxWords <= 0 || WordCount(s) <= maxWords {
		return s
	}

	// Cut at byte offsets so paragraph breaks inside the kept text survive.
	cut, sentenceCut := 0, -1
	start, words := -1, 0
	for i, r := range s {
		if !unicode.IsSpace(r) {
			if start < 0 {
				if words == maxWords {
					break
				}
				start = i
			}
			continue
		}
		if start >= 0 {
			words++
			cut = i
			if endsSentence(s[start:i]) {
				sentenceCut = i
			}
			start = -1
		}
	}
	if sentenceCut >= 0 {
		return s[:sentenceCut]
	}
	return strings.TrimRight(s[:cut], ",;:") + "..."
}

func endsSentence(word string) bool {
	word = strings.TrimRight(word, `"')]`)
	return strings.HasSuffix(word, ".") || strings.HasSuffix(word, "!") || strings.HasSuffix(word, "?")
}
