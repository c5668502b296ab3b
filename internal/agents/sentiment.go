package agents

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/providers/news"
)

var scorePattern = regexp.MustCompile(`[-+]?\d+(\.\d+)?`)

// parseSentiment reads the SENTIMENT/SCORE/EXPLANATION response format.
// It fails when either the label or the score is missing.
func parseSentiment(resp string) (finding.Sentiment, float64, string, bool) {
	var (
		label       finding.Sentiment
		score       float64
		haveScore   bool
		explanation []string
		inExplain   bool
	)
	for _, line := range strings.Split(resp, "\n") {
		trimmed := strings.TrimSpace(line)
		key, value, found := strings.Cut(trimmed, ":")
		if found {
			switch strings.ToUpper(strings.Trim(key, "*# ")) {
			case "SENTIMENT":
				label = normalizeLabel(value)
				inExplain = false
				continue
			case "SCORE":
				if m := scorePattern.FindString(value); m != "" {
					if v, err := strconv.ParseFloat(m, 64); err == nil {
						score, haveScore = clamp(v, -10, 10), true
					}
				}
				inExplain = false
				continue
			case "EXPLANATION":
				inExplain = true
				if v := strings.TrimSpace(value); v != "" {
					explanation = append(explanation, v)
				}
				continue
			}
		}
		if inExplain {
			if trimmed == "" && len(explanation) > 0 {
				inExplain = false
				continue
			}
			if trimmed != "" {
				explanation = append(explanation, trimmed)
			}
		}
	}
	if label == "" || !haveScore {
		return "", 0, "", false
	}
	return label, score, strings.Join(explanation, " "), true
}

func normalizeLabel(s string) finding.Sentiment {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "bullish"), strings.Contains(s, "positive"):
		return finding.SentimentBullish
	case strings.Contains(s, "bearish"), strings.Contains(s, "negative"):
		return finding.SentimentBearish
	case strings.Contains(s, "neutral"), strings.Contains(s, "mixed"):
		return finding.SentimentNeutral
	default:
		return ""
	}
}

var (
	positiveWords = []string{
		"beat", "beats", "record", "growth", "surge", "surges", "gain", "gains", "rally",
		"upgrade", "upgraded", "strong", "profit", "expands", "expansion", "launch",
		"partnership", "outperform", "raises", "bullish", "soar", "soars", "boost", "wins",
	}
	negativeWords = []string{
		"miss", "misses", "decline", "declines", "drop", "drops", "fall", "falls", "loss",
		"downgrade", "downgraded", "weak", "lawsuit", "fine", "probe", "investigation",
		"recall", "layoffs", "cut", "cuts", "bearish", "plunge", "plunges", "slump", "warning",
	}
)

// lexiconSentiment scores articles by counting polar words.
func lexiconSentiment(articles []news.Article) (finding.Sentiment, float64, string) {
	var pos, neg int
	for _, a := range articles {
		for _, tok := range words(a.Title + " " + a.Snippet) {
			if contains(positiveWords, tok) {
				pos++
			}
			if contains(negativeWords, tok) {
				neg++
			}
		}
	}
	if pos+neg == 0 {
		return finding.SentimentNeutral, 0, "No polar language found in recent coverage."
	}

	score := math.Round(float64(pos-neg) / float64(pos+neg) * 10)
	label := finding.SentimentNeutral
	switch {
	case score >= 3:
		label = finding.SentimentBullish
	case score <= -3:
		label = finding.SentimentBearish
	}
	explanation := "Lexicon classification over " + strconv.Itoa(len(articles)) + " articles: " +
		strconv.Itoa(pos) + " positive and " + strconv.Itoa(neg) + " negative signals."
	return label, score, explanation
}

// parseRiskFactors reads RISKS:/OPPORTUNITIES: bullet lists.
func parseRiskFactors(resp string) ([]string, []string) {
	var risks, opps []string
	var section *[]string
	for _, line := range strings.Split(resp, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(strings.Trim(trimmed, "*#: "))
		switch {
		case strings.HasPrefix(upper, "RISKS"):
			section = &risks
			continue
		case strings.HasPrefix(upper, "OPPORTUNITIES"):
			section = &opps
			continue
		}
		if section == nil {
			continue
		}
		if item, ok := bullet(trimmed); ok {
			*section = append(*section, item)
		}
	}
	return risks, opps
}

var numberedBullet = regexp.MustCompile(`^\d+[.)]\s+`)

func bullet(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, prefix) {
			item := strings.TrimSpace(line[len(prefix):])
			return item, item != ""
		}
	}
	if loc := numberedBullet.FindStringIndex(line); loc != nil {
		item := strings.TrimSpace(line[loc[1]:])
		return item, item != ""
	}
	return "", false
}

var (
	riskKeywords = []string{
		"lawsuit", "fine", "antitrust", "probe", "investigation", "decline", "drop", "downgrade",
		"recall", "tariff", "tariffs", "competition", "slowdown", "miss", "layoffs", "debt",
		"regulatory", "regulators", "shortage", "risk", "warning",
	}
	opportunityKeywords = []string{
		"record", "growth", "beat", "beats", "upgrade", "expansion", "expands", "launch",
		"partnership", "surge", "raises", "buyback", "dividend", "approval", "demand", "ai",
	}
)

// keywordRiskFactors classifies headlines by keyword. A headline may be both.
func keywordRiskFactors(articles []news.Article) ([]string, []string) {
	var risks, opps []string
	for _, a := range articles {
		if a.Title == "" {
			continue
		}
		toks := words(a.Title + " " + a.Snippet)
		if containsAny(toks, riskKeywords) && !contains(risks, a.Title) {
			risks = append(risks, a.Title)
		}
		if containsAny(toks, opportunityKeywords) && !contains(opps, a.Title) {
			opps = append(opps, a.Title)
		}
	}
	return risks, opps
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsAny(toks, keywords []string) bool {
	for _, t := range toks {
		if contains(keywords, t) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
