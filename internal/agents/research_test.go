package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/finsight/internal/finding"
	"github.com/fyrsmithlabs/finsight/internal/providers/llm"
	"github.com/fyrsmithlabs/finsight/internal/providers/news"
)

const sentimentReply = `SENTIMENT: bullish
SCORE: 7
EXPLANATION: Strong earnings and AI momentum outweigh regulatory noise.`

const riskReply = `RISKS:
- Antitrust scrutiny of App Store fees
- Dependence on iPhone revenue

OPPORTUNITIES:
1. AI features driving an upgrade cycle
2. Services margin expansion`

func isSentimentPrompt(p string) bool { return strings.Contains(p, "SENTIMENT:") }
func isRiskPrompt(p string) bool      { return strings.Contains(p, "RISKS:") }

func TestResearch_LLMPath(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("SearchNews", mock.Anything, "AAPL", 10).Return(appleNews(10), nil)

	completer := &mockCompleter{}
	completer.On("Complete", mock.Anything, mock.MatchedBy(isSentimentPrompt), "prior digest", 500).Return(sentimentReply, nil)
	completer.On("Complete", mock.Anything, mock.MatchedBy(isRiskPrompt), "prior digest", 800).Return(riskReply, nil)

	mem := &contextMemory{}
	mem.On("ContextFor", mock.Anything, "AAPL", researchContext).Return("prior digest", nil)

	agent := NewResearch(searcher, completer, 0, zaptest.NewLogger(t))
	res, err := agent.Execute(context.Background(), "AAPL", Hints{RunID: "run-1"}, mem)
	require.NoError(t, err)

	out, ok := res.Research()
	require.True(t, ok)
	assert.Equal(t, finding.SentimentBullish, out.Sentiment.Label)
	assert.Equal(t, 7.0, out.Sentiment.Score)
	assert.Equal(t, finding.MethodLLM, out.Sentiment.Method)
	assert.Equal(t, 10, out.Sentiment.ArticleCount)
	assert.Len(t, out.Sentiment.Headlines, maxHeadlines)
	assert.Greater(t, out.Sentiment.VerifiedCount, 0)
	assert.Equal(t, []string{"Antitrust scrutiny of App Store fees", "Dependence on iPhone revenue"}, out.Risks)
	assert.Equal(t, []string{"AI features driving an upgrade cycle", "Services margin expansion"}, out.Opportunities)

	require.Len(t, findingsOf(res, finding.KindNewsSentiment), 1)
	assert.Len(t, findingsOf(res, finding.KindRiskItem), 2)
	assert.Len(t, findingsOf(res, finding.KindOpportunityItem), 2)
	for _, f := range res.Findings {
		assert.Equal(t, "AAPL", f.Ticker)
		assert.Equal(t, finding.ProducerResearch, f.Producer)
		assert.Equal(t, "run-1", f.RunID)
		assert.Empty(t, f.ID)
	}
	searcher.AssertExpectations(t)
	completer.AssertExpectations(t)
}

func TestResearch_FallsBackWithoutLLM(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("SearchNews", mock.Anything, "AAPL", 5).Return(appleNews(4), nil)

	agent := NewResearch(searcher, llm.Disabled{}, 5, zaptest.NewLogger(t))
	res, err := agent.Execute(context.Background(), "AAPL", Hints{}, nil)
	require.NoError(t, err)

	out, _ := res.Research()
	assert.Equal(t, finding.MethodLexicon, out.Sentiment.Method)
	assert.Equal(t, finding.SentimentBullish, out.Sentiment.Label)
	assert.NotEmpty(t, out.Risks)
	assert.NotEmpty(t, out.Opportunities)
	assert.LessOrEqual(t, len(out.Risks), maxItems)
}

func TestResearch_UnparsableReplyUsesLexicon(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("SearchNews", mock.Anything, "AAPL", 10).Return(appleNews(4), nil)
	completer := &mockCompleter{}
	completer.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("I cannot say.", nil)

	res, err := NewResearch(searcher, completer, 10, nil).Execute(context.Background(), "AAPL", Hints{}, nil)
	require.NoError(t, err)
	out, _ := res.Research()
	assert.Equal(t, finding.MethodLexicon, out.Sentiment.Method)
}

func TestResearch_NoNewsIsDataUnavailable(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("SearchNews", mock.Anything, "ZZZZ", 10).Return([]news.Article{}, nil)

	_, err := NewResearch(searcher, nil, 10, nil).Execute(context.Background(), "ZZZZ", Hints{}, nil)
	assert.ErrorIs(t, err, finding.ErrDataUnavailable)
}

func TestResearch_SearchError(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("SearchNews", mock.Anything, "AAPL", 10).Return(nil, errors.New("boom"))

	_, err := NewResearch(searcher, nil, 10, nil).Execute(context.Background(), "AAPL", Hints{}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, finding.ErrDataUnavailable)
}

func TestResearch_FeedbackReachesPrompt(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("SearchNews", mock.Anything, "AAPL", 10).Return(appleNews(2), nil)
	completer := &mockCompleter{}
	withFeedback := func(p string) bool { return strings.Contains(p, "score out of range") }
	completer.On("Complete", mock.Anything, mock.MatchedBy(withFeedback), "", mock.Anything).Return("", llm.ErrDisabled).Twice()

	_, err := NewResearch(searcher, completer, 10, nil).Execute(context.Background(), "AAPL", Hints{Feedback: "score out of range"}, nil)
	require.NoError(t, err)
	completer.AssertExpectations(t)
}

func TestParseSentiment(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantLabel finding.Sentiment
		wantScore float64
		wantOK    bool
	}{
		{"plain", "SENTIMENT: bearish\nSCORE: -4\nEXPLANATION: Weak guidance.", finding.SentimentBearish, -4, true},
		{"markdown keys", "**SENTIMENT:** Neutral\n**SCORE:** +1/10\n**EXPLANATION:** Mixed.", finding.SentimentNeutral, 1, true},
		{"clamped", "SENTIMENT: bullish\nSCORE: 42", finding.SentimentBullish, 10, true},
		{"missing score", "SENTIMENT: bullish\nEXPLANATION: Great.", "", 0, false},
		{"unknown label", "SENTIMENT: ecstatic\nSCORE: 5", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, score, _, ok := parseSentiment(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantLabel, label)
			assert.Equal(t, tt.wantScore, score)
		})
	}
}

func TestParseRiskFactors_Bullets(t *testing.T) {
	risks, opps := parseRiskFactors("Intro text\n**RISKS:**\n* one\n• two\n\n## Opportunities\n3) three\n- \n")
	assert.Equal(t, []string{"one", "two"}, risks)
	assert.Equal(t, []string{"three"}, opps)
}

func TestLexiconSentiment_NoPolarWords(t *testing.T) {
	label, score, _ := lexiconSentiment([]news.Article{{Title: "Apple hosts annual event"}})
	assert.Equal(t, finding.SentimentNeutral, label)
	assert.Zero(t, score)
}
