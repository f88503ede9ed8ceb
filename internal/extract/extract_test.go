package extract

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/extractd/internal/document"
	"github.com/fyrsmithlabs/extractd/internal/fieldspec"
	"github.com/fyrsmithlabs/extractd/internal/record"
	"github.com/fyrsmithlabs/extractd/internal/retrieval"
	"github.com/fyrsmithlabs/extractd/internal/worker"
)

// mockWorker returns canned responses and counts calls.
type mockWorker struct {
	response string
	err      error
	calls    int
	lastReq  worker.Request
}

func (m *mockWorker) Generate(_ context.Context, req worker.Request) (worker.Response, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return worker.Response{}, m.err
	}
	return worker.Response{Text: m.response, Model: "mock"}, nil
}

func (m *mockWorker) Model() string { return "mock" }

func articleSpec() fieldspec.FieldSpec {
	return fieldspec.FieldSpec{
		ID:                fieldspec.FieldArticleClassification,
		Query:             "SFDR article classification",
		Instruction:       "Classify the SFDR article.",
		Shape:             fieldspec.ShapeEnum,
		AllowedValues:     []string{"6", "8", "9"},
		EvidenceThreshold: 0.5,
		RetrievalK:        3,
		MaxAttempts:       3,
	}
}

func candidatesWith(score float64) []retrieval.Candidate {
	return []retrieval.Candidate{
		{
			Section: document.Section{
				ID: "s2", Ordinal: 1, Title: "SFDR Disclosure", PageStart: 4,
				Text: "This fund discloses under Article 9 of the SFDR regulation.",
			},
			Score: score,
		},
	}
}

func TestExtract_EvidenceAbsent_NoWorkerCall(t *testing.T) {
	w := &mockWorker{response: "9"}
	e := New(w, DefaultConfig(), nil)

	tests := []struct {
		name       string
		candidates []retrieval.Candidate
	}{
		{"no candidates", nil},
		{"top score below threshold", candidatesWith(0.2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := e.Extract(context.Background(), articleSpec(), tt.candidates, 0.5)
			require.NoError(t, err)

			assert.Equal(t, record.StatusMissing, outcome.Status)
			assert.Zero(t, outcome.Confidence)
			assert.Empty(t, outcome.Citations)
			assert.Equal(t, "evidence_absent", outcome.LastError)
			assert.Zero(t, w.calls, "worker must not be called on absent evidence")
			assert.NoError(t, outcome.Validate())
		})
	}
}

func TestExtract_FilledEnum(t *testing.T) {
	w := &mockWorker{response: "The fund is classified under Article 9.\nconfidence: 0.9"}
	e := New(w, DefaultConfig(), nil)

	outcome, err := e.Extract(context.Background(), articleSpec(), candidatesWith(2.1), 0.5)
	require.NoError(t, err)

	assert.Equal(t, record.StatusFilled, outcome.Status)
	assert.Equal(t, "9", outcome.Value)
	assert.Equal(t, 1, w.calls)

	require.Len(t, outcome.Citations, 1)
	assert.Equal(t, "s2", outcome.Citations[0].SectionID)
	assert.Equal(t, 4, outcome.Citations[0].Page)
	assert.NotEmpty(t, outcome.Citations[0].Quote)

	assert.Greater(t, outcome.Confidence, 0.0)
	assert.LessOrEqual(t, outcome.Confidence, 1.0)
	assert.NoError(t, outcome.Validate())

	// Extraction calls are deterministic.
	assert.Zero(t, w.lastReq.Temperature)
}

func TestExtract_ParseErrorRetryable(t *testing.T) {
	w := &mockWorker{response: "I cannot determine the classification from this."}
	e := New(w, DefaultConfig(), nil)

	_, err := e.Extract(context.Background(), articleSpec(), candidatesWith(2.1), 0.5)
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, fieldspec.FieldArticleClassification, pe.FieldID)
}

func TestExtract_NotStatedResolvesMissing(t *testing.T) {
	spec := fieldspec.FieldSpec{
		ID:          fieldspec.FieldSustainableDefinition,
		Query:       "sustainable investment definition",
		Instruction: "Quote the definition.",
		Shape:       fieldspec.ShapeFreeText,
		RetrievalK:  5,
		MaxAttempts: 3,
	}
	w := &mockWorker{response: "The definition is not stated in the excerpts.\nconfidence: 0.8"}
	e := New(w, DefaultConfig(), nil)

	outcome, err := e.Extract(context.Background(), spec, candidatesWith(1.5), 0.5)
	require.NoError(t, err)

	assert.Equal(t, record.StatusMissing, outcome.Status)
	assert.Equal(t, "not_stated", outcome.LastError)
	assert.Empty(t, outcome.Citations)
	assert.Equal(t, 1, w.calls)
}

func TestExtract_WorkerErrorPropagates(t *testing.T) {
	w := &mockWorker{err: worker.NewError(worker.KindUnavailable, "down", nil)}
	e := New(w, DefaultConfig(), nil)

	_, err := e.Extract(context.Background(), articleSpec(), candidatesWith(2.1), 0.5)
	require.Error(t, err)
	assert.Equal(t, worker.KindUnavailable, worker.KindOf(err))
}

func TestExtract_TruncationIsProtocolError(t *testing.T) {
	w := &truncatingWorker{}
	e := New(w, DefaultConfig(), nil)

	_, err := e.Extract(context.Background(), articleSpec(), candidatesWith(2.1), 0.5)
	require.Error(t, err)
	assert.Equal(t, worker.KindProtocol, worker.KindOf(err))
}

type truncatingWorker struct{}

func (w *truncatingWorker) Generate(context.Context, worker.Request) (worker.Response, error) {
	return worker.Response{Text: "Article", Truncated: true}, nil
}

func (w *truncatingWorker) Model() string { return "mock" }

func TestExtract_PromptBounded(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'a'
	}
	candidates := []retrieval.Candidate{
		{Section: document.Section{ID: "s1", Title: "A", Text: string(long)}, Score: 3},
		{Section: document.Section{ID: "s2", Title: "B", Text: string(long)}, Score: 2},
		{Section: document.Section{ID: "s3", Title: "C", Text: string(long)}, Score: 2},
		{Section: document.Section{ID: "s4", Title: "D", Text: string(long)}, Score: 1},
	}

	w := &mockWorker{response: "9"}
	cfg := Config{MaxSections: 2, SectionByteBudget: 100, MaxTokens: 200}
	e := New(w, cfg, nil)

	outcome, err := e.Extract(context.Background(), articleSpec(), candidates, 0.5)
	require.NoError(t, err)

	// Two sections, 100 bytes each plus instruction overhead.
	assert.Less(t, len(w.lastReq.Prompt), 600)
	assert.NotContains(t, w.lastReq.Prompt, "[3]")
	assert.Len(t, outcome.Citations, 2)
}

func TestExtract_PromptExcerptRuneSafe(t *testing.T) {
	// A byte budget landing inside a multi-byte character must not leak an
	// invalid UTF-8 tail into the prompt.
	candidates := []retrieval.Candidate{
		{Section: document.Section{ID: "s1", Title: "Durabilité", Text: strings.Repeat("é", 200)}, Score: 3},
	}

	w := &mockWorker{response: "9"}
	cfg := Config{MaxSections: 1, SectionByteBudget: 101, MaxTokens: 200}
	e := New(w, cfg, nil)

	_, err := e.Extract(context.Background(), articleSpec(), candidates, 0.5)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(w.lastReq.Prompt))
}

func TestCombineConfidence(t *testing.T) {
	tests := []struct {
		name       string
		retrieval  float64
		selfReport float64
		check      func(t *testing.T, got float64)
	}{
		{
			name: "with self report", retrieval: 3.0, selfReport: 0.9,
			check: func(t *testing.T, got float64) {
				assert.InDelta(t, 0.6*(3.0/4.0)+0.4*0.9, got, 1e-9)
			},
		},
		{
			name: "without self report scaled down", retrieval: 3.0, selfReport: -1,
			check: func(t *testing.T, got float64) {
				assert.InDelta(t, (3.0/4.0)*0.75, got, 1e-9)
			},
		},
		{
			name: "zero retrieval", retrieval: 0, selfReport: -1,
			check: func(t *testing.T, got float64) { assert.Zero(t, got) },
		},
		{
			name: "huge score still clamped", retrieval: 1e9, selfReport: 1.0,
			check: func(t *testing.T, got float64) { assert.LessOrEqual(t, got, 1.0) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := combineConfidence(tt.retrieval, tt.selfReport)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
			tt.check(t, got)
		})
	}
}
