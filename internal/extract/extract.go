// Package extract turns retrieved evidence into validated field outcomes.
// The extractor owns the evidence gate, bounded prompt assembly, the
// shape-specific output parsers, and confidence scoring. It never retries:
// retry policy belongs to the controller, which owns the attempt budget.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/fieldspec"
	"github.com/fyrsmithlabs/extractd/internal/record"
	"github.com/fyrsmithlabs/extractd/internal/retrieval"
	"github.com/fyrsmithlabs/extractd/internal/worker"
)

// Prompt bounds. The whole point of this system is that worker calls stay
// small: a handful of sections, each truncated, never the full document.
const (
	defaultMaxSections       = 3
	defaultSectionByteBudget = 800
	defaultMaxTokens         = 500
)

// Confidence combination weights. Without a self-reported confidence the
// retrieval signal is scaled down to reflect the missing second opinion.
const (
	retrievalWeight   = 0.6
	selfReportWeight  = 0.4
	noSelfReportScale = 0.75
)

const systemInstruction = "You extract regulatory disclosure facts from fund documents. " +
	"Answer from the provided excerpts only. " +
	"End your answer with a line 'confidence: X' where X is between 0.0 and 1.0."

// Config bounds the extractor's prompts.
type Config struct {
	MaxSections       int
	SectionByteBudget int
	MaxTokens         int
}

// DefaultConfig returns the production prompt bounds.
func DefaultConfig() Config {
	return Config{
		MaxSections:       defaultMaxSections,
		SectionByteBudget: defaultSectionByteBudget,
		MaxTokens:         defaultMaxTokens,
	}
}

// Extractor produces one FieldOutcome per call from a field spec and its
// retrieved candidates.
type Extractor struct {
	worker worker.Worker
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates an extractor. logger may be nil.
func New(w worker.Worker, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.MaxSections <= 0 {
		cfg.MaxSections = defaultMaxSections
	}
	if cfg.SectionByteBudget <= 0 {
		cfg.SectionByteBudget = defaultSectionByteBudget
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{worker: w, cfg: cfg, logger: logger, now: time.Now}
}

// Model identifies the worker model backing this extractor. It feeds the
// controller's cache key.
func (e *Extractor) Model() string { return e.worker.Model() }

// Extract runs one extraction attempt for the field.
//
// A nil error means the outcome is authoritative for this attempt: filled,
// or missing when the evidence gate rejected the candidates or the worker
// reported the value absent. A ParseError or worker error means the attempt
// failed; the caller decides whether budget remains for another.
//
// The evidence gate runs before any worker call: absent or weak evidence
// resolves to missing without consulting the model at all, so the model is
// never invited to hallucinate a value the document does not support.
func (e *Extractor) Extract(ctx context.Context, spec fieldspec.FieldSpec, candidates []retrieval.Candidate, threshold float64) (record.FieldOutcome, error) {
	if len(candidates) == 0 || candidates[0].Score < threshold {
		e.logger.Debug("evidence below threshold, skipping worker",
			zap.String("field", spec.ID),
			zap.Float64("threshold", threshold),
			zap.Int("candidates", len(candidates)))
		return record.FieldOutcome{
			FieldID:   spec.ID,
			Status:    record.StatusMissing,
			LastError: "evidence_absent",
			UpdatedAt: e.now().UTC(),
		}, nil
	}

	used := candidates
	if len(used) > e.cfg.MaxSections {
		used = used[:e.cfg.MaxSections]
	}

	resp, err := e.worker.Generate(ctx, worker.Request{
		Prompt:      e.buildPrompt(spec, used),
		System:      systemInstruction,
		Temperature: 0, // determinism over creativity for extraction
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return record.FieldOutcome{}, err
	}
	if resp.Truncated {
		return record.FieldOutcome{}, worker.NewError(worker.KindProtocol, "generation truncated", nil)
	}

	value, found, err := parseValue(spec, resp.Text)
	if err != nil {
		return record.FieldOutcome{}, err
	}
	if !found {
		// The worker read the evidence and reported the value absent.
		return record.FieldOutcome{
			FieldID:   spec.ID,
			Status:    record.StatusMissing,
			LastError: "not_stated",
			UpdatedAt: e.now().UTC(),
		}, nil
	}

	confidence := combineConfidence(candidates[0].Score, parseSelfReport(resp.Text))

	return record.FieldOutcome{
		FieldID:    spec.ID,
		Status:     record.StatusFilled,
		Value:      value,
		Confidence: confidence,
		Citations:  e.cite(spec, used),
		UpdatedAt:  e.now().UTC(),
	}, nil
}

// buildPrompt assembles the bounded prompt: task instruction followed by
// numbered, truncated section excerpts.
func (e *Extractor) buildPrompt(spec fieldspec.FieldSpec, candidates []retrieval.Candidate) string {
	var b strings.Builder
	b.WriteString(spec.Instruction)
	b.WriteString("\n\nDocument excerpts:\n")
	for i, c := range candidates {
		text := truncate(c.Section.Text, e.cfg.SectionByteBudget)
		fmt.Fprintf(&b, "\n[%d] %s (page %d)\n%s\n", i+1, c.Section.Title, c.Section.PageStart, text)
	}
	return b.String()
}

// cite builds one citation per section used in the prompt, pointing at the
// first span that matches the field's query terms, or the whole section
// when no finer span is found.
func (e *Extractor) cite(spec fieldspec.FieldSpec, used []retrieval.Candidate) []record.Citation {
	citations := make([]record.Citation, 0, len(used))
	for _, c := range used {
		quote := matchSpan(c.Section.Text, spec.Query)
		if quote == "" {
			quote = truncate(c.Section.Text, maxQuoteLen)
		}
		citations = append(citations, record.Citation{
			SectionID: c.Section.ID,
			Quote:     quote,
			Page:      c.Section.PageStart,
		})
	}
	return citations
}

// combineConfidence merges the normalized retrieval score with the worker's
// self-reported confidence. The result is always clamped to [0,1].
func combineConfidence(retrievalScore float64, selfReport float64) float64 {
	// BM25 scores are unbounded above; squash into (0,1).
	normalized := retrievalScore / (retrievalScore + 1)

	var combined float64
	if selfReport < 0 {
		combined = normalized * noSelfReportScale
	} else {
		combined = retrievalWeight*normalized + selfReportWeight*selfReport
	}
	return clamp01(combined)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
