package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/extractd/internal/document"
	"github.com/fyrsmithlabs/extractd/internal/extract"
	"github.com/fyrsmithlabs/extractd/internal/fieldspec"
	"github.com/fyrsmithlabs/extractd/internal/record"
	"github.com/fyrsmithlabs/extractd/internal/retrieval"
	"github.com/fyrsmithlabs/extractd/internal/storage"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/controller"

// Default run parameters.
const (
	defaultConcurrency    = 1
	defaultThresholdStep  = 0.1
	defaultThresholdFloor = 0.2
	defaultBaseBackoff    = 500 * time.Millisecond
)

// Config tunes a controller. Concurrency is a performance knob only; the
// produced state is identical at any ceiling.
type Config struct {
	// Concurrency is the maximum number of in-flight field extractions.
	Concurrency int

	// ThresholdStep is subtracted from the field's evidence threshold on
	// each retry, never going below ThresholdFloor.
	ThresholdStep  float64
	ThresholdFloor float64

	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration

	// Force re-runs extraction even when a complete state with the same
	// cache key already exists.
	Force bool
}

// DefaultConfig returns the production defaults: sequential extraction, a
// small threshold relaxation per retry, and a hard relaxation floor so
// retries can never broaden forever.
func DefaultConfig() Config {
	return Config{
		Concurrency:    defaultConcurrency,
		ThresholdStep:  defaultThresholdStep,
		ThresholdFloor: defaultThresholdFloor,
		BaseBackoff:    defaultBaseBackoff,
	}
}

// RetrieverFactory builds a retriever over one document version's sections.
// The default is the BM25 index; vector retrievers can be substituted here
// without touching the state machine.
type RetrieverFactory func(sections []document.Section) retrieval.Retriever

func defaultRetrieverFactory(sections []document.Section) retrieval.Retriever {
	ix := retrieval.NewIndex()
	ix.Build(sections)
	return ix
}

// Controller runs field extraction for document versions.
type Controller struct {
	store        storage.Store
	extractor    *extract.Extractor
	specs        fieldspec.Set
	cfg          Config
	logger       *zap.Logger
	newRetriever RetrieverFactory
	now          func() time.Time

	tracer       trace.Tracer
	meter        metric.Meter
	runCounter   metric.Int64Counter
	cacheCounter metric.Int64Counter
	fieldCounter metric.Int64Counter
}

// New creates a controller. logger may be nil; specs must validate.
func New(store storage.Store, extractor *extract.Extractor, specs fieldspec.Set, cfg Config, logger *zap.Logger) (*Controller, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if err := specs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid field specs: %w", err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Controller{
		store:        store,
		extractor:    extractor,
		specs:        specs,
		cfg:          cfg,
		logger:       logger,
		newRetriever: defaultRetrieverFactory,
		now:          time.Now,
		tracer:       otel.Tracer(instrumentationName),
		meter:        otel.Meter(instrumentationName),
	}
	c.initMetrics()
	return c, nil
}

// SetRetrieverFactory replaces the default BM25 retriever construction.
func (c *Controller) SetRetrieverFactory(f RetrieverFactory) {
	if f != nil {
		c.newRetriever = f
	}
}

func (c *Controller) initMetrics() {
	var err error
	c.runCounter, err = c.meter.Int64Counter(
		"extractd.controller.runs_total",
		metric.WithDescription("Total extraction runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		c.logger.Warn("failed to create run counter", zap.Error(err))
	}
	c.cacheCounter, err = c.meter.Int64Counter(
		"extractd.controller.cache_hits_total",
		metric.WithDescription("Runs answered entirely from the stored state"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		c.logger.Warn("failed to create cache counter", zap.Error(err))
	}
	c.fieldCounter, err = c.meter.Int64Counter(
		"extractd.controller.fields_total",
		metric.WithDescription("Field outcomes by terminal status"),
		metric.WithUnit("{field}"),
	)
	if err != nil {
		c.logger.Warn("failed to create field counter", zap.Error(err))
	}
}

// Run extracts every configured field for the document version and returns
// the resulting state.
//
// Idempotence: a stored complete state under an unchanged cache key is
// returned as-is with zero worker calls. An incomplete stored state under
// the same key is resumed: terminal field outcomes are reused and only the
// remaining fields run. A changed cache key (new document content, new spec
// set, new worker model) starts over.
//
// Run never fails for ordinary extraction difficulty; it returns an error
// only for infrastructure problems (fatal worker errors, unreachable
// storage) or context cancellation, and in those cases the partial state
// persisted so far is returned alongside the error.
func (c *Controller) Run(ctx context.Context, documentID string, version int) (*record.ExtractionState, error) {
	ctx, span := c.tracer.Start(ctx, "controller.run",
		trace.WithAttributes(
			attribute.String("document.id", documentID),
			attribute.Int("document.version", version),
		))
	defer span.End()

	if c.runCounter != nil {
		c.runCounter.Add(ctx, 1)
	}

	doc, err := c.store.GetDocument(ctx, documentID, version)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	cacheKey := record.CacheKey(doc.Checksum, c.specs.Version(), c.extractor.Model())
	fieldIDs := c.fieldIDs()

	state, err := c.loadOrCreateState(ctx, documentID, version, cacheKey)
	if err != nil {
		return nil, err
	}
	if !c.cfg.Force && state.CacheKey == cacheKey && state.Complete(fieldIDs) {
		c.logger.Info("extraction state complete, reusing",
			zap.String("document_id", documentID),
			zap.Int("version", version))
		if c.cacheCounter != nil {
			c.cacheCounter.Add(ctx, 1)
		}
		return state, nil
	}

	sections, err := c.store.GetSections(ctx, documentID, version)
	if err != nil {
		return nil, fmt.Errorf("load sections: %w", err)
	}
	retriever := c.newRetriever(sections)

	spanIDs, err := c.spanIndex(ctx, documentID, version)
	if err != nil {
		return nil, err
	}

	pending := make([]fieldspec.FieldSpec, 0, len(c.specs))
	for _, spec := range c.specs.ByPriority() {
		if outcome, ok := state.Fields[spec.ID]; ok && outcome.Status.Terminal() {
			continue
		}
		pending = append(pending, spec)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for _, spec := range pending {
		g.Go(func() error {
			outcome, err := c.runField(gctx, spec, retriever)
			if err != nil {
				return err
			}
			for i := range outcome.Citations {
				outcome.Citations[i].SpanID = spanIDs[outcome.Citations[i].SectionID]
			}
			if err := c.store.SaveField(gctx, documentID, version, outcome); err != nil {
				return fmt.Errorf("persist field %s: %w", spec.ID, err)
			}
			mu.Lock()
			state.SetField(outcome)
			mu.Unlock()
			if c.fieldCounter != nil {
				c.fieldCounter.Add(gctx, 1,
					metric.WithAttributes(attribute.String("status", string(outcome.Status))))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Partial progress is already persisted field by field; the next
		// run resumes from it.
		return state, err
	}

	state.UpdatedAt = c.now().UTC()
	if err := c.store.SaveState(ctx, state); err != nil {
		return state, fmt.Errorf("persist state: %w", err)
	}

	c.logger.Info("extraction run complete",
		zap.String("document_id", documentID),
		zap.Int("version", version),
		zap.Float64("completeness", state.Completeness(fieldIDs)))
	return state, nil
}

// Output projects a state onto the external record contract.
func (c *Controller) Output(state *record.ExtractionState) record.Output {
	return record.BuildOutput(state, c.fieldIDs())
}

func (c *Controller) fieldIDs() []string {
	ids := make([]string, 0, len(c.specs))
	for _, spec := range c.specs.ByPriority() {
		ids = append(ids, spec.ID)
	}
	return ids
}

// spanIndex maps section ids to their stored whole-section span, the
// citation target persisted at ingestion. Documents ingested without spans
// yield an empty map and citations carry the section id only.
func (c *Controller) spanIndex(ctx context.Context, documentID string, version int) (map[string]string, error) {
	spans, err := c.store.GetSpans(ctx, documentID, version)
	if err != nil {
		return nil, fmt.Errorf("load spans: %w", err)
	}
	index := make(map[string]string, len(spans))
	for _, sp := range spans {
		if _, ok := index[sp.SectionID]; !ok {
			index[sp.SectionID] = sp.ID
		}
	}
	return index, nil
}

// loadOrCreateState loads the stored state for the version, or creates and
// persists a fresh one when none exists or the cache key changed. Saving
// the fresh aggregate sheds per-field rows from the previous key.
func (c *Controller) loadOrCreateState(ctx context.Context, documentID string, version int, cacheKey string) (*record.ExtractionState, error) {
	state, err := c.store.LoadState(ctx, documentID, version)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load state: %w", err)
	case state.CacheKey == cacheKey && !c.cfg.Force:
		return state, nil
	default:
		reason := "cache key changed"
		if c.cfg.Force {
			reason = "force requested"
		}
		c.logger.Info("discarding stored outcomes",
			zap.String("reason", reason),
			zap.String("document_id", documentID),
			zap.Int("version", version))
	}

	state = record.NewState(documentID, version, cacheKey, c.now().UTC())
	if err := c.store.SaveState(ctx, state); err != nil {
		return nil, fmt.Errorf("initialize state: %w", err)
	}
	return state, nil
}
