package retrieval

import (
	"errors"
	"math"
	"sort"

	"github.com/fyrsmithlabs/extractd/internal/document"
)

// ErrNotIndexed is returned when Query is called before Index. Querying an
// unbuilt index is a programming error, not a retryable condition.
var ErrNotIndexed = errors.New("retrieval: query before index")

// Default BM25 parameters.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// Candidate is one ranked retrieval result.
type Candidate struct {
	Section document.Section
	Score   float64
}

// Retriever is the capability the controller and extractor depend on.
type Retriever interface {
	Query(query string, k int) ([]Candidate, error)
}

// Index is a document-scoped BM25 index. IDF statistics are computed over
// the sections of a single document, not a global corpus. An Index is
// read-only after Build and safe for concurrent queries.
type Index struct {
	k1        float64
	b         float64
	tokenizer Tokenizer

	sections []document.Section
	termFreq []map[string]int // per section
	docLen   []int
	docFreq  map[string]int
	avgdl    float64

	contentKey string
	built      bool
}

// Option configures an Index.
type Option func(*Index)

// WithParameters overrides the BM25 k1/b parameters.
func WithParameters(k1, b float64) Option {
	return func(ix *Index) {
		ix.k1 = k1
		ix.b = b
	}
}

// WithTokenizer replaces the default tokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(ix *Index) {
		ix.tokenizer = t
	}
}

// NewIndex creates an empty index. Call Build before Query.
func NewIndex(opts ...Option) *Index {
	ix := &Index{
		k1:        DefaultK1,
		b:         DefaultB,
		tokenizer: SimpleTokenizer{},
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Build indexes the supplied sections. Building is content-addressed:
// rebuilding with the same sections is a no-op, and rebuilding with
// different sections replaces the structure wholesale rather than adding
// to it.
func (ix *Index) Build(sections []document.Section) {
	key := contentKey(sections)
	if ix.built && key == ix.contentKey {
		return
	}

	ix.sections = append([]document.Section(nil), sections...)
	ix.termFreq = make([]map[string]int, len(sections))
	ix.docLen = make([]int, len(sections))
	ix.docFreq = make(map[string]int)

	var total int
	for i, sec := range sections {
		terms := ix.tokenizer.Tokenize(sec.Title + " " + sec.Text)
		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			tf[term]++
		}
		for term := range tf {
			ix.docFreq[term]++
		}
		ix.termFreq[i] = tf
		ix.docLen[i] = len(terms)
		total += len(terms)
	}
	if len(sections) > 0 {
		ix.avgdl = float64(total) / float64(len(sections))
	}
	ix.contentKey = key
	ix.built = true
}

// Query scores every indexed section against the query and returns the top
// k candidates in descending score order. Ties are broken by the section's
// original ordinal so rankings are stable across runs.
func (ix *Index) Query(query string, k int) ([]Candidate, error) {
	if !ix.built {
		return nil, ErrNotIndexed
	}
	if k <= 0 || len(ix.sections) == 0 {
		return nil, nil
	}

	queryTerms := ix.tokenizer.Tokenize(query)
	n := float64(len(ix.sections))

	candidates := make([]Candidate, 0, len(ix.sections))
	for i, sec := range ix.sections {
		var score float64
		dl := float64(ix.docLen[i])
		for _, term := range queryTerms {
			f := float64(ix.termFreq[i][term])
			if f == 0 {
				continue
			}
			df := float64(ix.docFreq[term])
			// Smoothed IDF, floored at zero so common terms never
			// subtract relevance in a tiny corpus.
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := f * (ix.k1 + 1) / (f + ix.k1*(1-ix.b+ix.b*dl/ix.avgdl))
			score += idf * norm
		}
		candidates = append(candidates, Candidate{Section: sec, Score: score})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].Score != candidates[b].Score {
			return candidates[a].Score > candidates[b].Score
		}
		return candidates[a].Section.Ordinal < candidates[b].Section.Ordinal
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k], nil
}

// Size returns the number of indexed sections.
func (ix *Index) Size() int {
	return len(ix.sections)
}

func contentKey(sections []document.Section) string {
	var buf []byte
	for _, sec := range sections {
		buf = append(buf, sec.ID...)
		buf = append(buf, 0)
		buf = append(buf, sec.Checksum...)
		buf = append(buf, 0)
	}
	return document.Checksum(buf)
}
