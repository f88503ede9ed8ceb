package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/extractd/internal/document"
	"github.com/fyrsmithlabs/extractd/internal/record"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
// Maps are keyed by "id@version"; fields adds a second level per field id.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]document.Document
	sections  map[string][]document.Section
	spans     map[string][]document.Span
	states    map[string]*record.ExtractionState
	fields    map[string]map[string]record.FieldOutcome
	latest    map[string]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]document.Document),
		sections:  make(map[string][]document.Section),
		spans:     make(map[string][]document.Span),
		states:    make(map[string]*record.ExtractionState),
		fields:    make(map[string]map[string]record.FieldOutcome),
		latest:    make(map[string]int),
	}
}

func key(id string, version int) string {
	return fmt.Sprintf("%s@%d", id, version)
}

// PutDocument implements Store.
func (m *MemoryStore) PutDocument(_ context.Context, doc document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[key(doc.ID, doc.Version)] = doc
	if doc.Version > m.latest[doc.ID] {
		m.latest[doc.ID] = doc.Version
	}
	return nil
}

// GetDocument implements Store.
func (m *MemoryStore) GetDocument(_ context.Context, id string, version int) (document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[key(id, version)]
	if !ok {
		return document.Document{}, fmt.Errorf("document %s v%d: %w", id, version, ErrNotFound)
	}
	return doc, nil
}

// LatestVersion implements Store.
func (m *MemoryStore) LatestVersion(_ context.Context, id string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest[id], nil
}

// PutSections implements Store.
func (m *MemoryStore) PutSections(_ context.Context, sections []document.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sec := range sections {
		k := key(sec.DocumentID, sec.Version)
		m.sections[k] = append(m.sections[k], sec)
	}
	for k := range m.sections {
		sort.Slice(m.sections[k], func(i, j int) bool {
			return m.sections[k][i].Ordinal < m.sections[k][j].Ordinal
		})
	}
	return nil
}

// GetSections implements Store.
func (m *MemoryStore) GetSections(_ context.Context, documentID string, version int) ([]document.Section, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]document.Section(nil), m.sections[key(documentID, version)]...), nil
}

// PutSpans implements Store.
func (m *MemoryStore) PutSpans(_ context.Context, documentID string, version int, spans []document.Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans[key(documentID, version)] = append([]document.Span(nil), spans...)
	return nil
}

// GetSpans implements Store.
func (m *MemoryStore) GetSpans(_ context.Context, documentID string, version int) ([]document.Span, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]document.Span(nil), m.spans[key(documentID, version)]...), nil
}

// LoadState implements Store. The returned state merges the last saved
// aggregate with any per-field writes that landed after it.
func (m *MemoryStore) LoadState(_ context.Context, documentID string, version int) (*record.ExtractionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := key(documentID, version)
	stored, ok := m.states[k]
	fieldRows := m.fields[k]
	if !ok && len(fieldRows) == 0 {
		return nil, fmt.Errorf("state %s v%d: %w", documentID, version, ErrNotFound)
	}

	state := record.NewState(documentID, version, "", time.Time{})
	if ok {
		cloned := *stored
		cloned.Fields = make(map[string]record.FieldOutcome, len(stored.Fields))
		for id, outcome := range stored.Fields {
			cloned.Fields[id] = outcome
		}
		state = &cloned
	}
	for _, outcome := range fieldRows {
		state.SetField(outcome)
	}
	return state, nil
}

// SaveField implements Store.
func (m *MemoryStore) SaveField(_ context.Context, documentID string, version int, outcome record.FieldOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(documentID, version)
	if m.fields[k] == nil {
		m.fields[k] = make(map[string]record.FieldOutcome)
	}
	if existing, ok := m.fields[k][outcome.FieldID]; ok && existing.Attempts > outcome.Attempts {
		return nil // stale duplicate attempt
	}
	m.fields[k][outcome.FieldID] = outcome
	return nil
}

// SaveState implements Store.
func (m *MemoryStore) SaveState(_ context.Context, state *record.ExtractionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cloned := *state
	cloned.Fields = make(map[string]record.FieldOutcome, len(state.Fields))
	fieldRows := make(map[string]record.FieldOutcome, len(state.Fields))
	for id, outcome := range state.Fields {
		cloned.Fields[id] = outcome
		fieldRows[id] = outcome
	}
	k := key(state.DocumentID, state.Version)
	m.states[k] = &cloned
	m.fields[k] = fieldRows
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

var (
	_ Store                  = (*MemoryStore)(nil)
	_ document.SectionSource = (*MemoryStore)(nil)
)
