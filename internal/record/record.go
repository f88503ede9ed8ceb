// Package record defines the extraction aggregate: per-field outcomes with
// provenance, and the ExtractionState keyed by (document id, document
// version). Completeness is always derived from field statuses, never
// stored, so a partially-run state can be resumed without flag bookkeeping.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Status is the lifecycle state of one field extraction.
type Status string

const (
	StatusPending Status = "pending"
	StatusFilled  Status = "filled"
	StatusMissing Status = "missing"
	StatusFailed  Status = "failed"
)

// Terminal reports whether a field in this status will not be re-attempted.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusMissing, StatusFailed:
		return true
	}
	return false
}

// Citation points an extracted value back at the evidence that supports it.
// It references section and span by id only and never outlives the document
// version it cites.
type Citation struct {
	SectionID string `json:"section_id"`
	SpanID    string `json:"span_id,omitempty"`
	Quote     string `json:"quote"`
	Page      int    `json:"page"`
}

// FieldOutcome is the terminal or in-progress result for a single field.
type FieldOutcome struct {
	FieldID    string     `json:"field_id"`
	Status     Status     `json:"status"`
	Value      string     `json:"value,omitempty"`
	Confidence float64    `json:"confidence"`
	Citations  []Citation `json:"citations,omitempty"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Validate enforces the structural invariants every outcome must satisfy:
// confidence stays in [0,1] and citations exist exactly when the field is
// filled.
func (o FieldOutcome) Validate() error {
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("field %s: confidence %g outside [0,1]", o.FieldID, o.Confidence)
	}
	if o.Status == StatusFilled && len(o.Citations) == 0 {
		return fmt.Errorf("field %s: filled without citations", o.FieldID)
	}
	if o.Status != StatusFilled && len(o.Citations) > 0 {
		return fmt.Errorf("field %s: %s outcome carries citations", o.FieldID, o.Status)
	}
	return nil
}

// ExtractionState is the aggregate record for one document version.
type ExtractionState struct {
	DocumentID string                  `json:"document_id"`
	Version    int                     `json:"version"`
	CacheKey   string                  `json:"cache_key"`
	Fields     map[string]FieldOutcome `json:"fields"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// NewState creates an empty state for a document version.
func NewState(documentID string, version int, cacheKey string, now time.Time) *ExtractionState {
	return &ExtractionState{
		DocumentID: documentID,
		Version:    version,
		CacheKey:   cacheKey,
		Fields:     make(map[string]FieldOutcome),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// SetField records an outcome, discarding stale duplicate attempts: an
// incoming outcome with fewer attempts than the stored one lost a retry
// race and is dropped.
func (s *ExtractionState) SetField(outcome FieldOutcome) bool {
	if existing, ok := s.Fields[outcome.FieldID]; ok && existing.Attempts > outcome.Attempts {
		return false
	}
	s.Fields[outcome.FieldID] = outcome
	s.UpdatedAt = outcome.UpdatedAt
	return true
}

// Complete reports whether every expected field has reached a terminal
// status. fieldIDs is the configured field set; fields the state has never
// seen count as incomplete.
func (s *ExtractionState) Complete(fieldIDs []string) bool {
	for _, id := range fieldIDs {
		outcome, ok := s.Fields[id]
		if !ok || !outcome.Status.Terminal() {
			return false
		}
	}
	return true
}

// Completeness is the ratio of filled fields over expected fields.
func (s *ExtractionState) Completeness(fieldIDs []string) float64 {
	if len(fieldIDs) == 0 {
		return 0
	}
	var filled int
	for _, id := range fieldIDs {
		if s.Fields[id].Status == StatusFilled {
			filled++
		}
	}
	return float64(filled) / float64(len(fieldIDs))
}

// CacheKey derives the content-addressed identity of an extraction run.
// Any change to the document content, the field spec set, or the worker
// model produces a different key and therefore a fresh extraction.
func CacheKey(documentChecksum, specVersion, workerModel string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n", documentChecksum, specVersion, workerModel)
	return hex.EncodeToString(h.Sum(nil))
}
