// Package fieldspec describes the values extractd pulls out of a document:
// one FieldSpec per target value, plus the default SFDR disclosure set.
// Specs are process-wide, immutable configuration; the controller receives
// a Set explicitly rather than reading ambient state, so runs stay
// reproducible.
package fieldspec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Shape is the expected shape of an extracted value.
type Shape string

const (
	ShapeEnum     Shape = "enum"
	ShapeRatio    Shape = "ratio"
	ShapeBool     Shape = "bool"
	ShapeFreeText Shape = "freetext"
)

// FieldSpec configures the extraction of a single field.
type FieldSpec struct {
	// ID is the stable field identifier used as the outcome map key.
	ID string `koanf:"id"`

	// Query is the lexical retrieval query for this field's evidence.
	Query string `koanf:"query"`

	// Instruction is the task description given to the worker.
	Instruction string `koanf:"instruction"`

	// Shape selects the output parser.
	Shape Shape `koanf:"shape"`

	// AllowedValues constrains enum fields; ignored for other shapes.
	AllowedValues []string `koanf:"allowed_values"`

	// Priority orders extraction; lower runs first.
	Priority int `koanf:"priority"`

	// EvidenceThreshold is the minimum top retrieval score required before
	// the worker is consulted at all. Below it the field resolves to
	// missing without a model call.
	EvidenceThreshold float64 `koanf:"evidence_threshold"`

	// RetrievalK is the initial retrieval breadth; retries widen it.
	RetrievalK int `koanf:"retrieval_k"`

	// MaxAttempts bounds worker calls for this field.
	MaxAttempts int `koanf:"max_attempts"`
}

// Validate checks a spec for internally inconsistent configuration.
func (f FieldSpec) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("field spec missing id")
	}
	if strings.TrimSpace(f.Query) == "" {
		return fmt.Errorf("field %s: empty query", f.ID)
	}
	switch f.Shape {
	case ShapeEnum:
		if len(f.AllowedValues) == 0 {
			return fmt.Errorf("field %s: enum shape requires allowed values", f.ID)
		}
	case ShapeRatio, ShapeBool, ShapeFreeText:
	default:
		return fmt.Errorf("field %s: unknown shape %q", f.ID, f.Shape)
	}
	if f.EvidenceThreshold < 0 {
		return fmt.Errorf("field %s: negative evidence threshold", f.ID)
	}
	if f.RetrievalK <= 0 {
		return fmt.Errorf("field %s: retrieval k must be positive", f.ID)
	}
	if f.MaxAttempts <= 0 {
		return fmt.Errorf("field %s: max attempts must be positive", f.ID)
	}
	return nil
}

// Set is an ordered collection of field specs.
type Set []FieldSpec

// Validate checks every spec and rejects duplicate ids.
func (s Set) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, spec := range s {
		if err := spec.Validate(); err != nil {
			return err
		}
		if seen[spec.ID] {
			return fmt.Errorf("duplicate field spec id %s", spec.ID)
		}
		seen[spec.ID] = true
	}
	return nil
}

// ByPriority returns the specs sorted by ascending priority, ties broken by
// id so ordering is deterministic.
func (s Set) ByPriority() Set {
	out := append(Set(nil), s...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Merge applies operator overrides on top of s. An override with an ID
// already in s replaces only the fields it sets; zero-valued fields keep
// the base value, so a partial config entry can retune a single knob.
// Overrides with unknown IDs are appended as new specs and must be
// complete. The merged set is validated before it is returned.
func (s Set) Merge(overrides Set) (Set, error) {
	out := append(Set(nil), s...)
	index := make(map[string]int, len(out))
	for i, spec := range out {
		index[spec.ID] = i
	}

	for _, o := range overrides {
		if o.ID == "" {
			return nil, fmt.Errorf("field spec override missing id")
		}
		i, ok := index[o.ID]
		if !ok {
			index[o.ID] = len(out)
			out = append(out, o)
			continue
		}
		base := &out[i]
		if o.Query != "" {
			base.Query = o.Query
		}
		if o.Instruction != "" {
			base.Instruction = o.Instruction
		}
		if o.Shape != "" {
			base.Shape = o.Shape
		}
		if len(o.AllowedValues) > 0 {
			base.AllowedValues = o.AllowedValues
		}
		if o.Priority != 0 {
			base.Priority = o.Priority
		}
		if o.EvidenceThreshold != 0 {
			base.EvidenceThreshold = o.EvidenceThreshold
		}
		if o.RetrievalK != 0 {
			base.RetrievalK = o.RetrievalK
		}
		if o.MaxAttempts != 0 {
			base.MaxAttempts = o.MaxAttempts
		}
	}

	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("merged field specs: %w", err)
	}
	return out, nil
}

// Version is a content hash of the set. It feeds the extraction cache key:
// changing any spec invalidates cached outcomes.
func (s Set) Version() string {
	h := sha256.New()
	for _, spec := range s.ByPriority() {
		fmt.Fprintf(h, "%s|%s|%s|%s|%v|%d|%g|%d|%d\n",
			spec.ID, spec.Query, spec.Instruction, spec.Shape,
			spec.AllowedValues, spec.Priority, spec.EvidenceThreshold,
			spec.RetrievalK, spec.MaxAttempts)
	}
	return hex.EncodeToString(h.Sum(nil))
}
