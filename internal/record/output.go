package record

import (
	"encoding/json"
	"sort"
)

// OutputField is the externally visible shape of one extracted field.
type OutputField struct {
	Value      string     `json:"value,omitempty"`
	Confidence float64    `json:"confidence"`
	Status     Status     `json:"status"`
	Citations  []Citation `json:"citations,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// Output is the record downstream tooling (reporting, drift comparison)
// consumes.
type Output struct {
	DocumentID   string                 `json:"document_id"`
	Version      int                    `json:"version"`
	Fields       map[string]OutputField `json:"fields"`
	Completeness float64                `json:"completeness"`
}

// BuildOutput projects a state onto the external contract for the given
// field set.
func BuildOutput(s *ExtractionState, fieldIDs []string) Output {
	out := Output{
		DocumentID:   s.DocumentID,
		Version:      s.Version,
		Fields:       make(map[string]OutputField, len(fieldIDs)),
		Completeness: s.Completeness(fieldIDs),
	}
	for _, id := range fieldIDs {
		outcome, ok := s.Fields[id]
		if !ok {
			out.Fields[id] = OutputField{Status: StatusPending}
			continue
		}
		out.Fields[id] = OutputField{
			Value:      outcome.Value,
			Confidence: outcome.Confidence,
			Status:     outcome.Status,
			Citations:  outcome.Citations,
			Reason:     outcome.LastError,
		}
	}
	return out
}

// MarshalIndent renders the output as stable, human-diffable JSON.
func (o Output) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(o, "", "  ")
}

// FieldIDs returns the state's known field ids, sorted.
func (s *ExtractionState) FieldIDs() []string {
	ids := make([]string, 0, len(s.Fields))
	for id := range s.Fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
