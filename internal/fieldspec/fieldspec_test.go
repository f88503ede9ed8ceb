package fieldspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSet_Valid(t *testing.T) {
	set := DefaultSet()
	require.NoError(t, set.Validate())
	require.Len(t, set, 4)

	ids := make([]string, 0, len(set))
	for _, spec := range set {
		ids = append(ids, spec.ID)
	}
	assert.Contains(t, ids, FieldArticleClassification)
	assert.Contains(t, ids, FieldSustainableDefinition)
	assert.Contains(t, ids, FieldDNSHCoverage)
	assert.Contains(t, ids, FieldPAICoverageRatio)
}

func TestFieldSpec_Validate(t *testing.T) {
	valid := FieldSpec{
		ID:          "f1",
		Query:       "query terms",
		Shape:       ShapeBool,
		RetrievalK:  3,
		MaxAttempts: 2,
	}

	tests := []struct {
		name    string
		mutate  func(*FieldSpec)
		wantErr string
	}{
		{"valid", func(f *FieldSpec) {}, ""},
		{"missing id", func(f *FieldSpec) { f.ID = "" }, "missing id"},
		{"empty query", func(f *FieldSpec) { f.Query = "  " }, "empty query"},
		{"unknown shape", func(f *FieldSpec) { f.Shape = "vector" }, "unknown shape"},
		{"enum without values", func(f *FieldSpec) { f.Shape = ShapeEnum }, "allowed values"},
		{"zero k", func(f *FieldSpec) { f.RetrievalK = 0 }, "retrieval k"},
		{"zero attempts", func(f *FieldSpec) { f.MaxAttempts = 0 }, "max attempts"},
		{"negative threshold", func(f *FieldSpec) { f.EvidenceThreshold = -0.1 }, "evidence threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := valid
			tt.mutate(&spec)
			err := spec.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSet_Validate_DuplicateID(t *testing.T) {
	set := Set{
		{ID: "f1", Query: "q", Shape: ShapeBool, RetrievalK: 1, MaxAttempts: 1},
		{ID: "f1", Query: "q", Shape: ShapeBool, RetrievalK: 1, MaxAttempts: 1},
	}
	err := set.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestSet_ByPriority(t *testing.T) {
	set := Set{
		{ID: "b", Priority: 2},
		{ID: "c", Priority: 1},
		{ID: "a", Priority: 2},
	}
	ordered := set.ByPriority()
	assert.Equal(t, "c", ordered[0].ID)
	assert.Equal(t, "a", ordered[1].ID) // priority tie broken by id
	assert.Equal(t, "b", ordered[2].ID)
	// Input unchanged.
	assert.Equal(t, "b", set[0].ID)
}

func TestSet_Merge(t *testing.T) {
	base := DefaultSet()

	t.Run("partial override retunes a single knob", func(t *testing.T) {
		merged, err := base.Merge(Set{{ID: FieldArticleClassification, EvidenceThreshold: 0.7, RetrievalK: 8}})
		require.NoError(t, err)
		require.Len(t, merged, len(base))

		var got FieldSpec
		for _, spec := range merged {
			if spec.ID == FieldArticleClassification {
				got = spec
			}
		}
		assert.Equal(t, 0.7, got.EvidenceThreshold)
		assert.Equal(t, 8, got.RetrievalK)
		// Untouched fields keep their built-in values.
		assert.Equal(t, ShapeEnum, got.Shape)
		assert.NotEmpty(t, got.Query)
		assert.NotEmpty(t, got.Instruction)
	})

	t.Run("new id appends a complete spec", func(t *testing.T) {
		merged, err := base.Merge(Set{{
			ID: "taxonomy_alignment", Query: "EU taxonomy alignment",
			Instruction: "Report the taxonomy-aligned investment share.",
			Shape:       ShapeRatio, Priority: 9, EvidenceThreshold: 0.5,
			RetrievalK: 3, MaxAttempts: 3,
		}})
		require.NoError(t, err)
		assert.Len(t, merged, len(base)+1)
	})

	t.Run("incomplete new spec rejected", func(t *testing.T) {
		_, err := base.Merge(Set{{ID: "taxonomy_alignment"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty query")
	})

	t.Run("override without id rejected", func(t *testing.T) {
		_, err := base.Merge(Set{{EvidenceThreshold: 0.4}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing id")
	})

	t.Run("override changes the set version", func(t *testing.T) {
		merged, err := base.Merge(Set{{ID: FieldArticleClassification, EvidenceThreshold: 0.7}})
		require.NoError(t, err)
		assert.NotEqual(t, base.Version(), merged.Version())
	})

	t.Run("empty overrides leave the set unchanged", func(t *testing.T) {
		merged, err := base.Merge(nil)
		require.NoError(t, err)
		assert.Equal(t, base.Version(), merged.Version())
	})
}

func TestSet_Version(t *testing.T) {
	a := DefaultSet()
	b := DefaultSet()
	assert.Equal(t, a.Version(), b.Version())

	b[0].Query = "changed query"
	assert.NotEqual(t, a.Version(), b.Version())
}
