package extract

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/extractd/internal/fieldspec"
)

func specOf(shape fieldspec.Shape, allowed ...string) fieldspec.FieldSpec {
	return fieldspec.FieldSpec{ID: "f", Shape: shape, AllowedValues: allowed}
}

func TestParseEnum(t *testing.T) {
	spec := specOf(fieldspec.ShapeEnum, "6", "8", "9")

	tests := []struct {
		name      string
		raw       string
		wantValue string
		wantFound bool
		wantErr   bool
	}{
		{"bare value", "9", "9", true, false},
		{"surrounded by prose", "Based on the excerpts, the fund falls under Article 8 of SFDR.", "8", true, false},
		{"first match wins", "It is Article 6, not Article 9.", "6", true, false},
		{"token outside allowed set", "Coverage is PARTIAL here.", "", false, true},
		{"not stated", "The article is not stated in these excerpts.", "", false, false},
		{"no match", "I cannot tell from this text.", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, found, err := parseValue(spec, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				var pe *ParseError
				assert.ErrorAs(t, err, &pe)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestParseEnum_WordCase(t *testing.T) {
	spec := specOf(fieldspec.ShapeEnum, "none", "partial", "full")

	value, found, err := parseValue(spec, "DNSH coverage appears to be Partial for this fund.")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "partial", value)
}

func TestParseRatio(t *testing.T) {
	spec := specOf(fieldspec.ShapeRatio)

	tests := []struct {
		name      string
		raw       string
		wantValue string
		wantFound bool
		wantErr   bool
	}{
		{"bare decimal", "0.64", "0.64", true, false},
		{"decimal in prose", "The fund covers 0.75 of mandatory indicators.", "0.75", true, false},
		{"percentage", "It reports 45% of the indicators.", "0.45", true, false},
		{"one", "All of them: 1", "1", true, false},
		{"zero", "0", "0", true, false},
		{"out of range ignored", "About 3.5 of them", "", false, true},
		{"not stated", "The ratio is not specified.", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, found, err := parseValue(spec, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestParseRatio_IgnoresSelfReportLine(t *testing.T) {
	spec := specOf(fieldspec.ShapeRatio)

	value, found, err := parseValue(spec, "The coverage ratio is 0.4.\nconfidence: 0.95")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "0.4", value)
}

func TestParseBool(t *testing.T) {
	spec := specOf(fieldspec.ShapeBool)

	tests := []struct {
		raw       string
		wantValue string
	}{
		{"Yes, the fund applies DNSH.", "true"},
		{"No.", "false"},
		{"true", "true"},
		{"FALSE", "false"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			value, found, err := parseValue(spec, tt.raw)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, tt.wantValue, value)
		})
	}

	_, _, err := parseValue(spec, "perhaps")
	assert.Error(t, err)
}

func TestParseFreeText(t *testing.T) {
	spec := specOf(fieldspec.ShapeFreeText)

	value, found, err := parseValue(spec, `"Sustainable investment means an investment in an economic activity that contributes to an environmental objective."`)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Contains(t, value, "Sustainable investment means")
	assert.NotContains(t, value, `"`)

	_, found, err = parseValue(spec, "There is no definition present in the excerpts.")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestParseSelfReport(t *testing.T) {
	assert.Equal(t, 0.85, parseSelfReport("Article 9\nconfidence: 0.85"))
	assert.Equal(t, 1.0, parseSelfReport("value\nConfidence = 1.0"))
	assert.Equal(t, -1.0, parseSelfReport("no report here"))
	assert.Equal(t, -1.0, parseSelfReport("confidence: 1.5"))
}

func TestMatchSpan(t *testing.T) {
	text := "Preamble text. The fund discloses under Article 9 of the SFDR regulation and targets sustainable investment outcomes."

	quote := matchSpan(text, "SFDR article classification")
	assert.NotEmpty(t, quote)
	assert.Contains(t, quote, "Article")
	assert.LessOrEqual(t, len(quote), maxQuoteLen)

	assert.Empty(t, matchSpan("nothing relevant here", "zebra quasar"))
}

func TestMatchSpan_MultiByteText(t *testing.T) {
	// Accented prose around the match must not be cut mid-rune when the
	// quote window lands inside a multi-byte character.
	text := strings.Repeat("é", 100) + " the fund's durabilité policy covers Article 8 disclosures " + strings.Repeat("ü", 100)

	quote := matchSpan(text, "durabilité policy")
	assert.NotEmpty(t, quote)
	assert.True(t, utf8.ValidString(quote))
	assert.LessOrEqual(t, len(quote), maxQuoteLen)
}

func TestTruncate_RuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 150) // 300 bytes

	for _, n := range []int{0, 1, 2, 3, 201, 299, 300, 400} {
		out := truncate(s, n)
		assert.True(t, utf8.ValidString(out), "n=%d", n)
		assert.LessOrEqual(t, len(out), n, "n=%d", n)
	}
	assert.Equal(t, "abc", truncate("abc", 10))
}
