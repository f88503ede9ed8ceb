package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/extractd/internal/fieldspec"
)

const maxQuoteLen = 200

// ParseError means the worker's text could not be parsed into the field's
// expected shape. It is retryable up to the field's attempt budget and
// never propagates past the extraction layer as a run failure.
type ParseError struct {
	FieldID string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error for field %s: %s", e.FieldID, e.Reason)
}

var (
	numberRe     = regexp.MustCompile(`(\d+(?:\.\d+)?|\.\d+)(\s*%)?`)
	selfReportRe = regexp.MustCompile(`(?im)^\s*confidence\s*[:=]\s*(0?\.\d+|0|1|1\.0+)\s*$`)
	wordRe       = regexp.MustCompile(`[A-Za-z0-9]+`)
)

// Workers answer in prose; these phrasings mean "the document does not state
// the value", which resolves to missing rather than a parse failure.
var notStatedMarkers = []string{"not stated", "not specified", "not mentioned", "not found", "no definition"}

// parseValue extracts the typed value from raw worker output. The parsers
// tolerate surrounding explanation: the worker is not guaranteed to emit a
// bare value. found=false means the worker reported the value absent.
func parseValue(spec fieldspec.FieldSpec, raw string) (value string, found bool, err error) {
	text := stripSelfReport(raw)
	if strings.TrimSpace(text) == "" {
		return "", false, &ParseError{FieldID: spec.ID, Reason: "empty response"}
	}

	switch spec.Shape {
	case fieldspec.ShapeEnum:
		return parseEnum(spec, text)
	case fieldspec.ShapeRatio:
		return parseRatio(spec, text)
	case fieldspec.ShapeBool:
		return parseBool(spec, text)
	case fieldspec.ShapeFreeText:
		return parseFreeText(spec, text)
	default:
		return "", false, &ParseError{FieldID: spec.ID, Reason: fmt.Sprintf("unknown shape %q", spec.Shape)}
	}
}

// parseEnum returns the first token matching the allowed set.
func parseEnum(spec fieldspec.FieldSpec, text string) (string, bool, error) {
	allowed := make(map[string]string, len(spec.AllowedValues))
	for _, v := range spec.AllowedValues {
		allowed[strings.ToLower(v)] = v
	}
	for _, token := range wordRe.FindAllString(text, -1) {
		if canonical, ok := allowed[strings.ToLower(token)]; ok {
			return canonical, true, nil
		}
	}
	if isNotStated(text) {
		return "", false, nil
	}
	return "", false, &ParseError{FieldID: spec.ID, Reason: "no allowed enum token in response"}
}

// parseRatio returns the first decimal in [0,1], accepting percentage
// notation. Numbers outside the range (years, page numbers) are skipped,
// not errors.
func parseRatio(spec fieldspec.FieldSpec, text string) (string, bool, error) {
	for _, loc := range numberRe.FindAllStringSubmatchIndex(text, -1) {
		// Skip fragments of a larger number, e.g. ".5" inside "3.5".
		if start := loc[0]; start > 0 {
			prev := text[start-1]
			if prev >= '0' && prev <= '9' || prev == '.' {
				continue
			}
		}
		num := text[loc[2]:loc[3]]
		isPercent := loc[4] >= 0

		v, err := strconv.ParseFloat(num, 64)
		if err != nil {
			continue
		}
		if isPercent {
			if v > 100 {
				continue
			}
			return strconv.FormatFloat(v/100, 'g', -1, 64), true, nil
		}
		if v < 0 || v > 1 {
			continue
		}
		return strconv.FormatFloat(v, 'g', -1, 64), true, nil
	}
	if isNotStated(text) {
		return "", false, nil
	}
	return "", false, &ParseError{FieldID: spec.ID, Reason: "no ratio in [0,1] in response"}
}

// parseBool detects yes/no keywords.
func parseBool(spec fieldspec.FieldSpec, text string) (string, bool, error) {
	for _, token := range wordRe.FindAllString(text, -1) {
		switch strings.ToLower(token) {
		case "yes", "true":
			return "true", true, nil
		case "no", "false":
			return "false", true, nil
		}
	}
	if isNotStated(text) {
		return "", false, nil
	}
	return "", false, &ParseError{FieldID: spec.ID, Reason: "no boolean keyword in response"}
}

// parseFreeText trims the answer and honors "not stated" phrasings.
func parseFreeText(spec fieldspec.FieldSpec, text string) (string, bool, error) {
	trimmed := strings.Trim(strings.TrimSpace(text), `"'`)
	if trimmed == "" {
		return "", false, &ParseError{FieldID: spec.ID, Reason: "empty free-text response"}
	}
	if isNotStated(trimmed) {
		return "", false, nil
	}
	return trimmed, true, nil
}

// parseSelfReport extracts a worker-supplied "confidence: X" line, or -1
// when none is present.
func parseSelfReport(raw string) float64 {
	m := selfReportRe.FindStringSubmatch(raw)
	if m == nil {
		return -1
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 1 {
		return -1
	}
	return v
}

// stripSelfReport removes the confidence line so it is not mistaken for the
// value (ratios especially).
func stripSelfReport(raw string) string {
	return strings.TrimSpace(selfReportRe.ReplaceAllString(raw, ""))
}

func isNotStated(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range notStatedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// matchSpan finds a short window of section text around the first query
// term occurrence, used as the citation quote.
func matchSpan(text, query string) string {
	lower := strings.ToLower(text)
	for _, term := range wordRe.FindAllString(strings.ToLower(query), -1) {
		if len(term) < 3 && !isDigits(term) {
			continue
		}
		idx := indexWord(lower, term)
		if idx < 0 {
			continue
		}
		start := idx - 80
		if start < 0 {
			start = 0
		}
		for start < len(text) && !utf8.RuneStart(text[start]) {
			start++
		}
		end := idx + len(term) + 120
		if end > len(text) {
			end = len(text)
		}
		for end < len(text) && !utf8.RuneStart(text[end]) {
			end++
		}
		return strings.TrimSpace(truncate(text[start:end], maxQuoteLen))
	}
	return ""
}

// indexWord finds term as a whole word in lower-cased text.
func indexWord(lower, term string) int {
	offset := 0
	for {
		idx := strings.Index(lower[offset:], term)
		if idx < 0 {
			return -1
		}
		abs := offset + idx
		beforeOK := abs == 0 || !isWordByte(lower[abs-1])
		afterOK := abs+len(term) >= len(lower) || !isWordByte(lower[abs+len(term)])
		if beforeOK && afterOK {
			return abs
		}
		offset = abs + len(term)
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// truncate caps s at n bytes without splitting a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
