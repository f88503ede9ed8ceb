package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sectionizer parses markdown-exported document text into ordered Sections.
// Headings (#, ##, ...) open a new section; body lines accumulate into the
// current one. Form feeds (\f), the common page-break convention of text
// exporters, advance the page counter.
type Sectionizer struct {
	now func() time.Time
}

// NewSectionizer returns a sectionizer using wall-clock timestamps.
func NewSectionizer() *Sectionizer {
	return &Sectionizer{now: time.Now}
}

// Sectionize splits markdown into sections owned by the given document
// version. Section ids are derived from the document id, version, and
// ordinal, so re-parsing the same content for the same version yields the
// same ids.
func (s *Sectionizer) Sectionize(documentID string, version int, markdown string) []Section {
	var (
		sections []Section
		current  *Section
		body     []string
		path     []string
		page     = 1
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(strings.Join(body, "\n"))
		current.PageEnd = page
		current.Checksum = Checksum([]byte(current.Title + "\n" + current.Text))
		sections = append(sections, *current)
		current = nil
		body = nil
	}

	for _, line := range strings.Split(markdown, "\n") {
		page += strings.Count(line, "\f")
		line = strings.ReplaceAll(line, "\f", "")

		level, title := parseHeading(line)
		if level == 0 {
			if current != nil {
				body = append(body, line)
			}
			continue
		}

		flush()

		// Maintain the ancestor heading chain for the new level.
		if level-1 <= len(path) {
			path = path[:level-1]
		}
		ordinal := len(sections)
		current = &Section{
			ID:          fmt.Sprintf("%s_v%d_section_%d", documentID, version, ordinal+1),
			DocumentID:  documentID,
			Version:     version,
			Ordinal:     ordinal,
			Title:       title,
			Level:       level,
			HeadingPath: append([]string(nil), path...),
			PageStart:   page,
			CreatedAt:   s.now().UTC(),
		}
		path = append(path, title)
	}
	flush()

	return sections
}

// SpansFor builds one whole-section span per section, the coarsest citation
// target. Finer spans are carved out later by whoever matched the text.
func (s *Sectionizer) SpansFor(sections []Section) []Span {
	spans := make([]Span, 0, len(sections))
	for _, sec := range sections {
		spans = append(spans, Span{
			ID:        uuid.NewString(),
			SectionID: sec.ID,
			Page:      sec.PageStart,
			StartChar: 0,
			EndChar:   len(sec.Text),
			Text:      sec.Text,
		})
	}
	return spans
}

// parseHeading returns the heading level and title for a markdown heading
// line, or (0, "") for body text.
func parseHeading(line string) (int, string) {
	trimmed := strings.TrimSpace(line)
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, ""
	}
	rest := trimmed[level:]
	if rest != "" && !strings.HasPrefix(rest, " ") {
		return 0, "" // "#hashtag", not a heading
	}
	title := strings.TrimSpace(rest)
	if title == "" {
		return 0, ""
	}
	return level, title
}
