package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document is one ingested regulatory document at a specific version
// (prospectus, annual report, SFDR annex).
type Document struct {
	ID         string            `json:"id"`
	ISIN       string            `json:"isin,omitempty"`
	Type       string            `json:"type"`
	Version    int               `json:"version"`
	Checksum   string            `json:"checksum"`
	SourcePath string            `json:"source_path,omitempty"`
	TotalPages int               `json:"total_pages"`
	CreatedAt  time.Time         `json:"created_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Section is a contiguous, heading-delimited region of a document.
// Sections are immutable once ingested; a re-ingested document gets a
// fresh set of sections under a new version.
type Section struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Version     int       `json:"version"`
	Ordinal     int       `json:"ordinal"`
	Title       string    `json:"title"`
	Level       int       `json:"level"`
	HeadingPath []string  `json:"heading_path,omitempty"`
	PageStart   int       `json:"page_start"`
	PageEnd     int       `json:"page_end"`
	Text        string    `json:"text"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"created_at"`
}

// Span is a character range inside a section, used as a citation target.
// It holds the section id only; it never owns the section.
type Span struct {
	ID        string `json:"id"`
	SectionID string `json:"section_id"`
	Page      int    `json:"page"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	Text      string `json:"text"`
}

// Checksum returns the hex-encoded SHA-256 of content. Document and section
// checksums both use it, so version comparison is a plain string compare.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// SectionSource is the contract a store must honor for section reads:
// ordered sections for one document version, with ids stable across calls
// for the same version. The storage implementations assert conformance.
type SectionSource interface {
	GetSections(ctx context.Context, documentID string, version int) ([]Section, error)
}
