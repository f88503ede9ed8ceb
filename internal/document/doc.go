// Package document defines the document model used throughout extractd:
// immutable Documents, their ordered Sections, and citation-target Spans.
// It also provides the markdown sectionizer that turns exported document
// text into that model.
//
// A Document version is created at ingestion and never mutated. Re-ingesting
// changed content produces a new version with a new checksum; sections of the
// old version are superseded, not rewritten.
package document
