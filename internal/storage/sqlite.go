package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/extractd/internal/document"
	"github.com/fyrsmithlabs/extractd/internal/record"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT NOT NULL,
	version     INTEGER NOT NULL,
	isin        TEXT,
	type        TEXT NOT NULL,
	checksum    TEXT NOT NULL,
	source_path TEXT,
	total_pages INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	metadata    TEXT,
	PRIMARY KEY (id, version)
);

CREATE TABLE IF NOT EXISTS sections (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL,
	version      INTEGER NOT NULL,
	ordinal      INTEGER NOT NULL,
	title        TEXT NOT NULL,
	level        INTEGER NOT NULL,
	heading_path TEXT,
	page_start   INTEGER NOT NULL,
	page_end     INTEGER NOT NULL,
	body         TEXT NOT NULL,
	checksum     TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sections_doc ON sections(document_id, version, ordinal);

CREATE TABLE IF NOT EXISTS spans (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	version     INTEGER NOT NULL,
	section_id  TEXT NOT NULL,
	page        INTEGER NOT NULL,
	start_char  INTEGER NOT NULL,
	end_char    INTEGER NOT NULL,
	body        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spans_doc ON spans(document_id, version, section_id);

CREATE TABLE IF NOT EXISTS extraction_states (
	document_id TEXT NOT NULL,
	version     INTEGER NOT NULL,
	cache_key   TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (document_id, version)
);

CREATE TABLE IF NOT EXISTS field_outcomes (
	document_id TEXT NOT NULL,
	version     INTEGER NOT NULL,
	field_id    TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	PRIMARY KEY (document_id, version, field_id)
);
`

// SQLiteStore is the production Store backed by an embedded SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. Parent directories are created.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; WAL keeps concurrent readers out of its way.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 10000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// PutDocument implements Store.
func (s *SQLiteStore) PutDocument(ctx context.Context, doc document.Document) error {
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, version, isin, type, checksum, source_path, total_pages, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, version) DO UPDATE SET
			isin = excluded.isin, type = excluded.type, checksum = excluded.checksum,
			source_path = excluded.source_path, total_pages = excluded.total_pages,
			metadata = excluded.metadata`,
		doc.ID, doc.Version, doc.ISIN, doc.Type, doc.Checksum, doc.SourcePath,
		doc.TotalPages, doc.CreatedAt.UTC().Format(time.RFC3339Nano), string(metadata))
	if err != nil {
		return fmt.Errorf("put document %s v%d: %w", doc.ID, doc.Version, err)
	}
	return nil
}

// GetDocument implements Store.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string, version int) (document.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, isin, type, checksum, source_path, total_pages, created_at, metadata
		FROM documents WHERE id = ? AND version = ?`, id, version)

	var (
		doc       document.Document
		createdAt string
		metadata  sql.NullString
	)
	err := row.Scan(&doc.ID, &doc.Version, &doc.ISIN, &doc.Type, &doc.Checksum,
		&doc.SourcePath, &doc.TotalPages, &createdAt, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, fmt.Errorf("document %s v%d: %w", id, version, ErrNotFound)
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("get document: %w", err)
	}
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &doc.Metadata); err != nil {
			return document.Document{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return doc, nil
}

// LatestVersion implements Store.
func (s *SQLiteStore) LatestVersion(ctx context.Context, id string) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM documents WHERE id = ?`, id).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("latest version of %s: %w", id, err)
	}
	return int(version.Int64), nil
}

// PutSections implements Store.
func (s *SQLiteStore) PutSections(ctx context.Context, sections []document.Section) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, sec := range sections {
		path, err := json.Marshal(sec.HeadingPath)
		if err != nil {
			return fmt.Errorf("marshal heading path: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sections (id, document_id, version, ordinal, title, level, heading_path,
				page_start, page_end, body, checksum, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			sec.ID, sec.DocumentID, sec.Version, sec.Ordinal, sec.Title, sec.Level,
			string(path), sec.PageStart, sec.PageEnd, sec.Text, sec.Checksum,
			sec.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("put section %s: %w", sec.ID, err)
		}
	}
	return tx.Commit()
}

// GetSections implements Store.
func (s *SQLiteStore) GetSections(ctx context.Context, documentID string, version int) ([]document.Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, version, ordinal, title, level, heading_path,
			page_start, page_end, body, checksum, created_at
		FROM sections WHERE document_id = ? AND version = ? ORDER BY ordinal`,
		documentID, version)
	if err != nil {
		return nil, fmt.Errorf("get sections: %w", err)
	}
	defer rows.Close()

	var sections []document.Section
	for rows.Next() {
		var (
			sec       document.Section
			path      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&sec.ID, &sec.DocumentID, &sec.Version, &sec.Ordinal,
			&sec.Title, &sec.Level, &path, &sec.PageStart, &sec.PageEnd,
			&sec.Text, &sec.Checksum, &createdAt); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		if path.Valid && path.String != "" {
			if err := json.Unmarshal([]byte(path.String), &sec.HeadingPath); err != nil {
				return nil, fmt.Errorf("decode heading path: %w", err)
			}
		}
		sec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// PutSpans implements Store. Span ids are regenerated on every
// sectionizer pass, so the previous set for the version is replaced
// rather than accumulated.
func (s *SQLiteStore) PutSpans(ctx context.Context, documentID string, version int, spans []document.Span) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM spans WHERE document_id = ? AND version = ?`, documentID, version)
	if err != nil {
		return fmt.Errorf("clear spans: %w", err)
	}
	for _, sp := range spans {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO spans (id, document_id, version, section_id, page, start_char, end_char, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sp.ID, documentID, version, sp.SectionID, sp.Page, sp.StartChar, sp.EndChar, sp.Text)
		if err != nil {
			return fmt.Errorf("put span %s: %w", sp.ID, err)
		}
	}
	return tx.Commit()
}

// GetSpans implements Store.
func (s *SQLiteStore) GetSpans(ctx context.Context, documentID string, version int) ([]document.Span, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, section_id, page, start_char, end_char, body
		FROM spans WHERE document_id = ? AND version = ? ORDER BY section_id, start_char`,
		documentID, version)
	if err != nil {
		return nil, fmt.Errorf("get spans: %w", err)
	}
	defer rows.Close()

	var spans []document.Span
	for rows.Next() {
		var sp document.Span
		if err := rows.Scan(&sp.ID, &sp.SectionID, &sp.Page, &sp.StartChar, &sp.EndChar, &sp.Text); err != nil {
			return nil, fmt.Errorf("scan span: %w", err)
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// LoadState implements Store.
func (s *SQLiteStore) LoadState(ctx context.Context, documentID string, version int) (*record.ExtractionState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cache_key, created_at, updated_at
		FROM extraction_states WHERE document_id = ? AND version = ?`,
		documentID, version)

	var cacheKey, createdAt, updatedAt string
	err := row.Scan(&cacheKey, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("state %s v%d: %w", documentID, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	created, _ := time.Parse(time.RFC3339Nano, createdAt)
	state := record.NewState(documentID, version, cacheKey, created)
	state.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM field_outcomes WHERE document_id = ? AND version = ?`,
		documentID, version)
	if err != nil {
		return nil, fmt.Errorf("load field outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		var outcome record.FieldOutcome
		if err := json.Unmarshal([]byte(payload), &outcome); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}
		state.Fields[outcome.FieldID] = outcome
	}
	return state, rows.Err()
}

// SaveField implements Store. The WHERE clause on the upsert is the
// stale-attempt guard: an update only lands when its attempt count is at
// least the stored one.
func (s *SQLiteStore) SaveField(ctx context.Context, documentID string, version int, outcome record.FieldOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO field_outcomes (document_id, version, field_id, attempts, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (document_id, version, field_id) DO UPDATE SET
			attempts = excluded.attempts, payload = excluded.payload
		WHERE excluded.attempts >= field_outcomes.attempts`,
		documentID, version, outcome.FieldID, outcome.Attempts, string(payload))
	if err != nil {
		return fmt.Errorf("save field %s: %w", outcome.FieldID, err)
	}
	return nil
}

// SaveState implements Store. Replaces the aggregate row and all per-field
// rows in one transaction.
func (s *SQLiteStore) SaveState(ctx context.Context, state *record.ExtractionState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO extraction_states (document_id, version, cache_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (document_id, version) DO UPDATE SET
			cache_key = excluded.cache_key, updated_at = excluded.updated_at`,
		state.DocumentID, state.Version, state.CacheKey,
		state.CreatedAt.UTC().Format(time.RFC3339Nano),
		state.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM field_outcomes WHERE document_id = ? AND version = ?`,
		state.DocumentID, state.Version)
	if err != nil {
		return fmt.Errorf("clear field outcomes: %w", err)
	}
	for _, outcome := range state.Fields {
		payload, err := json.Marshal(outcome)
		if err != nil {
			return fmt.Errorf("marshal outcome: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO field_outcomes (document_id, version, field_id, attempts, payload)
			VALUES (?, ?, ?, ?, ?)`,
			state.DocumentID, state.Version, outcome.FieldID, outcome.Attempts, string(payload))
		if err != nil {
			return fmt.Errorf("save outcome %s: %w", outcome.FieldID, err)
		}
	}
	return tx.Commit()
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var (
	_ Store                  = (*SQLiteStore)(nil)
	_ document.SectionSource = (*SQLiteStore)(nil)
)
