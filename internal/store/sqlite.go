// Package store persists canonical publications, classification results,
// and accumulator snapshots across runs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
)

// ErrUnavailable wraps store failures so callers can distinguish
// persistence-layer unavailability from record-level problems.
var ErrUnavailable = errors.New("store unavailable")

const schema = `
CREATE TABLE IF NOT EXISTS publications (
	id              TEXT PRIMARY KEY,
	identifier      TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	venue           TEXT NOT NULL DEFAULT '',
	year            INTEGER NOT NULL DEFAULT 0,
	citation_count  INTEGER NOT NULL DEFAULT 0,
	abstract_hint   TEXT NOT NULL DEFAULT '',
	authors         TEXT NOT NULL DEFAULT '[]',
	source_records  TEXT NOT NULL DEFAULT '[]',
	category        TEXT,
	retired         INTEGER NOT NULL DEFAULT 0,
	merged_into     TEXT NOT NULL DEFAULT '',
	created_seq     INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_publications_identifier ON publications (identifier);
CREATE INDEX IF NOT EXISTS idx_publications_year ON publications (year);

CREATE TABLE IF NOT EXISTS source_links (
	provider       TEXT NOT NULL,
	raw_id         TEXT NOT NULL,
	publication_id TEXT NOT NULL,
	PRIMARY KEY (provider, raw_id)
);

CREATE TABLE IF NOT EXISTS classifications (
	content_key TEXT PRIMARY KEY,
	label       TEXT NOT NULL,
	confidence  REAL NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS accumulator_snapshots (
	run_id     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	key        TEXT NOT NULL,
	metrics    TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	PRIMARY KEY (run_id, kind, key)
);
`

// SQLiteStore is the document-store collaborator backed by SQLite. A single
// connection with WAL keeps writes serialized without cross-process locks.
type SQLiteStore struct {
	db     *sqlx.DB
	mu     sync.Mutex
	logger *log.Logger
}

// Open opens (and migrates) the store at dbPath.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrUnavailable, err)
	}
	return &SQLiteStore{
		db:     db,
		logger: log.New(os.Stdout, "store ", log.LstdFlags),
	}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Upsert writes the publication and its source links with write-through
// semantics. No partial write is assumed committed on failure.
func (s *SQLiteStore) Upsert(ctx context.Context, pub *pubrecord.Publication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var category sql.NullString
	if pub.Category != nil {
		category = nullableJSON(pub.Category)
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO publications
		(id, identifier, title, venue, year, citation_count, abstract_hint, authors, source_records, category, retired, merged_into, created_seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pub.ID,
		pub.Identifier,
		pub.Title,
		pub.Venue,
		pub.Year,
		pub.CitationCount,
		pub.AbstractHint,
		marshalJSON(pub.Authors),
		marshalJSON(pub.SourceRecords),
		category,
		boolToInt(pub.Retired),
		pub.MergedInto,
		pub.CreatedSeq,
		timeToString(pub.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert publication %s: %v", ErrUnavailable, pub.ID, err)
	}
	for _, sr := range pub.SourceRecords {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO source_links (provider, raw_id, publication_id) VALUES (?, ?, ?)`,
			string(sr.Provider), sr.RawID, pub.ID); err != nil {
			return fmt.Errorf("%w: upsert source link %s/%s: %v", ErrUnavailable, sr.Provider, sr.RawID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Printf("upsert commit failed id=%s err=%v", pub.ID, err)
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

// GetByIdentifier returns the publication with the given identifier, or nil
// when absent.
func (s *SQLiteStore) GetByIdentifier(ctx context.Context, identifier string) (*pubrecord.Publication, error) {
	if identifier == "" {
		return nil, nil
	}
	row := s.db.QueryRowxContext(ctx, `SELECT * FROM publications WHERE identifier = ? AND retired = 0 ORDER BY created_seq LIMIT 1`, identifier)
	return scanPublication(row)
}

// GetByID returns the publication with the given canonical id, or nil.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*pubrecord.Publication, error) {
	row := s.db.QueryRowxContext(ctx, `SELECT * FROM publications WHERE id = ?`, id)
	return scanPublication(row)
}

// QueryCandidates returns live publications whose year lies within
// [yearLo, yearHi], the cheap prefilter for identity resolution.
func (s *SQLiteStore) QueryCandidates(ctx context.Context, yearLo, yearHi int) ([]*pubrecord.Publication, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT * FROM publications WHERE year BETWEEN ? AND ? AND retired = 0 ORDER BY created_seq`, yearLo, yearHi)
	if err != nil {
		return nil, fmt.Errorf("%w: query candidates: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	var out []*pubrecord.Publication
	for rows.Next() {
		pub, err := scanPublicationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// SeenSourceRecord reports whether a provider record already contributed to
// a persisted publication, and which one.
func (s *SQLiteStore) SeenSourceRecord(ctx context.Context, sr pubrecord.SourceRecord) (string, bool, error) {
	var pubID string
	err := s.db.QueryRowxContext(ctx, `SELECT publication_id FROM source_links WHERE provider = ? AND raw_id = ?`,
		string(sr.Provider), sr.RawID).Scan(&pubID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: source link lookup: %v", ErrUnavailable, err)
	}
	return pubID, true, nil
}

// Get implements classify.Cache over the classifications table.
func (s *SQLiteStore) Get(ctx context.Context, key string) (pubrecord.Category, bool, error) {
	var cat pubrecord.Category
	err := s.db.QueryRowxContext(ctx, `SELECT label, confidence FROM classifications WHERE content_key = ?`, key).
		Scan(&cat.Label, &cat.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return pubrecord.Category{}, false, nil
	}
	if err != nil {
		return pubrecord.Category{}, false, fmt.Errorf("%w: classification lookup: %v", ErrUnavailable, err)
	}
	return cat, true, nil
}

// Put implements classify.Cache: the cache is authoritative once populated.
func (s *SQLiteStore) Put(ctx context.Context, key string, cat pubrecord.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO classifications (content_key, label, confidence, created_at) VALUES (?, ?, ?, ?)`,
		key, cat.Label, cat.Confidence, timeToString(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("%w: classification write: %v", ErrUnavailable, err)
	}
	return nil
}

// SaveSnapshot persists one accumulator snapshot for a run.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, runID, kind, key string, metrics any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO accumulator_snapshots (run_id, kind, key, metrics, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, kind, key, marshalJSON(metrics), timeToString(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("%w: snapshot write: %v", ErrUnavailable, err)
	}
	return nil
}

// SnapshotRow is one persisted accumulator snapshot; Metrics is the JSON
// category map as written by SaveSnapshot.
type SnapshotRow struct {
	Key     string `db:"key"`
	Metrics string `db:"metrics"`
}

// LatestRunID returns the most recently written run id, or "" when the
// store holds no snapshots.
func (s *SQLiteStore) LatestRunID(ctx context.Context) (string, error) {
	var runID string
	err := s.db.QueryRowxContext(ctx, `SELECT run_id FROM accumulator_snapshots ORDER BY created_at DESC LIMIT 1`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: latest run lookup: %v", ErrUnavailable, err)
	}
	return runID, nil
}

// LoadSnapshots returns the persisted snapshots for one run and kind,
// ordered by key.
func (s *SQLiteStore) LoadSnapshots(ctx context.Context, runID, kind string) ([]SnapshotRow, error) {
	var rows []SnapshotRow
	err := s.db.SelectContext(ctx, &rows, `SELECT key, metrics FROM accumulator_snapshots WHERE run_id = ? AND kind = ? ORDER BY key`, runID, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: load snapshots: %v", ErrUnavailable, err)
	}
	return rows, nil
}

type publicationRow struct {
	ID            string         `db:"id"`
	Identifier    string         `db:"identifier"`
	Title         string         `db:"title"`
	Venue         string         `db:"venue"`
	Year          int            `db:"year"`
	CitationCount int            `db:"citation_count"`
	AbstractHint  string         `db:"abstract_hint"`
	Authors       string         `db:"authors"`
	SourceRecords string         `db:"source_records"`
	Category      sql.NullString `db:"category"`
	Retired       int            `db:"retired"`
	MergedInto    string         `db:"merged_into"`
	CreatedSeq    int64          `db:"created_seq"`
	CreatedAt     string         `db:"created_at"`
}

func scanPublication(row *sqlx.Row) (*pubrecord.Publication, error) {
	var r publicationRow
	err := row.StructScan(&r)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan publication: %v", ErrUnavailable, err)
	}
	return rowToPublication(r)
}

func scanPublicationRow(rows *sqlx.Rows) (*pubrecord.Publication, error) {
	var r publicationRow
	if err := rows.StructScan(&r); err != nil {
		return nil, fmt.Errorf("%w: scan publication: %v", ErrUnavailable, err)
	}
	return rowToPublication(r)
}

func rowToPublication(r publicationRow) (*pubrecord.Publication, error) {
	pub := &pubrecord.Publication{
		ID:            r.ID,
		Identifier:    r.Identifier,
		Title:         r.Title,
		Venue:         r.Venue,
		Year:          r.Year,
		CitationCount: r.CitationCount,
		AbstractHint:  r.AbstractHint,
		Retired:       r.Retired != 0,
		MergedInto:    r.MergedInto,
		CreatedSeq:    r.CreatedSeq,
	}
	_ = json.Unmarshal([]byte(r.Authors), &pub.Authors)
	_ = json.Unmarshal([]byte(r.SourceRecords), &pub.SourceRecords)
	if r.Category.Valid && r.Category.String != "" {
		var cat pubrecord.Category
		if err := json.Unmarshal([]byte(r.Category.String), &cat); err == nil {
			pub.Category = &cat
		}
	}
	pub.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.CreatedAt)
	return pub, nil
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func nullableJSON(v any) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
