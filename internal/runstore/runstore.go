// Package runstore persists finished extraction runs to SQLite so past
// results can be listed and re-rendered without re-running the pipeline.
package runstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/productinfo-agent/internal/extraction"
)

var ErrNotFound = errors.New("run not found")

type Store struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	source          TEXT NOT NULL,
	mode            TEXT NOT NULL,
	ocr             INTEGER NOT NULL DEFAULT 0,
	run_channel     TEXT NOT NULL DEFAULT 'A',
	pages           INTEGER NOT NULL DEFAULT 0,
	ocr_pages       INTEGER NOT NULL DEFAULT 0,
	audit_add_prod  INTEGER NOT NULL DEFAULT 0,
	audit_add_pat   INTEGER NOT NULL DEFAULT 0,
	elapsed_seconds REAL NOT NULL DEFAULT 0,
	document        TEXT NOT NULL,
	warnings        TEXT NOT NULL DEFAULT '[]',
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source);
`

func Open(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Run is one persisted pipeline outcome.
type Run struct {
	ID             int64     `db:"id"`
	Source         string    `db:"source"`
	Mode           string    `db:"mode"`
	OCR            bool      `db:"ocr"`
	RunChannel     string    `db:"run_channel"`
	Pages          int       `db:"pages"`
	OCRPages       int       `db:"ocr_pages"`
	AuditAddProd   int       `db:"audit_add_prod"`
	AuditAddPat    int       `db:"audit_add_pat"`
	ElapsedSeconds float64   `db:"elapsed_seconds"`
	DocumentJSON   string    `db:"document"`
	WarningsJSON   string    `db:"warnings"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r Run) Document() (extraction.FinalDocument, error) {
	var doc extraction.FinalDocument
	err := json.Unmarshal([]byte(r.DocumentJSON), &doc)
	return doc, err
}

func (r Run) Warnings() []string {
	var out []string
	_ = json.Unmarshal([]byte(r.WarningsJSON), &out)
	return out
}

func (r Run) Stats() extraction.RunStats {
	return extraction.RunStats{
		Pages:           r.Pages,
		OCRPages:        r.OCRPages,
		AuditAddedProds: r.AuditAddProd,
		AuditAddedPats:  r.AuditAddPat,
		ElapsedSeconds:  r.ElapsedSeconds,
		Run:             r.RunChannel,
	}
}

// Save records one finished run and returns its id.
func (s *Store) Save(mode extraction.Mode, ocr bool, doc extraction.FinalDocument, stats extraction.RunStats, warnings []string) (int64, error) {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("marshal document: %w", err)
	}
	if warnings == nil {
		warnings = []string{}
	}
	warnJSON, err := json.Marshal(warnings)
	if err != nil {
		return 0, fmt.Errorf("marshal warnings: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO runs (source, mode, ocr, run_channel, pages, ocr_pages,
			audit_add_prod, audit_add_pat, elapsed_seconds, document, warnings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Source, string(mode), ocr, stats.Run, stats.Pages, stats.OCRPages,
		stats.AuditAddedProds, stats.AuditAddedPats, stats.ElapsedSeconds,
		string(docJSON), string(warnJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// Get loads one run by id.
func (s *Store) Get(id int64) (Run, error) {
	var row runRow
	if err := s.db.Get(&row, `SELECT * FROM runs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, fmt.Errorf("select run: %w", err)
	}
	return row.toRun()
}

// Latest loads the most recent run for a source.
func (s *Store) Latest(source string) (Run, error) {
	var row runRow
	err := s.db.Get(&row, `SELECT * FROM runs WHERE source = ? ORDER BY id DESC LIMIT 1`, source)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, fmt.Errorf("select run: %w", err)
	}
	return row.toRun()
}

// List returns recent runs, newest first.
func (s *Store) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []runRow
	if err := s.db.Select(&rows, `SELECT * FROM runs ORDER BY id DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	out := make([]Run, 0, len(rows))
	for _, row := range rows {
		r, err := row.toRun()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// runRow keeps created_at as text; SQLite stores RFC3339 strings.
type runRow struct {
	ID             int64   `db:"id"`
	Source         string  `db:"source"`
	Mode           string  `db:"mode"`
	OCR            bool    `db:"ocr"`
	RunChannel     string  `db:"run_channel"`
	Pages          int     `db:"pages"`
	OCRPages       int     `db:"ocr_pages"`
	AuditAddProd   int     `db:"audit_add_prod"`
	AuditAddPat    int     `db:"audit_add_pat"`
	ElapsedSeconds float64 `db:"elapsed_seconds"`
	DocumentJSON   string  `db:"document"`
	WarningsJSON   string  `db:"warnings"`
	CreatedAt      string  `db:"created_at"`
}

func (row runRow) toRun() (Run, error) {
	ts, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse created_at: %w", err)
	}
	return Run{
		ID:             row.ID,
		Source:         row.Source,
		Mode:           row.Mode,
		OCR:            row.OCR,
		RunChannel:     row.RunChannel,
		Pages:          row.Pages,
		OCRPages:       row.OCRPages,
		AuditAddProd:   row.AuditAddProd,
		AuditAddPat:    row.AuditAddPat,
		ElapsedSeconds: row.ElapsedSeconds,
		DocumentJSON:   row.DocumentJSON,
		WarningsJSON:   row.WarningsJSON,
		CreatedAt:      ts,
	}, nil
}
