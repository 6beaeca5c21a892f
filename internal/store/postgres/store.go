// Package postgres provides Postgres-backed persistence for ingested
// documents and crawl run logs.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/procuredocs/regcrawler/internal/regulation"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements regulation.Store plus the read surface the API serves.
type Store struct {
	pool dbPool
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
	id              BIGSERIAL PRIMARY KEY,
	title           TEXT NOT NULL,
	category        TEXT NOT NULL,
	publish_date    TIMESTAMPTZ,
	content         TEXT NOT NULL DEFAULT '',
	source_url      TEXT NOT NULL,
	attachment_url  TEXT NOT NULL DEFAULT '',
	attachment_path TEXT NOT NULL DEFAULT '',
	attachment_text TEXT NOT NULL DEFAULT '',
	fingerprint     CHAR(64) NOT NULL UNIQUE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_category ON documents (category)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_publish_date ON documents (publish_date)`,
	`CREATE TABLE IF NOT EXISTS crawl_logs (
	id            BIGSERIAL PRIMARY KEY,
	category      TEXT NOT NULL,
	status        TEXT NOT NULL,
	count         INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
}

const documentColumns = `id, title, category, publish_date, content, source_url, attachment_url, attachment_path, attachment_text, fingerprint, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*regulation.Document, error) {
	var doc regulation.Document
	err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Category,
		&doc.PublishDate,
		&doc.Content,
		&doc.SourceURL,
		&doc.AttachmentURL,
		&doc.AttachmentPath,
		&doc.AttachmentText,
		&doc.Fingerprint,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.Fingerprint = strings.TrimSpace(doc.Fingerprint)
	return &doc, nil
}

// FindByFingerprint returns the document with the given fingerprint, or nil
// when none exists.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*regulation.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE fingerprint = $1`,
		fingerprint,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return doc, nil
}

// Upsert inserts doc, or updates the row sharing its fingerprint in place.
// created_at survives the update.
func (s *Store) Upsert(ctx context.Context, doc *regulation.Document) (*regulation.Document, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO documents (
	title, category, publish_date, content, source_url,
	attachment_url, attachment_path, attachment_text, fingerprint
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (fingerprint) DO UPDATE SET
	title           = EXCLUDED.title,
	category        = EXCLUDED.category,
	publish_date    = EXCLUDED.publish_date,
	content         = EXCLUDED.content,
	source_url      = EXCLUDED.source_url,
	attachment_url  = EXCLUDED.attachment_url,
	attachment_path = EXCLUDED.attachment_path,
	attachment_text = EXCLUDED.attachment_text,
	updated_at      = now()
RETURNING `+documentColumns,
		doc.Title,
		doc.Category,
		doc.PublishDate,
		doc.Content,
		doc.SourceURL,
		doc.AttachmentURL,
		doc.AttachmentPath,
		doc.AttachmentText,
		doc.Fingerprint,
	)
	stored, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}
	return stored, nil
}

// AppendRunLog records the outcome of one crawl run.
func (s *Store) AppendRunLog(ctx context.Context, log regulation.RunLog) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_logs (category, status, count, error_message)
VALUES ($1,$2,$3,$4)`,
		log.Category,
		string(log.Status),
		log.Count,
		log.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

// LatestRunLog returns the most recent run log, or nil when the table is
// empty.
func (s *Store) LatestRunLog(ctx context.Context) (*regulation.RunLog, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, category, status, count, error_message, created_at FROM crawl_logs ORDER BY created_at DESC, id DESC LIMIT 1`)

	var log regulation.RunLog
	var status string
	err := row.Scan(&log.ID, &log.Category, &status, &log.Count, &log.ErrorMessage, &log.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run log: %w", err)
	}
	log.Status = regulation.RunStatus(status)
	return &log, nil
}
