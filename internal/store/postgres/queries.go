package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/procuredocs/regcrawler/internal/regulation"
)

// ListQuery selects a page of documents.
type ListQuery struct {
	Category string
	// Sort names a whitelisted column, optionally prefixed with "-" for
	// descending order. Empty means newest publish date first.
	Sort     string
	Page     int
	PageSize int
}

// TimelineEntry counts documents published in one calendar month.
type TimelineEntry struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

var sortColumns = map[string]string{
	"publish_date": "publish_date",
	"created_at":   "created_at",
	"title":        "title",
}

func orderClause(sort string) (string, error) {
	if sort == "" {
		sort = "-publish_date"
	}
	direction := "ASC"
	if strings.HasPrefix(sort, "-") {
		direction = "DESC"
		sort = sort[1:]
	}
	column, ok := sortColumns[sort]
	if !ok {
		return "", fmt.Errorf("unsupported sort field %q", sort)
	}
	return fmt.Sprintf("ORDER BY %s %s NULLS LAST, id DESC", column, direction), nil
}

func pageBounds(page, pageSize int) (limit, offset int) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}
	return pageSize, (page - 1) * pageSize
}

// ListDocuments returns one page of documents plus the unpaged total.
func (s *Store) ListDocuments(ctx context.Context, q ListQuery) ([]regulation.Document, int, error) {
	order, err := orderClause(q.Sort)
	if err != nil {
		return nil, 0, err
	}

	where := ""
	var args []any
	if q.Category != "" {
		args = append(args, q.Category)
		where = "WHERE category = $1"
	}

	var total int
	countRow := s.pool.QueryRow(ctx, "SELECT count(*) FROM documents "+where, args...)
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	limit, offset := pageBounds(q.Page, q.PageSize)
	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT %s FROM documents %s %s LIMIT $%d OFFSET $%d",
		documentColumns, where, order, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs, err := collectDocuments(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	return docs, total, nil
}

// SearchDocuments matches term case-insensitively against title, content and
// attachment text.
func (s *Store) SearchDocuments(ctx context.Context, term string, page, pageSize int) ([]regulation.Document, int, error) {
	pattern := "%" + term + "%"
	where := `WHERE title ILIKE $1 OR content ILIKE $1 OR attachment_text ILIKE $1`

	var total int
	countRow := s.pool.QueryRow(ctx, "SELECT count(*) FROM documents "+where, pattern)
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	limit, offset := pageBounds(page, pageSize)
	query := fmt.Sprintf(
		"SELECT %s FROM documents %s ORDER BY publish_date DESC NULLS LAST, id DESC LIMIT $2 OFFSET $3",
		documentColumns, where)

	rows, err := s.pool.Query(ctx, query, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	docs, err := collectDocuments(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("search documents: %w", err)
	}
	return docs, total, nil
}

// Timeline groups published documents by calendar month, newest first.
// Documents without a publish date are excluded.
func (s *Store) Timeline(ctx context.Context, year int, category string) ([]TimelineEntry, error) {
	conditions := []string{"publish_date IS NOT NULL"}
	var args []any
	if year > 0 {
		args = append(args, year)
		conditions = append(conditions, "EXTRACT(YEAR FROM publish_date) = $"+strconv.Itoa(len(args)))
	}
	if category != "" {
		args = append(args, category)
		conditions = append(conditions, "category = $"+strconv.Itoa(len(args)))
	}

	query := fmt.Sprintf(`
SELECT to_char(publish_date, 'YYYY-MM') AS month, count(*)
FROM documents
WHERE %s
GROUP BY month
ORDER BY month DESC`, strings.Join(conditions, " AND "))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	defer rows.Close()

	var entries []TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		if err := rows.Scan(&e.Month, &e.Count); err != nil {
			return nil, fmt.Errorf("timeline: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	return entries, nil
}

// GetDocument returns the document with the given id, or nil when none
// exists.
func (s *Store) GetDocument(ctx context.Context, id int64) (*regulation.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func collectDocuments(rows pgx.Rows) ([]regulation.Document, error) {
	var docs []regulation.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
