package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over item text with ts_rank ordering and
// ts_headline snippets, scoped to lists the user owns or holds a grant on.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.UserID == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsQuery = "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.UserID}

	baseSQL := fmt.Sprintf(`
		SELECT i.id, i.list_id, l.name, i.text,
			ts_headline('english', i.text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			i.is_completed,
			ts_rank(i.fts, %s) AS rank
		FROM items i
		JOIN lists l ON l.id = i.list_id
		WHERE i.fts @@ %s
		  AND (l.owner_id = $2 OR EXISTS (
			SELECT 1 FROM list_access la WHERE la.list_id = l.id AND la.user_id = $2
		  ))`, tsQuery, tsQuery, tsQuery)

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", baseSQL)
	dataSQL := fmt.Sprintf(`SELECT id, list_id, name, text, snippet, is_completed
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, baseSQL, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ItemID, &r.ListID, &r.ListName, &r.Text, &r.Snippet, &r.IsCompleted); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every item for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ItemRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT i.id, i.list_id, l.name, i.text, i.is_completed
		FROM items i
		JOIN lists l ON l.id = i.list_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	records := make([]ItemRecord, 0)
	for rows.Next() {
		var rec ItemRecord
		if err := rows.Scan(&rec.ID, &rec.ListID, &rec.ListName, &rec.Text, &rec.IsCompleted); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return records, nil
}
