package usage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for chat usage records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// BatchInsert writes a slice of records to the database in a single
// multi-row INSERT statement. It is a no-op when records is empty.
func (s *Store) BatchInsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	const cols = 7 // columns per row, excluding the server-generated id
	args := make([]any, 0, len(records)*cols)
	rows := make([]string, 0, len(records))

	for i, rec := range records {
		base := i * cols
		rows = append(rows, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			rec.UserID,
			rec.TransactionID,
			rec.Timestamp,
			rec.Outcome,
			rec.Model,
			rec.Tokens,
			rec.LatencyMs,
		)
	}

	query := `INSERT INTO chat_usage
		(user_id, transaction_id, timestamp, outcome, model, tokens, latency_ms)
		VALUES ` + strings.Join(rows, ", ")

	_, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("batch inserting usage records: %w", err)
	}

	return nil
}

// GetSummary returns aggregate usage matching the given query filters.
func (s *Store) GetSummary(ctx context.Context, q SummaryQuery) (*Summary, error) {
	where, args := buildWhereClause(q)

	query := `SELECT
		COUNT(*),
		COALESCE(SUM(tokens), 0),
		COALESCE(SUM(CASE WHEN outcome = 'answered' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN outcome = 'degraded' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN outcome NOT IN ('answered', 'degraded') THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(latency_ms), 0)
	FROM chat_usage` + where

	var summary Summary
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&summary.TotalRequests,
		&summary.TotalTokens,
		&summary.Answered,
		&summary.Degraded,
		&summary.Failed,
		&summary.AvgLatencyMs,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage summary: %w", err)
	}

	return &summary, nil
}

// buildWhereClause constructs a WHERE clause and positional arguments from a
// SummaryQuery. The returned string starts with " WHERE" or is empty.
func buildWhereClause(q SummaryQuery) (string, []any) {
	var conditions []string
	var args []any

	if q.UserID != "" {
		args = append(args, q.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}
