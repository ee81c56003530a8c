package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LogUsage(ctx context.Context, log *Log) error {
	query := `
		INSERT INTO usage_logs (request_id, provider, capability, strategy, cost_usd, latency_ms, cached, degraded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		log.RequestID, log.Provider, log.Capability, log.Strategy,
		log.CostUSD, log.LatencyMs, log.Cached, log.Degraded,
	).Scan(&log.ID, &log.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetRecent(ctx context.Context, from, to time.Time, limit int) ([]*Log, error) {
	query := `
		SELECT id, request_id, provider, capability, strategy, cost_usd, latency_ms, cached, degraded, created_at
		FROM usage_logs
		WHERE created_at BETWEEN $1 AND $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := s.db.Query(ctx, query, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage logs: %w", err)
	}
	defer rows.Close()

	var logs []*Log
	for rows.Next() {
		var l Log
		err := rows.Scan(
			&l.ID, &l.RequestID, &l.Provider, &l.Capability, &l.Strategy,
			&l.CostUSD, &l.LatencyMs, &l.Cached, &l.Degraded, &l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage log: %w", err)
		}
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage logs: %w", err)
	}

	return logs, nil
}

func (s *PostgresStore) GetTotalCost(ctx context.Context, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_logs
		WHERE created_at BETWEEN $1 AND $2
	`
	var total float64
	err := s.db.QueryRow(ctx, query, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get total cost: %w", err)
	}

	return total, nil
}
