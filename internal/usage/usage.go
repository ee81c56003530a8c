// Package usage persists a log of dispatches for reporting: which provider
// served a request, what it cost, and whether the result was cached or
// degraded.
package usage

import (
	"context"
	"time"
)

type Log struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	Provider   string    `json:"provider"`
	Capability string    `json:"capability"`
	Strategy   string    `json:"strategy"`
	CostUSD    float64   `json:"cost_usd"`
	LatencyMs  int64     `json:"latency_ms"`
	Cached     bool      `json:"cached"`
	Degraded   bool      `json:"degraded"`
	CreatedAt  time.Time `json:"created_at"`
}

type Store interface {
	LogUsage(ctx context.Context, log *Log) error
	GetRecent(ctx context.Context, from, to time.Time, limit int) ([]*Log, error)
	GetTotalCost(ctx context.Context, from, to time.Time) (float64, error)
}
