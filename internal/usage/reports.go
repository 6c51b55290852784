package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DailyAggregate is one day of usage for a user, summed across tokens
type DailyAggregate struct {
	Date         time.Time       `json:"date"`
	RequestCount int64           `json:"request_count"`
	SuccessCount int64           `json:"success_count"`
	ErrorCount   int64           `json:"error_count"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	CostUSD      decimal.Decimal `json:"cost_usd"`
}

// TokenRanking is one pool token's aggregate over a date range
type TokenRanking struct {
	TokenID      uuid.UUID       `json:"token_id"`
	Endpoint     string          `json:"endpoint"`
	RequestCount int64           `json:"request_count"`
	ErrorCount   int64           `json:"error_count"`
	CostUSD      decimal.Decimal `json:"cost_usd"`
}

// UserTotals sums a user's counters over a date range
type UserTotals struct {
	UserID       uuid.UUID       `json:"user_id"`
	RequestCount int64           `json:"request_count"`
	SuccessCount int64           `json:"success_count"`
	ErrorCount   int64           `json:"error_count"`
	CostUSD      decimal.Decimal `json:"cost_usd"`
}

// DailyByUser returns per-day aggregates for one user between from and to
// inclusive. Read-only projection for admin views; no invariants.
func (s *Service) DailyByUser(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]DailyAggregate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT date,
		       SUM(request_count), SUM(success_count), SUM(error_count),
		       SUM(input_tokens), SUM(output_tokens), SUM(cost_usd)
		FROM usage_stats
		WHERE user_id = $1 AND date BETWEEN $2 AND $3
		GROUP BY date
		ORDER BY date
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var aggs []DailyAggregate
	for rows.Next() {
		var a DailyAggregate
		err := rows.Scan(&a.Date, &a.RequestCount, &a.SuccessCount, &a.ErrorCount,
			&a.InputTokens, &a.OutputTokens, &a.CostUSD)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily aggregate: %w", err)
		}
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}

// TokenRankings returns pool tokens ordered by request volume over a range
func (s *Service) TokenRankings(ctx context.Context, from, to time.Time, limit int) ([]TokenRanking, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, `
		SELECT u.token_id, t.endpoint,
		       SUM(u.request_count), SUM(u.error_count), SUM(u.cost_usd)
		FROM usage_stats u
		JOIN pool_tokens t ON t.id = u.token_id
		WHERE u.date BETWEEN $1 AND $2
		GROUP BY u.token_id, t.endpoint
		ORDER BY SUM(u.request_count) DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query token rankings: %w", err)
	}
	defer rows.Close()

	var rankings []TokenRanking
	for rows.Next() {
		var r TokenRanking
		err := rows.Scan(&r.TokenID, &r.Endpoint, &r.RequestCount, &r.ErrorCount, &r.CostUSD)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token ranking: %w", err)
		}
		rankings = append(rankings, r)
	}
	return rankings, rows.Err()
}

// TotalsByUser returns per-user totals over a date range, busiest first
func (s *Service) TotalsByUser(ctx context.Context, from, to time.Time, limit int) ([]UserTotals, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, `
		SELECT user_id,
		       SUM(request_count), SUM(success_count), SUM(error_count), SUM(cost_usd)
		FROM usage_stats
		WHERE date BETWEEN $1 AND $2
		GROUP BY user_id
		ORDER BY SUM(request_count) DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query user totals: %w", err)
	}
	defer rows.Close()

	var totals []UserTotals
	for rows.Next() {
		var t UserTotals
		err := rows.Scan(&t.UserID, &t.RequestCount, &t.SuccessCount, &t.ErrorCount, &t.CostUSD)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user totals: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
