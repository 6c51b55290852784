package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimerfeng/PoolGate/internal/models"
	"github.com/aimerfeng/PoolGate/internal/monitoring"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Outcome describes one forwarded call for accounting purposes
type Outcome struct {
	UserID       uuid.UUID
	TokenID      uuid.UUID
	RequestCount int64
	SuccessCount int64
	ErrorCount   int64
	InputTokens  int64
	OutputTokens int64
	CostUSD      decimal.Decimal
}

// Success builds the outcome for a successful forwarded call
func Success(userID, tokenID uuid.UUID) Outcome {
	return Outcome{UserID: userID, TokenID: tokenID, RequestCount: 1, SuccessCount: 1}
}

// Failure builds the outcome for a failed forwarded call
func Failure(userID, tokenID uuid.UUID) Outcome {
	return Outcome{UserID: userID, TokenID: tokenID, RequestCount: 1, ErrorCount: 1}
}

// Service accumulates per-(user, token, day) usage counters and the pool
// tokens' lifetime counters.
type Service struct {
	db *pgxpool.Pool
}

// NewService creates a new usage recorder
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// Record updates the token's lifetime counter and upserts the daily stat
// row. Both writes are single atomic statements, so concurrent recordings
// for the same (user, token, day) accumulate instead of clobbering.
//
// The lifetime counter moves on every forwarded call regardless of the
// upstream outcome.
func (s *Service) Record(ctx context.Context, o Outcome) error {
	monitoring.Get().RecordingsTotal.Inc()

	if o.RequestCount == 0 {
		o.RequestCount = 1
	}

	_, err := s.db.Exec(ctx, `
		UPDATE pool_tokens
		SET usage_count = usage_count + $1, last_used_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`, o.RequestCount, o.TokenID)
	if err != nil {
		monitoring.Get().RecordingFailures.Inc()
		return fmt.Errorf("failed to update pool token counters: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO usage_stats (
			user_id, token_id, date,
			request_count, success_count, error_count,
			input_tokens, output_tokens, cost_usd
		) VALUES ($1, $2, CURRENT_DATE, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, token_id, date) DO UPDATE SET
			request_count = usage_stats.request_count + EXCLUDED.request_count,
			success_count = usage_stats.success_count + EXCLUDED.success_count,
			error_count   = usage_stats.error_count + EXCLUDED.error_count,
			input_tokens  = usage_stats.input_tokens + EXCLUDED.input_tokens,
			output_tokens = usage_stats.output_tokens + EXCLUDED.output_tokens,
			cost_usd      = usage_stats.cost_usd + EXCLUDED.cost_usd,
			updated_at    = NOW()
	`, o.UserID, o.TokenID,
		o.RequestCount, o.SuccessCount, o.ErrorCount,
		o.InputTokens, o.OutputTokens, o.CostUSD)
	if err != nil {
		monitoring.Get().RecordingFailures.Inc()
		return fmt.Errorf("failed to upsert usage stat: %w", err)
	}

	return nil
}

// RecordBestEffort records and swallows any failure. The gateway uses
// this after a forward so accounting problems never change the response
// already owed to the caller.
func (s *Service) RecordBestEffort(ctx context.Context, o Outcome) {
	if err := s.Record(ctx, o); err != nil {
		log.Error().
			Err(err).
			Str("user_id", o.UserID.String()).
			Str("token_id", o.TokenID.String()).
			Msg("Usage recording failed")
	}
}

// Get returns the stat row for one (user, token, day), zeroed when absent
func (s *Service) Get(ctx context.Context, userID, tokenID uuid.UUID, date time.Time) (*models.UsageStat, error) {
	stat := models.UsageStat{UserID: userID, TokenID: tokenID, Date: date, CostUSD: decimal.Zero}
	err := s.db.QueryRow(ctx, `
		SELECT request_count, success_count, error_count,
		       input_tokens, output_tokens, cost_usd, updated_at
		FROM usage_stats
		WHERE user_id = $1 AND token_id = $2 AND date = $3
	`, userID, tokenID, date).Scan(
		&stat.RequestCount, &stat.SuccessCount, &stat.ErrorCount,
		&stat.InputTokens, &stat.OutputTokens, &stat.CostUSD, &stat.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &stat, nil
		}
		return nil, fmt.Errorf("failed to get usage stat: %w", err)
	}
	return &stat, nil
}
