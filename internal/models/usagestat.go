package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageStat holds accumulated per-(user, token, day) counters.
// Rows are only ever incremented, never overwritten.
type UsageStat struct {
	UserID       uuid.UUID       `json:"user_id" db:"user_id"`
	TokenID      uuid.UUID       `json:"token_id" db:"token_id"`
	Date         time.Time       `json:"date" db:"date"`
	RequestCount int64           `json:"request_count" db:"request_count"`
	SuccessCount int64           `json:"success_count" db:"success_count"`
	ErrorCount   int64           `json:"error_count" db:"error_count"`
	InputTokens  int64           `json:"input_tokens" db:"input_tokens"`
	OutputTokens int64           `json:"output_tokens" db:"output_tokens"`
	CostUSD      decimal.Decimal `json:"cost_usd" db:"cost_usd"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}
