package models

import (
	"time"

	"github.com/google/uuid"
)

// AllocationStatus represents the state of a user-token link.
// Transitions are one-way: active -> revoked. Re-allocating after a
// revoke creates a new row; the unique constraint only covers active rows.
type AllocationStatus string

const (
	AllocationStatusActive  AllocationStatus = "active"
	AllocationStatusRevoked AllocationStatus = "revoked"
)

// Allocation links a user to a pool token they may use
type Allocation struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	UserID      uuid.UUID        `json:"user_id" db:"user_id"`
	TokenID     uuid.UUID        `json:"token_id" db:"token_id"`
	Status      AllocationStatus `json:"status" db:"status"`
	Priority    int              `json:"priority" db:"priority"`
	AllocatedAt time.Time        `json:"allocated_at" db:"allocated_at"`
	RevokedAt   *time.Time       `json:"revoked_at,omitempty" db:"revoked_at"`
}
