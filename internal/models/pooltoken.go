package models

import (
	"time"

	"github.com/google/uuid"
)

// PoolTokenStatus represents the administrative state of a pool token
type PoolTokenStatus string

const (
	PoolTokenStatusActive      PoolTokenStatus = "active"
	PoolTokenStatusDisabled    PoolTokenStatus = "disabled"
	PoolTokenStatusMaintenance PoolTokenStatus = "maintenance"
)

// PoolToken represents an upstream API credential held in the pool.
// Tokens are never deleted; an administrator flips the status instead.
type PoolToken struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	Secret     string          `json:"-" db:"secret"`
	Endpoint   string          `json:"endpoint" db:"endpoint"`
	Status     PoolTokenStatus `json:"status" db:"status"`
	UsageCount int64           `json:"usage_count" db:"usage_count"`
	LastUsedAt *time.Time      `json:"last_used_at,omitempty" db:"last_used_at"`
	Remark     *string         `json:"remark,omitempty" db:"remark"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// Available reports whether the token may serve new traffic or allocations
func (t *PoolToken) Available() bool {
	return t.Status == PoolTokenStatusActive
}
