package allocation

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
)

// Service errors
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrQuotaExceeded = errors.New("allocation batch would exceed token quota")
	ErrEmptyBatch    = errors.New("allocation batch is empty")
)

// OutcomeKind tags the per-token result inside an accepted batch
type OutcomeKind string

const (
	OutcomeCreated                 OutcomeKind = "created"
	OutcomeSkippedAlreadyAllocated OutcomeKind = "skipped_already_allocated"
	OutcomeSkippedInactiveToken    OutcomeKind = "skipped_inactive_token"
)

// TokenOutcome is the result for a single token id within a batch
type TokenOutcome struct {
	TokenID      uuid.UUID   `json:"token_id"`
	Kind         OutcomeKind `json:"kind"`
	AllocationID *uuid.UUID  `json:"allocation_id,omitempty"`
}

// BatchResult is the result of an accepted allocation batch. A batch that
// would exceed the user's quota is rejected as a whole and produces no
// BatchResult at all.
type BatchResult struct {
	Created  []models.Allocation `json:"created"`
	Outcomes []TokenOutcome      `json:"outcomes"`
}

// SkippedCount returns how many token ids in the batch were skipped
func (r *BatchResult) SkippedCount() int {
	return len(r.Outcomes) - len(r.Created)
}

// ActiveAllocation is an active user-token link joined with the token's
// live usage counter, as consumed by the selector.
type ActiveAllocation struct {
	Token       models.PoolToken
	Priority    int
	AllocatedAt time.Time
}

// Service handles the allocation ledger between users and pool tokens
type Service struct {
	db *pgxpool.Pool
}

// NewService creates a new allocation ledger service
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// Allocate attempts to create active allocations for each token id.
//
// The quota check and all inserts run in one transaction holding a row
// lock on the user, so two concurrent batches for the same user cannot
// both read a stale active-count and jointly blow the ceiling. The whole
// batch is rejected with ErrQuotaExceeded when the ceiling would be
// exceeded; within an accepted batch, tokens that are already actively
// held or that are not active in the credential store are skipped
// without failing the rest.
func (s *Service) Allocate(ctx context.Context, userID uuid.UUID, tokenIDs []uuid.UUID, priority int) (*BatchResult, error) {
	if len(tokenIDs) == 0 {
		return nil, ErrEmptyBatch
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serializes concurrent allocation batches for this user.
	var tokenQuota int
	err = tx.QueryRow(ctx, `
		SELECT token_quota FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&tokenQuota)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user row: %w", err)
	}

	var activeCount int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM allocations WHERE user_id = $1 AND status = 'active'
	`, userID).Scan(&activeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count active allocations: %w", err)
	}

	// Fail fast on the whole batch before any insert.
	if activeCount+len(tokenIDs) > tokenQuota {
		monitoring.Get().QuotaRejections.Inc()
		return nil, fmt.Errorf("%w: active=%d requested=%d quota=%d",
			ErrQuotaExceeded, activeCount, len(tokenIDs), tokenQuota)
	}

	result := &BatchResult{}
	for _, tokenID := range tokenIDs {
		outcome, alloc, err := s.allocateOne(ctx, tx, userID, tokenID, priority)
		if err != nil {
			return nil, err
		}
		result.Outcomes = append(result.Outcomes, outcome)
		if alloc != nil {
			result.Created = append(result.Created, *alloc)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit allocation batch: %w", err)
	}

	monitoring.Get().AllocationsCreated.Add(float64(len(result.Created)))
	return result, nil
}

func (s *Service) allocateOne(ctx context.Context, tx pgx.Tx, userID, tokenID uuid.UUID, priority int) (TokenOutcome, *models.Allocation, error) {
	var status models.PoolTokenStatus
	err := tx.QueryRow(ctx, `
		SELECT status FROM pool_tokens WHERE id = $1
	`, tokenID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenOutcome{TokenID: tokenID, Kind: OutcomeSkippedInactiveToken}, nil, nil
		}
		return TokenOutcome{}, nil, fmt.Errorf("failed to check pool token: %w", err)
	}
	if status != models.PoolTokenStatusActive {
		return TokenOutcome{TokenID: tokenID, Kind: OutcomeSkippedInactiveToken}, nil, nil
	}

	// The partial unique index only covers active rows, so re-allocating
	// after a revoke inserts a fresh row rather than resurrecting the old one.
	var alloc models.Allocation
	err = tx.QueryRow(ctx, `
		INSERT INTO allocations (user_id, token_id, priority)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, token_id) WHERE status = 'active' DO NOTHING
		RETURNING id, user_id, token_id, status, priority, allocated_at, revoked_at
	`, userID, tokenID, priority).Scan(
		&alloc.ID, &alloc.UserID, &alloc.TokenID, &alloc.Status,
		&alloc.Priority, &alloc.AllocatedAt, &alloc.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenOutcome{TokenID: tokenID, Kind: OutcomeSkippedAlreadyAllocated}, nil, nil
		}
		return TokenOutcome{}, nil, fmt.Errorf("failed to insert allocation: %w", err)
	}

	return TokenOutcome{TokenID: tokenID, Kind: OutcomeCreated, AllocationID: &alloc.ID}, &alloc, nil
}

// Revoke marks matching active allocations as revoked and returns the
// number of rows affected. Revoking a pairing that does not exist or is
// already revoked counts as zero effect, not an error.
func (s *Service) Revoke(ctx context.Context, userID uuid.UUID, tokenIDs []uuid.UUID) (int64, error) {
	if len(tokenIDs) == 0 {
		return 0, nil
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE allocations
		SET status = 'revoked', revoked_at = NOW()
		WHERE user_id = $1 AND token_id = ANY($2) AND status = 'active'
	`, userID, tokenIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke allocations: %w", err)
	}

	revoked := tag.RowsAffected()
	monitoring.Get().AllocationsRevoked.Add(float64(revoked))
	return revoked, nil
}

// ActiveAllocationsFor returns the user's active allocations restricted to
// pool tokens that are themselves active. Allocations pointing at disabled
// or maintenance tokens stay in the ledger but fall out of this view.
func (s *Service) ActiveAllocationsFor(ctx context.Context, userID uuid.UUID) ([]ActiveAllocation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT t.id, t.secret, t.endpoint, t.status, t.usage_count, t.last_used_at,
		       t.remark, t.created_at, t.updated_at,
		       a.priority, a.allocated_at
		FROM allocations a
		JOIN pool_tokens t ON t.id = a.token_id
		WHERE a.user_id = $1 AND a.status = 'active' AND t.status = 'active'
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active allocations: %w", err)
	}
	defer rows.Close()

	var allocs []ActiveAllocation
	for rows.Next() {
		var a ActiveAllocation
		err := rows.Scan(
			&a.Token.ID, &a.Token.Secret, &a.Token.Endpoint, &a.Token.Status,
			&a.Token.UsageCount, &a.Token.LastUsedAt, &a.Token.Remark,
			&a.Token.CreatedAt, &a.Token.UpdatedAt,
			&a.Priority, &a.AllocatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active allocation: %w", err)
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

// ActiveCount returns the number of active allocations a user holds
func (s *Service) ActiveCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM allocations WHERE user_id = $1 AND status = 'active'
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active allocations: %w", err)
	}
	return count, nil
}

// ListForUser returns a user's full allocation history, revoked rows included
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Allocation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, token_id, status, priority, allocated_at, revoked_at
		FROM allocations
		WHERE user_id = $1
		ORDER BY allocated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var allocs []models.Allocation
	for rows.Next() {
		var a models.Allocation
		err := rows.Scan(&a.ID, &a.UserID, &a.TokenID, &a.Status, &a.Priority, &a.AllocatedAt, &a.RevokedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

// ListForToken returns every allocation of a pool token, for audit views
func (s *Service) ListForToken(ctx context.Context, tokenID uuid.UUID) ([]models.Allocation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, token_id, status, priority, allocated_at, revoked_at
		FROM allocations
		WHERE token_id = $1
		ORDER BY allocated_at DESC
	`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var allocs []models.Allocation
	for rows.Next() {
		var a models.Allocation
		err := rows.Scan(&a.ID, &a.UserID, &a.TokenID, &a.Status, &a.Priority, &a.AllocatedAt, &a.RevokedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}
