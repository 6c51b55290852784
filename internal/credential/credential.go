package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/aimerfeng/PoolGate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service errors
var (
	ErrTokenNotFound = errors.New("pool token not found")
	ErrInvalidStatus = errors.New("invalid pool token status")
)

const tokenColumns = `id, secret, endpoint, status, usage_count, last_used_at, remark, created_at, updated_at`

// Service handles pool token administration. Pool tokens are never
// deleted; administrators flip the status between active, disabled and
// maintenance instead.
type Service struct {
	db *pgxpool.Pool
}

// NewService creates a new credential store service
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// CreateRequest represents a request to register a pool token
type CreateRequest struct {
	Secret   string  `json:"secret" binding:"required"`
	Endpoint string  `json:"endpoint" binding:"required,url"`
	Remark   *string `json:"remark,omitempty"`
}

func scanToken(row pgx.Row) (*models.PoolToken, error) {
	var t models.PoolToken
	err := row.Scan(
		&t.ID, &t.Secret, &t.Endpoint, &t.Status, &t.UsageCount,
		&t.LastUsedAt, &t.Remark, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &t, nil
}

// Create registers a new upstream credential in the pool
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*models.PoolToken, error) {
	token, err := scanToken(s.db.QueryRow(ctx, `
		INSERT INTO pool_tokens (secret, endpoint, remark)
		VALUES ($1, $2, $3)
		RETURNING `+tokenColumns+`
	`, req.Secret, req.Endpoint, req.Remark))
	if err != nil {
		return nil, fmt.Errorf("failed to create pool token: %w", err)
	}
	return token, nil
}

// GetByID returns a pool token by id
func (s *Service) GetByID(ctx context.Context, tokenID uuid.UUID) (*models.PoolToken, error) {
	token, err := scanToken(s.db.QueryRow(ctx, `
		SELECT `+tokenColumns+` FROM pool_tokens WHERE id = $1
	`, tokenID))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get pool token: %w", err)
	}
	return token, nil
}

// List returns all pool tokens with their usage counters
func (s *Service) List(ctx context.Context) ([]models.PoolToken, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tokenColumns+` FROM pool_tokens ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.PoolToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

// SetStatus flips a token between active, disabled and maintenance.
// Existing allocation rows are left untouched: a non-active token simply
// disappears from selection until it is re-activated.
func (s *Service) SetStatus(ctx context.Context, tokenID uuid.UUID, status models.PoolTokenStatus) error {
	switch status {
	case models.PoolTokenStatusActive, models.PoolTokenStatusDisabled, models.PoolTokenStatusMaintenance:
	default:
		return ErrInvalidStatus
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE pool_tokens SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, tokenID)
	if err != nil {
		return fmt.Errorf("failed to set pool token status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// Update changes a token's endpoint or remark
func (s *Service) Update(ctx context.Context, tokenID uuid.UUID, endpoint *string, remark *string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE pool_tokens
		SET endpoint = COALESCE($1, endpoint),
		    remark = COALESCE($2, remark),
		    updated_at = NOW()
		WHERE id = $3
	`, endpoint, remark, tokenID)
	if err != nil {
		return fmt.Errorf("failed to update pool token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}
