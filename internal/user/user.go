package user

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/aimerfeng/PoolGate/internal/cache"
	"github.com/aimerfeng/PoolGate/internal/models"
	"github.com/aimerfeng/PoolGate/internal/monitoring"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Service errors
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserNotActive = errors.New("user is not active")
	ErrInvalidToken  = errors.New("invalid personal token format")
	ErrInvalidQuota  = errors.New("token quota must be non-negative")
)

const userColumns = `id, username, email, password_hash, token_hash, token_prefix, role, status, token_quota, created_at, updated_at`

// Service handles user directory operations
type Service struct {
	db    *pgxpool.Pool
	cache *cache.Redis
}

// NewService creates a new user directory service. The cache is optional;
// when nil every personal-token lookup goes straight to the database.
func NewService(db *pgxpool.Pool, c *cache.Redis) *Service {
	return &Service{db: db, cache: c}
}

// GeneratePersonalToken generates a fresh 64-hex personal token.
// Returns: rawToken, tokenHash, tokenPrefix, error
func GeneratePersonalToken() (string, string, string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	rawToken := hex.EncodeToString(randomBytes)
	tokenHash := HashPersonalToken(rawToken)
	tokenPrefix := rawToken[:8]

	return rawToken, tokenHash, tokenPrefix, nil
}

// HashPersonalToken creates the SHA-256 hex digest stored at rest
func HashPersonalToken(rawToken string) string {
	hash := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(hash[:])
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.TokenHash, &u.TokenPrefix,
		&u.Role, &u.Status, &u.TokenQuota, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// FindByPersonalToken authenticates a raw personal token. Only active users
// may authenticate; suspended and disabled accounts are rejected without
// leaking which state they are in.
func (s *Service) FindByPersonalToken(ctx context.Context, rawToken string) (*models.User, error) {
	if len(rawToken) != 64 {
		return nil, ErrInvalidToken
	}
	tokenHash := HashPersonalToken(rawToken)

	if s.cache != nil {
		cached, err := s.cache.GetUserByTokenHash(ctx, tokenHash)
		if err != nil {
			log.Warn().Err(err).Msg("Auth cache read failed, falling back to database")
		} else if cached != nil {
			monitoring.Get().CacheHits.WithLabelValues("auth").Inc()
			if !cached.CanAuthenticate() {
				return nil, ErrUserNotActive
			}
			return cached, nil
		} else {
			monitoring.Get().CacheMisses.WithLabelValues("auth").Inc()
		}
	}

	user, err := scanUser(s.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE token_hash = $1
	`, tokenHash))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up personal token: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetUserByTokenHash(ctx, tokenHash, user); err != nil {
			log.Warn().Err(err).Msg("Auth cache write failed")
		}
	}

	if !user.CanAuthenticate() {
		return nil, ErrUserNotActive
	}
	return user, nil
}

// GetByID returns a user by id
func (s *Service) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, userID))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByUsername returns a user by username
func (s *Service) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE username = $1
	`, username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// List returns all users ordered by creation time
func (s *Service) List(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+userColumns+` FROM users ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetTokenQuota updates a user's allocation quota. This is the only code
// path that mutates token_quota; it is reached from admin routes only.
// Lowering the quota below the current active allocation count is allowed
// and simply blocks new allocations until enough are revoked.
func (s *Service) SetTokenQuota(ctx context.Context, userID uuid.UUID, quota int) error {
	if quota < 0 {
		return ErrInvalidQuota
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE users SET token_quota = $1, updated_at = NOW() WHERE id = $2
	`, quota, userID)
	if err != nil {
		return fmt.Errorf("failed to set token quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetStatus updates a user's status and drops any cached auth entry so a
// suspension takes effect immediately.
func (s *Service) SetStatus(ctx context.Context, userID uuid.UUID, status models.UserStatus) error {
	var tokenHash string
	err := s.db.QueryRow(ctx, `
		UPDATE users SET status = $1, updated_at = NOW() WHERE id = $2
		RETURNING token_hash
	`, status, userID).Scan(&tokenHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to set user status: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateTokenHash(ctx, tokenHash); err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to invalidate auth cache")
		}
	}
	return nil
}

// RotateToken replaces a user's personal token. The raw token is returned
// once and never stored; the previous token stops authenticating immediately.
func (s *Service) RotateToken(ctx context.Context, userID uuid.UUID) (string, error) {
	rawToken, tokenHash, tokenPrefix, err := GeneratePersonalToken()
	if err != nil {
		return "", err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldHash string
	err = tx.QueryRow(ctx, `
		SELECT token_hash FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&oldHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to read current token: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE users SET token_hash = $1, token_prefix = $2, updated_at = NOW() WHERE id = $3
	`, tokenHash, tokenPrefix, userID)
	if err != nil {
		return "", fmt.Errorf("failed to rotate personal token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit token rotation: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateTokenHash(ctx, oldHash); err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to invalidate auth cache")
		}
	}
	return rawToken, nil
}
