package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/aimerfeng/PoolGate/internal/config"
	"github.com/aimerfeng/PoolGate/internal/models"
	"github.com/aimerfeng/PoolGate/internal/user"
	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service handles registration and admin-session authentication
type Service struct {
	db     *pgxpool.Pool
	config *config.JWTConfig
}

// NewService creates a new auth service
func NewService(db *pgxpool.Pool, jwtCfg *config.JWTConfig) *Service {
	return &Service{db: db, config: jwtCfg}
}

// Claims represents JWT claims for admin/API sessions
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserResponse represents a user response (without sensitive data)
type UserResponse struct {
	ID          uuid.UUID         `json:"id"`
	Username    string            `json:"username"`
	Email       string            `json:"email"`
	TokenPrefix string            `json:"token_prefix"`
	Role        models.UserRole   `json:"role"`
	Status      models.UserStatus `json:"status"`
	TokenQuota  int               `json:"token_quota"`
	CreatedAt   time.Time         `json:"created_at"`
}

// RegisterResponse carries the raw personal token, returned exactly once
type RegisterResponse struct {
	User          UserResponse `json:"user"`
	PersonalToken string       `json:"personal_token"`
	Message       string       `json:"message"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	User        UserResponse `json:"user"`
	AccessToken string       `json:"access_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
	TokenType   string       `json:"token_type"`
}

// Register creates a new user account with a fresh personal token.
// New accounts start with token_quota 0; an administrator raises the
// quota and allocates pool tokens afterwards.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	var exists bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)", req.Email).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check email existence: %w", err)
	}
	if exists {
		return nil, ErrEmailAlreadyExists
	}

	err = s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)", req.Username).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check username existence: %w", err)
	}
	if exists {
		return nil, ErrUsernameAlreadyExists
	}

	passwordHash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	rawToken, tokenHash, tokenPrefix, err := user.GeneratePersonalToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate personal token: %w", err)
	}

	var u models.User
	err = s.db.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, token_hash, token_prefix)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, username, email, password_hash, token_hash, token_prefix, role, status, token_quota, created_at, updated_at
	`, req.Username, req.Email, passwordHash, tokenHash, tokenPrefix).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.TokenHash, &u.TokenPrefix,
		&u.Role, &u.Status, &u.TokenQuota, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &RegisterResponse{
		User:          toUserResponse(&u),
		PersonalToken: rawToken,
		Message:       "Registration successful. Store the personal token now, it will not be shown again.",
	}, nil
}

// Login authenticates a user by password and returns a session token
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	var u models.User
	err := s.db.QueryRow(ctx, `
		SELECT id, username, email, password_hash, token_hash, token_prefix, role, status, token_quota, created_at, updated_at
		FROM users WHERE username = $1
	`, req.Username).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.TokenHash, &u.TokenPrefix,
		&u.Role, &u.Status, &u.TokenQuota, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Generic error so usernames cannot be enumerated
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	match, err := argon2id.ComparePasswordAndHash(req.Password, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		return nil, ErrInvalidCredentials
	}

	if !u.CanAuthenticate() {
		return nil, ErrAccountNotActive
	}

	token, expiresAt, err := s.generateAccessToken(&u)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		User:        toUserResponse(&u),
		AccessToken: token,
		ExpiresAt:   expiresAt,
		TokenType:   "Bearer",
	}, nil
}

// ValidateAccessToken validates a session token and returns claims
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) generateAccessToken(u *models.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(time.Duration(s.config.AccessTokenExpiry) * time.Minute)

	claims := &Claims{
		UserID: u.ID.String(),
		Role:   string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "access",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        generateJTI(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// toUserResponse converts a User to UserResponse
func toUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		TokenPrefix: u.TokenPrefix,
		Role:        u.Role,
		Status:      u.Status,
		TokenQuota:  u.TokenQuota,
		CreatedAt:   u.CreatedAt,
	}
}

// generateJTI generates a unique JWT ID
func generateJTI() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
