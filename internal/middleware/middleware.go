package middleware

import (
	"errors"
	"strings"

	"github.com/aimerfeng/PoolGate/internal/auth"
	apierrors "github.com/aimerfeng/PoolGate/internal/errors"
	"github.com/aimerfeng/PoolGate/internal/logging"
	"github.com/aimerfeng/PoolGate/internal/models"
	"github.com/aimerfeng/PoolGate/internal/user"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys for storing request and caller information
const (
	ContextKeyRequestID = "request_id"
	ContextKeyUserID    = "user_id"
	ContextKeyRole      = "role"
	ContextKeyUser      = "auth_user"
)

// RequestID assigns a unique id to every request and echoes it back
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// CORS applies the configured allowed origins
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		}
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// JWTAuth validates admin/API session tokens from the Authorization header
func JWTAuth(authSvc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			respondWithError(c, apierrors.ErrInvalidCredentialsError)
			c.Abort()
			return
		}

		claims, err := authSvc.ValidateAccessToken(tokenString)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				respondWithError(c, apierrors.ErrTokenExpiredError)
			} else {
				respondWithError(c, apierrors.ErrInvalidCredentialsError)
			}
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin checks the role claim set by JWTAuth
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ContextKeyRole)
		if !exists || models.UserRole(role.(string)) != models.UserRoleAdmin {
			respondWithError(c, apierrors.ErrForbiddenError)
			c.Abort()
			return
		}
		c.Next()
	}
}

// PersonalTokenAuth authenticates forward-route callers by their personal
// access token. The resolved user is stored in the context.
func PersonalTokenAuth(users *user.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			// Fall back to the x-api-key convention used by completion clients
			rawToken = c.GetHeader("X-Api-Key")
		}
		if rawToken == "" {
			respondWithError(c, apierrors.ErrInvalidPersonalTokenError)
			c.Abort()
			return
		}

		u, err := users.FindByPersonalToken(c.Request.Context(), rawToken)
		if err != nil {
			switch {
			case errors.Is(err, user.ErrUserNotActive):
				logging.LogSecurityEvent("inactive_user_token", "", c.ClientIP(), c.Request.URL.Path)
				respondWithError(c, apierrors.ErrUserNotActiveError)
			case errors.Is(err, user.ErrUserNotFound), errors.Is(err, user.ErrInvalidToken):
				logging.LogSecurityEvent("invalid_personal_token", "", c.ClientIP(), c.Request.URL.Path)
				respondWithError(c, apierrors.ErrInvalidPersonalTokenError)
			default:
				respondWithError(c, apierrors.ErrInternalServerError)
			}
			c.Abort()
			return
		}

		c.Set(ContextKeyUser, u)
		c.Set(ContextKeyUserID, u.ID.String())
		c.Next()
	}
}

// extractBearerToken extracts the token from a Bearer authorization header
func extractBearerToken(authHeader string) (string, error) {
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", auth.ErrInvalidToken
	}
	return authHeader[len(bearerPrefix):], nil
}

// respondWithError sends a standardized error response
func respondWithError(c *gin.Context, err *apierrors.APIError) {
	requestID := c.GetString(ContextKeyRequestID)
	response := apierrors.NewErrorResponse(err, requestID, c.Request.URL.Path, c.Request.Method)
	c.JSON(err.HTTPStatus, response)
}

// GetUserFromContext extracts the authenticated user set by PersonalTokenAuth
func GetUserFromContext(c *gin.Context) *models.User {
	v, exists := c.Get(ContextKeyUser)
	if !exists {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

// GetUserIDFromContext extracts the caller's user id claim
func GetUserIDFromContext(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}
