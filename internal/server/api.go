package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/aimerfeng/PoolGate/internal/allocation"
	"github.com/aimerfeng/PoolGate/internal/auth"
	"github.com/aimerfeng/PoolGate/internal/cache"
	"github.com/aimerfeng/PoolGate/internal/config"
	"github.com/aimerfeng/PoolGate/internal/credential"
	apierrors "github.com/aimerfeng/PoolGate/internal/errors"
	"github.com/aimerfeng/PoolGate/internal/logging"
	"github.com/aimerfeng/PoolGate/internal/middleware"
	"github.com/aimerfeng/PoolGate/internal/monitoring"
	"github.com/aimerfeng/PoolGate/internal/usage"
	"github.com/aimerfeng/PoolGate/internal/user"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// APIServer serves registration, self-service and admin routes
type APIServer struct {
	config      *config.Config
	router      *gin.Engine
	db          *pgxpool.Pool
	authService *auth.Service
	users       *user.Service
	credentials *credential.Service
	ledger      *allocation.Service
	usageStats  *usage.Service
}

// NewAPIServer creates an API server with all services wired
func NewAPIServer(cfg *config.Config, db *pgxpool.Pool, redis *cache.Redis) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:      cfg,
		router:      router,
		db:          db,
		authService: auth.NewService(db, &cfg.JWT),
		users:       user.NewService(db, redis),
		credentials: credential.NewService(db),
		ledger:      allocation.NewService(db),
		usageStats:  usage.NewService(db),
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

func (s *APIServer) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", monitoring.Handler())

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/auth/register", s.handleRegister)
		v1.POST("/auth/login", s.handleLogin)
	}

	me := v1.Group("/me", middleware.JWTAuth(s.authService))
	{
		me.GET("", s.handleGetMe)
		me.POST("/token/rotate", s.handleRotateToken)
		me.GET("/allocations", s.handleMyAllocations)
		me.GET("/usage/daily", s.handleMyDailyUsage)
	}

	admin := v1.Group("/admin", middleware.JWTAuth(s.authService), middleware.RequireAdmin())
	{
		admin.GET("/users", s.handleListUsers)
		admin.GET("/users/:userId", s.handleGetUser)
		admin.PUT("/users/:userId/status", s.handleSetUserStatus)
		admin.PUT("/users/:userId/quota", s.handleSetUserQuota)

		admin.POST("/pool-tokens", s.handleCreatePoolToken)
		admin.GET("/pool-tokens", s.handleListPoolTokens)
		admin.GET("/pool-tokens/:tokenId", s.handleGetPoolToken)
		admin.PUT("/pool-tokens/:tokenId/status", s.handleSetPoolTokenStatus)
		admin.PATCH("/pool-tokens/:tokenId", s.handleUpdatePoolToken)
		admin.GET("/pool-tokens/:tokenId/allocations", s.handleTokenAllocations)

		admin.POST("/users/:userId/allocations", s.handleAllocate)
		admin.DELETE("/users/:userId/allocations", s.handleRevoke)
		admin.GET("/users/:userId/allocations", s.handleUserAllocations)

		admin.GET("/reports/users", s.handleUserTotalsReport)
		admin.GET("/reports/tokens", s.handleTokenRankingsReport)
	}
}

func (s *APIServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "api"})
}

func (s *APIServer) sendError(c *gin.Context, apiErr *apierrors.APIError) {
	requestID := c.GetString(middleware.ContextKeyRequestID)
	c.JSON(apiErr.HTTPStatus, apierrors.NewErrorResponse(apiErr, requestID, c.Request.URL.Path, c.Request.Method))
}

func (s *APIServer) handleRegister(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	resp, err := s.authService.Register(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailAlreadyExists):
			s.sendError(c, apierrors.NewInvalidRequestError("email already registered"))
		case errors.Is(err, auth.ErrUsernameAlreadyExists):
			s.sendError(c, apierrors.NewInvalidRequestError("username already taken"))
		default:
			log.Error().Err(err).Msg("Registration failed")
			s.sendError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *APIServer) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	resp, err := s.authService.Login(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			s.sendError(c, apierrors.ErrInvalidCredentialsError)
		case errors.Is(err, auth.ErrAccountNotActive):
			s.sendError(c, apierrors.ErrUserNotActiveError)
		default:
			log.Error().Err(err).Msg("Login failed")
			s.sendError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) callerID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(middleware.GetUserIDFromContext(c))
	if err != nil {
		s.sendError(c, apierrors.ErrInvalidCredentialsError)
		return uuid.Nil, false
	}
	return id, true
}

func (s *APIServer) handleGetMe(c *gin.Context) {
	userID, ok := s.callerID(c)
	if !ok {
		return
	}

	u, err := s.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			s.sendError(c, apierrors.ErrUserNotFoundError)
			return
		}
		log.Error().Err(err).Msg("Failed to load user")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *APIServer) handleRotateToken(c *gin.Context) {
	userID, ok := s.callerID(c)
	if !ok {
		return
	}

	rawToken, err := s.users.RotateToken(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to rotate personal token")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"personal_token": rawToken,
		"message":        "Store the personal token now, it will not be shown again.",
	})
}

func (s *APIServer) handleMyAllocations(c *gin.Context) {
	userID, ok := s.callerID(c)
	if !ok {
		return
	}

	allocs, err := s.ledger.ListForUser(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list allocations")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": allocs, "total": len(allocs)})
}

func (s *APIServer) handleMyDailyUsage(c *gin.Context) {
	userID, ok := s.callerID(c)
	if !ok {
		return
	}

	from, to, ok := s.parseDateRange(c)
	if !ok {
		return
	}

	aggs, err := s.usageStats.DailyByUser(c.Request.Context(), userID, from, to)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load daily usage")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": aggs})
}

func (s *APIServer) parseDateRange(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now

	if v := c.Query("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.sendError(c, apierrors.NewInvalidRequestError("invalid from date, expected YYYY-MM-DD"))
			return time.Time{}, time.Time{}, false
		}
		from = parsed
	}
	if v := c.Query("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.sendError(c, apierrors.NewInvalidRequestError("invalid to date, expected YYYY-MM-DD"))
			return time.Time{}, time.Time{}, false
		}
		to = parsed
	}
	return from, to, true
}

func (s *APIServer) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		s.sendError(c, apierrors.NewInvalidRequestError("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}
