package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aimerfeng/PoolGate/internal/allocation"
	"github.com/aimerfeng/PoolGate/internal/cache"
	"github.com/aimerfeng/PoolGate/internal/config"
	apierrors "github.com/aimerfeng/PoolGate/internal/errors"
	"github.com/aimerfeng/PoolGate/internal/gateway"
	"github.com/aimerfeng/PoolGate/internal/logging"
	"github.com/aimerfeng/PoolGate/internal/middleware"
	"github.com/aimerfeng/PoolGate/internal/monitoring"
	"github.com/aimerfeng/PoolGate/internal/selector"
	"github.com/aimerfeng/PoolGate/internal/usage"
	"github.com/aimerfeng/PoolGate/internal/user"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// GatewayServer serves the forward route that proxies completion requests
type GatewayServer struct {
	config  *config.Config
	router  *gin.Engine
	service *gateway.Service
	users   *user.Service
}

// NewGatewayServer creates the gateway server with all services wired
func NewGatewayServer(cfg *config.Config, db *pgxpool.Pool, redis *cache.Redis) *GatewayServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	users := user.NewService(db, redis)
	ledger := allocation.NewService(db)
	sel := selector.NewService(ledger)
	recorder := usage.NewService(db)

	srv := &GatewayServer{
		config:  cfg,
		router:  router,
		service: gateway.NewService(sel, recorder, redis, cfg),
		users:   users,
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *GatewayServer) Router() http.Handler {
	return s.router
}

func (s *GatewayServer) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", monitoring.Handler())

	// The whole /v1 tree is forwarded verbatim; the upstream owns the
	// route shape, the gateway only swaps the credential.
	v1 := s.router.Group("/v1", middleware.PersonalTokenAuth(s.users))
	{
		v1.Any("/*path", s.handleForward)
	}
}

func (s *GatewayServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "gateway"})
}

func (s *GatewayServer) sendError(c *gin.Context, apiErr *apierrors.APIError) {
	requestID := c.GetString(middleware.ContextKeyRequestID)
	c.JSON(apiErr.HTTPStatus, apierrors.NewErrorResponse(apiErr, requestID, c.Request.URL.Path, c.Request.Method))
}

func (s *GatewayServer) handleForward(c *gin.Context) {
	requestID := c.GetString(middleware.ContextKeyRequestID)
	u := middleware.GetUserFromContext(c)
	if u == nil {
		s.sendError(c, apierrors.ErrInvalidPersonalTokenError)
		return
	}

	rateResult, err := s.service.CheckRateLimit(c.Request.Context(), u)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("Failed to check rate limit")
		s.sendError(c, apierrors.ErrInternalServerError)
		return
	}
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", rateResult.Limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", rateResult.Remaining))
	if !rateResult.Allowed {
		retryAfter := int64(rateResult.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
		s.sendError(c, apierrors.ErrRateLimitedError)
		return
	}

	ctx := gateway.WithRequestID(c.Request.Context(), requestID)
	_, err = s.service.Forward(ctx, u, c.Request, c.Writer)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrNoCredential):
			s.sendError(c, apierrors.ErrNoAvailableCredentialError)
		case errors.Is(err, gateway.ErrUpstreamTimeout):
			s.sendError(c, apierrors.ErrUpstreamTimeoutError)
		case errors.Is(err, gateway.ErrCircuitOpen), errors.Is(err, gateway.ErrUpstreamError):
			s.sendError(c, apierrors.ErrUpstreamUnavailableError)
		default:
			log.Error().Err(err).Str("request_id", requestID).Msg("Forward failed")
			s.sendError(c, apierrors.ErrInternalServerError)
		}
		return
	}
}
