package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aimerfeng/PoolGate/internal/cache"
	"github.com/aimerfeng/PoolGate/internal/config"
	"github.com/aimerfeng/PoolGate/internal/logging"
	"github.com/aimerfeng/PoolGate/internal/models"
	"github.com/aimerfeng/PoolGate/internal/monitoring"
	"github.com/aimerfeng/PoolGate/internal/selector"
	"github.com/aimerfeng/PoolGate/internal/usage"
	"github.com/rs/zerolog/log"
)

// Service errors
var (
	ErrNoCredential    = selector.ErrNoCredential
	ErrUpstreamTimeout = errors.New("upstream service timeout")
	ErrUpstreamError   = errors.New("upstream service error")
)

// Service orchestrates one forwarded request: pick a pool token, replay
// the payload upstream with the credential substituted, stream the
// response back, and record the outcome.
type Service struct {
	selector        *selector.Service
	recorder        *usage.Service
	breakers        *CircuitBreakerManager
	limiter         *RateLimiter
	httpClient      *http.Client
	defaultEndpoint string
}

// NewService creates a new gateway service
func NewService(sel *selector.Service, rec *usage.Service, redis *cache.Redis, cfg *config.Config) *Service {
	return &Service{
		selector:        sel,
		recorder:        rec,
		breakers:        NewCircuitBreakerManager(DefaultCircuitBreakerConfig()),
		limiter:         NewRateLimiter(redis, &cfg.RateLimit),
		defaultEndpoint: cfg.Gateway.DefaultEndpoint,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Gateway.UpstreamTimeout) * time.Second,
		},
	}
}

// CheckRateLimit applies the per-user sliding window limit
func (s *Service) CheckRateLimit(ctx context.Context, u *models.User) (*RateLimitResult, error) {
	return s.limiter.Check(ctx, u.ID)
}

// ForwardResult describes a completed forward for logging
type ForwardResult struct {
	TokenID      string
	Endpoint     string
	UpstreamCode int
	Latency      time.Duration
	Success      bool
}

// Headers the gateway owns; everything else passes through untouched.
var strippedRequestHeaders = []string{
	"Authorization",
	"X-Api-Key",
	"Cookie",
}

// Forward serves one authenticated request. The response is written to w
// in all cases where an upstream response exists, including non-2xx: the
// upstream status and body pass through unchanged. A non-nil error means
// no upstream response reached the client and the caller must respond.
//
// Usage recording is best-effort. It runs after every selection that led
// to a forward attempt, success or failure, and its own errors are logged
// and swallowed so they can never mask the upstream outcome.
func (s *Service) Forward(ctx context.Context, u *models.User, req *http.Request, w http.ResponseWriter) (*ForwardResult, error) {
	token, err := s.selector.SelectOptimal(ctx, u.ID)
	if err != nil {
		if errors.Is(err, selector.ErrNoCredential) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("failed to select pool token: %w", err)
	}

	endpoint := token.Endpoint
	if endpoint == "" {
		endpoint = s.defaultEndpoint
	}

	// Recording must outlive the request context: the forward most in
	// need of accounting is the one whose context just expired.
	recordCtx := context.WithoutCancel(ctx)

	start := time.Now()
	result := &ForwardResult{TokenID: token.ID.String(), Endpoint: endpoint}

	resp, err := s.callUpstream(ctx, endpoint, token, req)
	if err != nil {
		result.Latency = time.Since(start)
		s.recorder.RecordBestEffort(recordCtx, usage.Failure(u.ID, token.ID))
		monitoring.Get().UpstreamErrors.WithLabelValues(endpoint, errorType(err)).Inc()
		s.logForward(ctx, u, result, "error")
		return nil, err
	}
	defer resp.Body.Close()

	result.UpstreamCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if err := relayBody(w, resp.Body); err != nil {
		// Client went away or the stream broke mid-flight; the upstream
		// call itself still happened and is accounted as such.
		log.Warn().Err(err).Str("token_id", result.TokenID).Msg("Response relay interrupted")
	}

	result.Latency = time.Since(start)
	monitoring.Get().UpstreamLatency.WithLabelValues(endpoint).Observe(result.Latency.Seconds())
	monitoring.Get().UpstreamRequests.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	outcome := usage.Failure(u.ID, token.ID)
	status := "error"
	if result.Success {
		outcome = usage.Success(u.ID, token.ID)
		status = "success"
	}
	s.recorder.RecordBestEffort(recordCtx, outcome)
	s.logForward(ctx, u, result, status)

	return result, nil
}

func (s *Service) callUpstream(ctx context.Context, endpoint string, token *models.PoolToken, req *http.Request) (*http.Response, error) {
	target := strings.TrimSuffix(endpoint, "/") + req.URL.Path
	if req.URL.RawQuery != "" {
		target += "?" + req.URL.RawQuery
	}

	upReq, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamError, err)
	}

	upReq.Header = req.Header.Clone()
	for _, h := range strippedRequestHeaders {
		upReq.Header.Del(h)
	}
	upReq.Header.Set("Authorization", "Bearer "+token.Secret)
	upReq.Header.Set("X-Api-Key", token.Secret)

	result, err := s.breakers.Execute(endpoint, func() (any, error) {
		resp, err := s.httpClient.Do(upReq)
		if err != nil {
			return nil, err
		}
		// Only transport-level failures trip the breaker; an upstream
		// 4xx/5xx is a response we pass through.
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, ErrCircuitOpen
		}
		if isTimeout(err) || ctx.Err() == context.DeadlineExceeded {
			return nil, ErrUpstreamTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamError, err)
	}

	return result.(*http.Response), nil
}

func copyHeaders(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

// relayBody pipes the upstream body to the client, flushing after each
// chunk so server-sent event streams pass through without buffering.
func relayBody(w http.ResponseWriter, body io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue) && ue.Timeout()
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	default:
		return "transport"
	}
}

func (s *Service) logForward(ctx context.Context, u *models.User, result *ForwardResult, status string) {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	logging.LogForward(&logging.ForwardLogEntry{
		RequestID:    requestID,
		UserID:       u.ID.String(),
		TokenID:      result.TokenID,
		Endpoint:     result.Endpoint,
		UpstreamCode: result.UpstreamCode,
		Latency:      result.Latency,
		Status:       status,
	})
}

type requestIDKey struct{}

// WithRequestID attaches a request id to the context for forward logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}
