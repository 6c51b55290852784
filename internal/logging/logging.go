package logging

import (
	"io"
	"os"
	"time"

	"github.com/aimerfeng/PoolGate/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger based on configuration
func Setup(level string, env string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer
	if env == "production" {
		output = os.Stdout
	} else {
		// Pretty console output for development
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "poolgate").
		Logger()
}

// SetupFromConfig initializes the global logger from the app config
func SetupFromConfig(cfg *config.Config) {
	Setup(os.Getenv("LOG_LEVEL"), cfg.Server.Env)
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger is a Gin middleware for structured request logging
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID := c.GetString("request_id")

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}

		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// ForwardLogEntry represents a structured log entry for forwarded calls
type ForwardLogEntry struct {
	RequestID    string        `json:"request_id"`
	UserID       string        `json:"user_id"`
	TokenID      string        `json:"token_id"`
	Endpoint     string        `json:"endpoint"`
	UpstreamCode int           `json:"upstream_code"`
	Latency      time.Duration `json:"latency_ms"`
	Status       string        `json:"status"`
}

// LogForward logs a forwarded upstream call with structured data
func LogForward(entry *ForwardLogEntry) {
	event := log.Info()
	if entry.Status == "error" {
		event = log.Error()
	}

	event.
		Str("request_id", entry.RequestID).
		Str("user_id", entry.UserID).
		Str("token_id", entry.TokenID).
		Str("endpoint", entry.Endpoint).
		Int("upstream_code", entry.UpstreamCode).
		Dur("latency", entry.Latency).
		Str("status", entry.Status).
		Msg("Upstream forward")
}

// LogSecurityEvent logs security-related events
func LogSecurityEvent(eventType, userID, clientIP, details string) {
	log.Warn().
		Str("event_type", eventType).
		Str("user_id", userID).
		Str("client_ip", clientIP).
		Str("details", details).
		Msg("Security event")
}
