package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"coursecart/internal/domain"
	"coursecart/internal/logging"
	"coursecart/internal/metrics"
	"coursecart/internal/repository/token"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

type userCtxKeyType struct{}

var userCtxKey = userCtxKeyType{}

// TokenLookup resolves bearer tokens. Expired tokens are deleted on sight.
type TokenLookup interface {
	Get(ctx context.Context, token string) (*token.Token, error)
	Delete(ctx context.Context, token string) error
}

// requestLogger puts a request-scoped logger on the context and writes one
// access line per request.
func requestLogger(base *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		l := base.With(zap.String("request_id", reqID))
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), l))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		m.ObserveHTTP(route, c.Request.Method, status, elapsed)
		l.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func authMiddleware(tokens TokenLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		const prefix = "bearer "
		if len(raw) <= len(prefix) || !strings.EqualFold(raw[:len(prefix)], prefix) {
			unauthorized(c)
			return
		}
		value := strings.TrimSpace(raw[len(prefix):])
		if value == "" {
			unauthorized(c)
			return
		}
		tok, err := tokens.Get(c.Request.Context(), value)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				unauthorized(c)
				return
			}
			writeError(c, err)
			return
		}
		if !tok.ExpiresAt.IsZero() && time.Now().After(tok.ExpiresAt) {
			if err := tokens.Delete(c.Request.Context(), value); err != nil && !errors.Is(err, domain.ErrNotFound) {
				logging.FromContext(c.Request.Context(), nil).Warn("purge expired token", zap.Error(err))
			}
			unauthorized(c)
			return
		}
		ctx := context.WithValue(c.Request.Context(), userCtxKey, tok.UserID)
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx, nil).With(zap.String("user_id", tok.UserID)))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
		StatusCode: http.StatusUnauthorized,
		Message:    "invalid or missing bearer token",
	})
}

func userID(c *gin.Context) string {
	id, _ := c.Request.Context().Value(userCtxKey).(string)
	return id
}
