package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	"go.uber.org/zap"
)

const (
	ctxUserID      = "user_id"
	ctxTier        = "tier"
	ctxTestAccount = "test_account"
)

// RequestLogger logs each request with a correlation id and safe fields.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-Id", requestID)

		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		if route == "/metrics" || route == "/health" {
			return
		}

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if userID := c.GetString(ctxUserID); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("http_request", fields...)
			return
		}
		log.Info("http_request", fields...)
	}
}

// IdentityRequired extracts the authenticated identity that the API
// gateway forwards in headers. Requests without a user id are rejected.
func (s *Server) IdentityRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-Id"))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		tier := membershipdomain.Tier(strings.ToLower(strings.TrimSpace(c.GetHeader("X-Membership-Tier"))))
		if tier == "" {
			tier = membershipdomain.TierGuest
		}

		testAccount, _ := strconv.ParseBool(c.GetHeader("X-Test-Account"))

		c.Set(ctxUserID, userID)
		c.Set(ctxTier, string(tier))
		c.Set(ctxTestAccount, testAccount)
		c.Next()
	}
}

// AdminRequired gates operational routes behind a shared header token.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := strings.TrimSpace(c.GetHeader("X-Admin-Role"))
		if role != "admin" {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func (s *Server) identity(c *gin.Context) (string, membershipdomain.Tier, bool) {
	return c.GetString(ctxUserID),
		membershipdomain.Tier(c.GetString(ctxTier)),
		c.GetBool(ctxTestAccount)
}

// ConsumeRateLimit throttles consumption per user ahead of the ledger
// transaction. Photo and video requests draw from the stricter media
// bucket.
func (s *Server) ConsumeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		userID := c.GetString(ctxUserID)
		allow := s.limiter.AllowConsume
		switch membershipdomain.Resource(c.Param("resource")) {
		case membershipdomain.ResourcePhoto, membershipdomain.ResourceVideo:
			allow = s.limiter.AllowMedia
		}

		res, err := allow(c.Request.Context(), userID)
		if err != nil {
			// Redis being down must not take chat down with it.
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(res.RetryAfterSeconds()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many requests",
			}})
			return
		}
		c.Next()
	}
}
