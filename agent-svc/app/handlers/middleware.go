package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dockfleet/agent-svc/app/apperrors"
	"dockfleet/agent-svc/app/metrics"
	"dockfleet/agent-svc/app/services"
	"dockfleet/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const agentIDKey = "agentID"

// AgentAuth requires a bearer token issued to the agent named by the :id path parameter
func AgentAuth(jwtService *services.JWTService, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(c, log, apperrors.Unauthorized("missing bearer token"))
			c.Abort()
			return
		}

		agentID, err := jwtService.ValidateToken(token)
		if err != nil {
			log.Debug("rejected agent token", zap.Error(err))
			respondError(c, log, apperrors.Unauthorized("invalid token"))
			c.Abort()
			return
		}
		if agentID != c.Param("id") {
			respondError(c, log, apperrors.Unauthorized("token was issued to another agent"))
			c.Abort()
			return
		}

		c.Set(agentIDKey, agentID)
		c.Next()
	}
}

// HeartbeatLimiter sheds heartbeat bursts with 429 once the token bucket is empty
func HeartbeatLimiter(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := limiter.Reserve()
		if !r.OK() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			metrics.HeartbeatsThrottled.Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "heartbeat rate limit exceeded",
				"code":  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// RequestLogger logs each request after it completes
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Info("request", fields...)
		default:
			log.Debug("request", fields...)
		}
	}
}
