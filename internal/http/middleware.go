package http

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"chatbot-api/internal/auth"
	"chatbot-api/internal/domain"
	"chatbot-api/internal/repository"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	currentUserKey  = "current_user"
)

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if h.metrics != nil {
			h.metrics.ObserveHTTP(c.Request.Method, route, status, latency)
		}

		entry := h.requestLog(c).WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  status,
			"latency": latency.String(),
			"client":  c.ClientIP(),
		})
		switch {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request completed")
		}
	}
}

func (h *Handler) requestLog(c *gin.Context) *logrus.Entry {
	return h.logger.WithField(requestIDKey, c.GetString(requestIDKey))
}

// authRequired resolves the bearer token to an active user or aborts with 401.
func (h *Handler) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			h.abortWithError(c, auth.ErrUnauthenticated)
			return
		}

		username, err := h.tokens.Verify(token)
		if err != nil {
			h.abortWithError(c, err)
			return
		}

		user, err := h.users.GetByUsername(c.Request.Context(), username)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				err = auth.ErrUnauthenticated
			}
			h.abortWithError(c, err)
			return
		}
		if !user.IsActive {
			h.abortWithError(c, auth.ErrUnauthenticated)
			return
		}

		c.Set(currentUserKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*domain.User)
	return user
}

func (h *Handler) throttleByIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.throttle != nil && !h.throttle.allow(c.ClientIP(), time.Now()) {
			h.abortWithError(c, errThrottled)
			return
		}
		c.Next()
	}
}
