package http

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chatbot-api/internal/auth"
	"chatbot-api/internal/service"
	"chatbot-api/internal/upstream"
)

const internalErrorDetail = "internal server error"

type errorBody struct {
	Detail        string `json:"detail"`
	Limit         int    `json:"limit,omitempty"`
	WindowSeconds int    `json:"window_seconds,omitempty"`
}

func (h *Handler) abortWithError(c *gin.Context, err error) {
	status, body := h.classify(c, err)
	c.AbortWithStatusJSON(status, body)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, body := h.classify(c, err)
	c.JSON(status, body)
}

func (h *Handler) classify(c *gin.Context, err error) (int, errorBody) {
	var (
		limited   *service.RateLimitError
		statusErr *upstream.StatusError
	)

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		c.Header("WWW-Authenticate", "Bearer")
		return http.StatusUnauthorized, errorBody{Detail: auth.ErrUnauthenticated.Error()}
	case errors.Is(err, service.ErrInvalidCredentials):
		c.Header("WWW-Authenticate", "Bearer")
		return http.StatusUnauthorized, errorBody{Detail: err.Error()}
	case errors.Is(err, service.ErrUserAlreadyExists):
		return http.StatusBadRequest, errorBody{Detail: err.Error()}
	case errors.Is(err, service.ErrValidation):
		return http.StatusUnprocessableEntity, errorBody{Detail: err.Error()}
	case errors.As(err, &limited):
		retry := int(math.Ceil(limited.RetryAfter.Seconds()))
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.Header("X-RateLimit-Limit", strconv.Itoa(limited.Limit))
		return http.StatusTooManyRequests, errorBody{
			Detail:        "rate limit exceeded",
			Limit:         limited.Limit,
			WindowSeconds: int(limited.Window.Seconds()),
		}
	case errors.Is(err, errThrottled):
		return http.StatusTooManyRequests, errorBody{Detail: err.Error()}
	case errors.Is(err, upstream.ErrTimeout):
		h.requestLog(c).WithError(err).Warn("completion request timed out")
		return http.StatusGatewayTimeout, errorBody{Detail: "upstream service timed out"}
	case errors.As(err, &statusErr):
		h.requestLog(c).WithError(err).Error("completion request failed")
		return http.StatusInternalServerError, errorBody{
			Detail: fmt.Sprintf("upstream service error (status %d)", statusErr.Status),
		}
	case errors.Is(err, upstream.ErrUnauthorized), errors.Is(err, upstream.ErrMalformedResponse):
		h.requestLog(c).WithError(err).Error("completion request failed")
		return http.StatusInternalServerError, errorBody{Detail: "upstream service error"}
	case errors.Is(err, service.ErrExportDisabled):
		return http.StatusServiceUnavailable, errorBody{Detail: err.Error()}
	default:
		h.requestLog(c).WithError(err).Error("request failed")
		return http.StatusInternalServerError, errorBody{Detail: internalErrorDetail}
	}
}

func (h *Handler) bindError(c *gin.Context, err error) {
	h.writeError(c, fmt.Errorf("%w: %v", service.ErrValidation, err))
}
