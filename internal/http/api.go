package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"chatbot-api/internal/domain"
	"chatbot-api/internal/metrics"
	"chatbot-api/internal/service"
)

// Tokens issues and verifies bearer tokens.
type Tokens interface {
	Issue(username string, ttl time.Duration) (string, error)
	Verify(token string) (string, error)
}

// Options carries the optional pieces of the HTTP surface.
type Options struct {
	Metrics       *metrics.Metrics
	MetricsPath   string
	ThrottleRPS   float64
	ThrottleBurst int
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users       service.UserService
	chats       service.ChatService
	exports     service.ExportService
	tokens      Tokens
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	metricsPath string
	throttle    *ipThrottle
}

func NewHandler(
	users service.UserService,
	chats service.ChatService,
	exports service.ExportService,
	tokens Tokens,
	logger *logrus.Logger,
	opts Options,
) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	h := &Handler{
		users:       users,
		chats:       chats,
		exports:     exports,
		tokens:      tokens,
		logger:      logger,
		metrics:     opts.Metrics,
		metricsPath: opts.MetricsPath,
	}
	if opts.ThrottleRPS > 0 {
		h.throttle = newIPThrottle(opts.ThrottleRPS, opts.ThrottleBurst)
	}
	return h
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(h.requestLogger(), corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		authGroup := api.Group("/auth", h.throttleByIP())
		authGroup.POST("/register", h.register)
		authGroup.POST("/login", h.login)

		chat := api.Group("/chat", h.authRequired())
		chat.POST("/chat", h.createChat)
		chat.GET("/chats", h.listChats)
		chat.POST("/export", h.exportChats)
	}

	if h.metrics != nil && h.metricsPath != "" {
		router.GET(h.metricsPath, gin.WrapH(h.metrics.Handler()))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Retry-After, X-RateLimit-Limit, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// ChatResponse is the wire shape of a stored exchange.
type ChatResponse struct {
	ID        int64  `json:"id"`
	Message   string `json:"message"`
	Response  string `json:"response"`
	CreatedAt string `json:"created_at"`
}

func chatToResponse(chat domain.Chat) ChatResponse {
	return ChatResponse{
		ID:        chat.ID,
		Message:   chat.Message,
		Response:  chat.Response,
		CreatedAt: chat.CreatedAt.UTC().Format(time.RFC3339),
	}
}
