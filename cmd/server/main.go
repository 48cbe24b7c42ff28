package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"chatbot-api/internal/auth"
	"chatbot-api/internal/cache"
	"chatbot-api/internal/config"
	apphttp "chatbot-api/internal/http"
	"chatbot-api/internal/logging"
	"chatbot-api/internal/metrics"
	"chatbot-api/internal/ratelimit"
	"chatbot-api/internal/repository/sqlstore"
	"chatbot-api/internal/service"
	"chatbot-api/internal/storage"
	"chatbot-api/internal/upstream"
)

func main() {
	bootLogger := logrus.New()
	bootLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		bootLogger.Fatalf("setup logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlstore.NewUserRepository(db)
	chatRepo := sqlstore.NewChatRepository(db)
	if cfg.Database.AutoMigrate {
		if err := userRepo.Init(ctx); err != nil {
			logger.Fatalf("init user repository: %v", err)
		}
		if err := chatRepo.Init(ctx); err != nil {
			logger.Fatalf("init chat repository: %v", err)
		}
	}

	var (
		m        *metrics.Metrics
		recorder service.Recorder
		observer upstream.Observer
	)
	if cfg.Metrics.Enabled {
		m = metrics.New()
		recorder = m
		observer = m
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Algorithm, cfg.Auth.TokenTTL)
	if err != nil {
		logger.Fatalf("setup tokens: %v", err)
	}

	completer := upstream.NewClient(upstream.Config{
		URL:     cfg.Upstream.URL,
		APIKey:  cfg.Upstream.APIKey,
		Model:   cfg.Upstream.Model,
		Timeout: cfg.Upstream.Timeout,
	}, &http.Client{}, logger, observer)

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	userService := service.NewUserService(userRepo, db)
	chatService := service.NewChatService(
		chatRepo,
		db,
		ratelimit.NewSlidingWindow(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests),
		cache.NewResponseCache(cfg.Cache.TTL, cfg.Cache.Capacity),
		completer,
		recorder,
		logger,
	)
	exportService := service.NewExportService(chatRepo, storageSvc, cfg.Storage.Bucket, cfg.Storage.KeyPrefix)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(userService, chatService, exportService, tokens, logger, apphttp.Options{
		Metrics:       m,
		MetricsPath:   cfg.Metrics.Path,
		ThrottleRPS:   cfg.Auth.ThrottleRPS,
		ThrottleBurst: cfg.Auth.ThrottleBurst,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	// in-flight chats may still be waiting on the completion API
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Upstream.Timeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

// buildStorage returns nil when no bucket is configured; transcript export is
// then reported as unavailable.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("storage bucket not configured, transcript export disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
