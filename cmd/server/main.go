// Package main runs the GatherHub voting server with WebSocket fan-out and
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gatherhub/backend/config"
	"github.com/gatherhub/backend/internal/auth"
	"github.com/gatherhub/backend/internal/events"
	"github.com/gatherhub/backend/internal/middleware"
	"github.com/gatherhub/backend/internal/realtime"
	"github.com/gatherhub/backend/internal/voting"
	"github.com/gatherhub/backend/pkg/database"
	"github.com/gatherhub/backend/pkg/redis"
	"github.com/gatherhub/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	sequencer := realtime.NewRedisSequencer(rdb.Client, logger)
	notifier := realtime.NewNotifier(hub, sequencer)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Events (membership source for voting eligibility)
	eventRepo := events.NewRepository(pool)
	eventHandler := events.NewHandler(eventRepo)

	// Voting
	store := voting.NewPostgresStore(pool)
	lifecycle := voting.NewLifecycle(store, eventRepo, notifier, logger)
	castService := voting.NewService(store, eventRepo, lifecycle, notifier, logger)
	votingHandler := voting.NewHandler(lifecycle, castService, store)

	wsValidate := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Events
		api.GET("/events", eventHandler.List)
		api.POST("/events", eventHandler.Create)
		api.GET("/events/:id", eventHandler.GetByID)
		api.POST("/events/:id/join", eventHandler.Join)
		api.GET("/events/:id/members", eventHandler.ListMembers)
		api.POST("/events/:id/lock", eventHandler.Lock)

		// Polls
		api.POST("/events/:id/polls", votingHandler.Create)
		api.GET("/events/:id/polls", votingHandler.ListByEvent)
		api.GET("/polls/:id", votingHandler.Get)
		api.GET("/polls/:id/results", votingHandler.Results)
		api.POST("/polls/:id/end", votingHandler.End)
		api.POST("/polls/:id/options", votingHandler.AddOption)

		// Ballots
		api.POST("/polls/:id/ballots", votingHandler.Cast)
		api.DELETE("/polls/:id/ballots", votingHandler.Remove)
		api.GET("/polls/:id/ballots/me", votingHandler.MyBallot)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, wsValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
