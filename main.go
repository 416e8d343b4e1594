package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/directory"
	"messaging-service/internal/handlers"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

const serviceName = "messaging-service"

func main() {
	cfg := config.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.Connect(cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	shutdownTracing, err := observability.SetupTracing(context.Background(), serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, serviceName, cfg.Env, logger)

	convRepo := repositories.NewConversationRepo(database)
	msgRepo := repositories.NewMessageRepo(database)

	registry := presence.NewRegistry(cfg.TypingTimeout)

	var dir directory.Directory = directory.Noop{}
	if cfg.UserServiceURL != "" {
		dir = directory.NewHTTPDirectory(cfg.UserServiceURL)
	}

	conversationHandler := handlers.NewConversationHandler(convRepo, msgRepo, dir, audit)
	messageHandler := handlers.NewMessageHandler(convRepo, msgRepo, dir, registry, audit, logger)
	typingHandler := handlers.NewTypingHandler(convRepo, registry)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(observability.RequestLogMiddleware(logger))

	router.GET("/healthz", handlers.Healthz(database))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)
	sendLimiter := middleware.NewSendLimiter(cfg.SendRatePerMinute, cfg.SendRateBurst)

	api := router.Group("/", authMiddleware)
	{
		api.POST("/conversations/direct", conversationHandler.StartDirect)
		api.POST("/conversations/group", conversationHandler.CreateGroup)
		api.GET("/conversations", conversationHandler.ListConversations)
		api.GET("/conversations/:conversation_id", conversationHandler.GetConversation)
		api.PATCH("/conversations/:conversation_id", conversationHandler.UpdateConversation)
		api.DELETE("/conversations/:conversation_id", conversationHandler.DeleteConversation)

		api.GET("/conversations/:conversation_id/messages", messageHandler.ListMessages)
		api.POST("/conversations/:conversation_id/messages", sendLimiter.Middleware(), messageHandler.PostMessage)
		api.DELETE("/conversations/:conversation_id/messages", conversationHandler.ClearConversation)
		api.DELETE("/conversations/:conversation_id/messages/:message_id", messageHandler.DeleteMessage)

		api.POST("/conversations/:conversation_id/typing", typingHandler.SetTyping)
		api.GET("/conversations/:conversation_id/typing", typingHandler.GetTyping)
	}

	logger.Info().Str("port", cfg.Port).Msg("server starting")
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
