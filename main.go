package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"uniconnect-chat/internal/db"
	"uniconnect-chat/internal/handlers"
	"uniconnect-chat/internal/middleware"
	"uniconnect-chat/internal/observability"
	"uniconnect-chat/internal/rabbitmq"
	"uniconnect-chat/internal/repositories"
	"uniconnect-chat/internal/telemetry"
	"uniconnect-chat/internal/ws"
)

const serviceName = "uniconnect-chat"

func main() {
	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), serviceName)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Printf("tracing shutdown: %v", err)
			}
		}()
	}

	amqpURL := getEnv("AMQP_URL", "")
	eventExchange := getEnv("AMQP_EXCHANGE", "uniconnect.events")
	if eventPublisher, err := observability.NewAMQPPublisher(amqpURL, eventExchange); err != nil {
		log.Printf("ws event publishing disabled: %v", err)
	} else {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(amqpURL, getEnv("AMQP_AUDIT_EXCHANGE", "uniconnect.audit"))
	defer auditPublisher.Close()
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit_log.chat", serviceName, getEnv("ENVIRONMENT", "dev"))

	convRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	hub := ws.NewHub()
	verifier := middleware.NewTokenVerifier(getEnv("JWT_SECRET", "dev-secret"))

	chatHandler := handlers.NewChatHandler(convRepo, messageRepo, userRepo, hub, audit)
	chatWS := ws.NewChatSocketHandler(hub, convRepo, messageRepo, verifier)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/chat/conversations/:user_id", authMiddleware, chatHandler.ListConversations)
	router.POST("/chat/conversations/start", authMiddleware, chatHandler.StartConversation)
	router.GET("/chat/messages/:conversation_id", authMiddleware, chatHandler.GetMessages)
	router.POST("/chat/messages", authMiddleware, chatHandler.PostMessage)
	router.POST("/chat/messages/read", authMiddleware, chatHandler.MarkMessagesRead)

	router.GET("/ws/chat", chatWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	handlers.RegisterDebugRoutes(router, audit, getEnv("DEBUG_ENDPOINTS_ENABLED", "") == "true")

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
