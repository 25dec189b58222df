package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-sync/internal/auth"
	"chat-sync/internal/chatsync"
	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/handlers"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/push"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/realtime"
	"chat-sync/internal/repositories"
	"chat-sync/internal/storage"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("starting %s %s", cfg.ServiceName, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	userRepo := repositories.NewUserRepo(database)
	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	store := realtime.Store{Chats: chatRepo, Messages: messageRepo}
	feed := realtime.NewHub(store)
	listener, err := realtime.NewListener(cfg.DBDSN, feed, store)
	if err != nil {
		log.Fatalf("failed to start realtime listener: %v", err)
	}
	go func() {
		if err := listener.Run(ctx); err != nil {
			log.Printf("realtime listener stopped: %v", err)
		}
	}()

	blobs, err := storage.New(storage.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
		Bucket:    cfg.S3BucketName,
	})
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		log.Fatalf("failed to ensure bucket: %v", err)
	}

	if err := os.MkdirAll(cfg.AttachmentRoot, 0o750); err != nil {
		log.Fatalf("failed to create attachment root: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("publisher mode=%s %s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditKey, cfg.ServiceName, cfg.Environment)
	notifier := push.NewNotifier(publisher)

	var inbox ws.Inbox
	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			log.Printf("push inbox disabled: %v", err)
		} else {
			defer conn.Close()
			inbox = push.NewInbox(conn, cfg.AMQPExchange)
		}
	}

	provider := auth.NewProvider(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	resolver := chatsync.NewResolver(chatRepo, userRepo)

	authHandler := handlers.NewAuthHandler(provider, userRepo, blobs, audit)
	chatHandler := handlers.NewChatHandler(resolver, audit)

	hub := ws.NewHub()
	chatWS := ws.NewChatWebSocketHandler(hub, ws.ChatSessionDeps{
		Provider: provider,
		Resolver: resolver,
		Feed:     feed,
		Chats:    chatRepo,
		Messages: feed.Messages(messageRepo),
		Blobs:    blobs,
		Users:    userRepo,
		Notifier: notifier,

		AttachmentRoot: cfg.AttachmentRoot,
	})
	notificationWS := ws.NewNotificationWebSocketHandler(hub, provider, inbox)

	router := gin.New()

	// middlewares
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(provider)

	router.POST("/auth/signup", authHandler.SignUp)
	router.POST("/auth/signin", authHandler.SignIn)
	router.POST("/auth/signout", authMiddleware, authHandler.SignOut)
	router.GET("/me", authMiddleware, authHandler.Me)
	router.PUT("/me/push-token", authMiddleware, authHandler.SetPushToken)
	router.POST("/me/photo", authMiddleware, authHandler.UploadPhoto)
	router.GET("/users", authMiddleware, authHandler.ListUsers)

	router.POST("/chats/resolve", authMiddleware, chatHandler.ResolveChat)
	router.POST("/push/open", authMiddleware, chatHandler.OpenNotification)

	router.GET("/ws/chats", chatWS.Handle)
	router.GET("/ws/notifications", notificationWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("listening port=%s", cfg.Port)

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.CloseAll()
	feed.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Printf("tracer shutdown: %v", err)
	}
}
