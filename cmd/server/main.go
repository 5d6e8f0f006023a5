package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/docindex/internal/auth"
	"github.com/makeasinger/docindex/internal/client"
	"github.com/makeasinger/docindex/internal/config"
	"github.com/makeasinger/docindex/internal/handler"
	"github.com/makeasinger/docindex/internal/ledger"
	"github.com/makeasinger/docindex/internal/middleware"
	"github.com/makeasinger/docindex/internal/service"
	ws "github.com/makeasinger/docindex/internal/websocket"
	"github.com/makeasinger/docindex/internal/worker"
	"github.com/makeasinger/docindex/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(log)

	// Fail fast on missing file host credentials
	if err := cfg.SFTP.Validate(); err != nil {
		log.Error("invalid sftp configuration", "error", err)
		os.Exit(1)
	}

	redisURL := cfg.Redis.Address()
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Error("invalid redis address", "error", err)
		os.Exit(1)
	}
	// The ledger never retries on its own
	redisOpts.MaxRetries = -1
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	ctx := context.Background()
	jobLedger := ledger.New(redisClient, ledger.WithLogger(log.With("component", "ledger")))
	if err := jobLedger.LoadScripts(ctx); err != nil {
		log.Warn("ledger scripts not preloaded", "kind", ledger.KindOf(err).String(), "error", err)
	}

	asynqRedis, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		log.Error("invalid redis address for queue", "error", err)
		os.Exit(1)
	}
	asynqClient := asynq.NewClient(asynqRedis)
	defer asynqClient.Close()

	sftpClient, err := client.NewSFTPClient(&cfg.SFTP, log.With("component", "sftp"))
	if err != nil {
		log.Error("failed to create sftp client", "error", err)
		os.Exit(1)
	}

	var storage client.StorageClient
	bucketStorage := false
	if cfg.Storage.IsConfigured() {
		r2Client, err := client.NewR2Client(&cfg.Storage)
		if err != nil {
			log.Error("failed to create storage client", "error", err)
			os.Exit(1)
		}
		storage = r2Client
		bucketStorage = true
		log.Info("storage client initialized", "bucket", cfg.Storage.BucketName)
	} else {
		storage = client.NewMemoryStorage()
		log.Warn("storage not configured, documents are kept in memory")
	}

	validate := validator.New()

	hub := ws.NewHub(log.With("component", "websocket"))
	go hub.Run()
	defer hub.Stop()

	documentService := service.NewDocumentService(jobLedger, asynqClient, log)

	documentHandler := handler.NewDocumentHandler(documentService, validate, log)
	jobHandler := handler.NewJobHandler(documentService, hub, log)
	healthHandler := handler.NewHealthHandler(jobLedger, bucketStorage, log)

	apiAuth := newAPIAuth(ctx, cfg, log)
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", healthHandler.Health)

	api := app.Group("/api", apiAuth)
	documents := api.Group("/documents", rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerMin))
	documents.Post("/", documentHandler.Create)
	documents.Delete("/:documentId", documentHandler.Delete)
	api.Get("/jobs/:jobId", jobHandler.Status)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/jobs/:jobId", websocket.New(jobHandler.Stream))

	// Outcomes are fanned out to every instance so each hub reaches its own
	// subscribers
	subCtx, stopOutcomes := context.WithCancel(ctx)
	defer stopOutcomes()
	if err := worker.NewOutcomeWorker(redisClient, hub, log.With("component", "outcomes")).Subscribe(subCtx); err != nil {
		log.Error("failed to subscribe to outcomes", "error", err)
		os.Exit(1)
	}

	workers := newWorkerServer(cfg, asynqRedis, log)
	notifier := worker.NewPubSubNotifier(redisClient)
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeDocumentCreate,
		worker.NewCreateWorker(jobLedger, sftpClient, storage, notifier, log).ProcessTask)
	mux.HandleFunc(service.TaskTypeDocumentDelete,
		worker.NewDeleteWorker(jobLedger, storage, notifier, log).ProcessTask)

	if err := workers.Start(mux); err != nil {
		log.Error("failed to start workers", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info("server starting", "addr", addr, "env", cfg.Server.Env)
	if err := app.Listen(addr); err != nil {
		log.Error("server error", "error", err)
	}

	workers.Shutdown()
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisConnOpt, log *slog.Logger) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	onError := asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		taskID, _ := asynq.GetTaskID(ctx)
		log.Error("task failed", "type", task.Type(), "task_id", taskID, "error", err)
	})

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			service.QueueDocuments: 1,
		},
		LogLevel:     asynqLogLevel,
		ErrorHandler: onError,
	})
}

// newAPIAuth picks the auth middleware for the /api group. With an OIDC
// issuer configured, provider tokens are checked first and HMAC tokens stay
// accepted.
func newAPIAuth(ctx context.Context, cfg *config.Config, log *slog.Logger) fiber.Handler {
	if cfg.Auth.Mode == config.AuthModeGateway {
		log.Info("using gateway identity headers for api auth")
		return middleware.GatewayAuth()
	}

	if cfg.Auth.OIDCIssuer != "" {
		verifier, err := auth.NewJWKSVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.OIDCAudience)
		if err != nil {
			log.Warn("JWKS verifier not initialized, using HMAC tokens only", "issuer", cfg.Auth.OIDCIssuer, "error", err)
		} else {
			log.Info("verifying api tokens with JWKS", "issuer", cfg.Auth.OIDCIssuer)
			return middleware.NewAuthMiddlewareWithFallback(verifier, cfg.JWT.Secret).Authenticate()
		}
	}

	return middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
}

func slogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := response.MessageServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(response.ErrorResponse{
		Error: response.ErrorDetail{
			Code:    response.CodeServiceError,
			Message: message,
		},
	})
}
