package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"athena-rag-backend/internal/ai"
	"athena-rag-backend/internal/config"
	"athena-rag-backend/internal/index"
	"athena-rag-backend/internal/logger"
	"athena-rag-backend/internal/queue"
	"athena-rag-backend/internal/telemetry"
	"athena-rag-backend/middleware"
	"athena-rag-backend/routes"
	"athena-rag-backend/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Tracing
	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("athena-rag-backend", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal("Failed to initialize tracer:", err)
		}
		defer shutdown()
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)
	documents := db.Collection("documents")

	// Redis backs both rate limiting and the task queue
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	// Vector index
	store, err := index.Open(cfg.IndexDir, index.Metric(cfg.SimilarityMetric), cfg.EmbeddingDim)
	if err != nil {
		log.Fatal("Failed to open vector index:", err)
	}
	logger.Info("Vector index opened", "dir", cfg.IndexDir, "entries", store.Count())

	// External AI clients
	ctx := context.Background()
	embedder, err := ai.NewGeminiEmbedder(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize embedder:", err)
	}
	defer embedder.Close()

	generator, err := ai.NewGeminiGenerator(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize generator:", err)
	}
	defer generator.Close()

	// Pipeline services
	pending, err := services.NewPendingStore(cfg.PendingDir)
	if err != nil {
		log.Fatal("Failed to open pending store:", err)
	}
	extractor := services.NewPageExtractor(cfg)
	chunker := services.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	ingestor := services.NewIngestor(cfg, extractor, chunker, embedder, store, documents, pending, metrics)
	retriever := services.NewRetriever(embedder, store, cfg.TopK)
	answerer := services.NewAnswerer(retriever, generator, metrics)
	notesService := services.NewNotesService(db)
	exportService := services.NewExportService()

	// Task queue. The worker runs in-process: the index lives in this
	// process's memory and on local disk, so a separate worker binary
	// would race it.
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	asynqServer := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)
	processor := queue.NewTaskProcessor(ingestor)
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestDocument, processor.HandleIngest)

	go func() {
		logger.Info("Starting task worker", "queues", "critical(6), default(3), low(1)")
		if err := asynqServer.Run(mux); err != nil {
			log.Fatal("Failed to start worker:", err)
		}
	}()

	// Periodic retry of documents whose embeddings were deferred
	sweeper := services.NewPendingSweeper(ingestor, time.Duration(cfg.PendingSweepMinutes)*time.Minute)
	if err := sweeper.Start(); err != nil {
		log.Fatal("Failed to start pending sweeper:", err)
	}
	defer sweeper.Stop()

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	if cfg.TracingEnabled {
		router.Use(middleware.TracingMiddleware())
		router.Use(middleware.EnrichTrace())
	}
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Requested-With"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "healthy",
			"timestamp":     time.Now(),
			"index_entries": store.Count(),
		})
	})

	api := router.Group("/api")
	{
		api.POST("/documents", routes.HandleDocumentUpload(cfg, documents, queueClient, ingestor))
		api.GET("/documents", routes.ListDocuments(documents))
		api.GET("/documents/:id", routes.CheckDocumentStatus(documents))
		api.GET("/documents/:id/status", routes.CheckDocumentStatus(documents))
		api.DELETE("/documents/:id", routes.DeleteDocument(documents, ingestor))

		api.POST("/query", routes.HandleQuery(answerer, metrics))

		api.POST("/notes", routes.HandleSaveNote(notesService))
		api.GET("/notes", routes.HandleListNotes(notesService))
		api.GET("/notes/:id", routes.HandleGetNote(notesService))
		api.POST("/notes/:id/append", routes.HandleAppendNote(notesService))
		api.GET("/notes/:id/export", routes.HandleExportNote(notesService, exportService))
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	asynqServer.Shutdown()

	logger.Info("Server exited")
}
