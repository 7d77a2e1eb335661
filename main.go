package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/sykell/site-audit/internal/api"
	"github.com/sykell/site-audit/internal/crawler"
	"github.com/sykell/site-audit/internal/db"
	"github.com/sykell/site-audit/internal/middleware"
	"github.com/sykell/site-audit/internal/queue"
	"github.com/sykell/site-audit/internal/service"
)

// Config holds application configuration
type Config struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewConfig creates a new configuration from environment variables
func NewConfig() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return &Config{
		Port:            port,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

func main() {
	// Load .env when present; real environments set variables directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded, using environment variables")
	}

	config := NewConfig()

	log.Println("Initializing database...")
	dbConn, err := db.InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	log.Println("Database initialized successfully")

	repo := service.NewAnalysisRepository(dbConn)

	// One fetcher session per job attempt; the queue closes it when the
	// attempt ends.
	crawlConfig := crawler.DefaultConfig()
	fetchers := func() (crawler.Fetcher, error) {
		return crawler.NewHTTPFetcher(crawlConfig.NavigationTimeout), nil
	}

	log.Println("Initializing queue service...")
	queueConfig := queue.DefaultConfig()
	queueConfig.Crawl = crawlConfig
	queueService := queue.NewService(repo, fetchers, nil, queueConfig)
	if err := queueService.Start(); err != nil {
		log.Fatalf("Failed to start queue service: %v", err)
	}
	log.Println("Queue service started successfully")

	// Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Add middleware
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"service":   "site-audit",
		})
	})

	// Authentication endpoint
	r.POST("/auth/login", api.LoginHandler(dbConn))

	// Protected routes
	authorized := r.Group("/")
	authorized.Use(middleware.JWTRequired())
	{
		authorized.POST("/analyses", api.SubmitAnalysisHandler(repo, queueService))
		authorized.GET("/analyses", api.ListAnalysesHandler(dbConn))
		authorized.GET("/analyses/:id", api.GetAnalysisHandler(repo))
		authorized.POST("/analyses/:id/cancel", api.CancelAnalysisHandler(repo, queueService))
		authorized.POST("/analyses/bulk", api.BulkHandler(dbConn, queueService))
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", config.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if err := queueService.Stop(); err != nil {
		log.Printf("Failed to stop queue service: %v", err)
	}

	log.Println("Server exited")
}
