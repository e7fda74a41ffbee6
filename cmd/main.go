package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"rewards-ledger/internal/auth"
	"rewards-ledger/internal/config"
	"rewards-ledger/internal/database"
	"rewards-ledger/internal/handlers"
	"rewards-ledger/internal/jobs"
	"rewards-ledger/internal/logging"
	"rewards-ledger/internal/metrics"
	"rewards-ledger/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.New("rewards-ledger", "info").Fatalf("Failed to load configuration: %v", err)
	}
	log := logging.New("rewards-ledger", cfg.App.LogLevel)

	econ, err := config.LoadEconomics(cfg.App.EconomicsFile)
	if err != nil {
		log.Fatalf("Failed to load economics: %v", err)
	}

	// Initialize JWT
	auth.InitJWT(cfg.App.JWTSecret)

	// Connect to database
	if _, err := database.Connect(cfg, log); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(database.GetDB(), log); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize services
	svc := services.New(database.GetDB(), econ, cfg.Jobs.LeaseTTL, log)

	dailyJob := jobs.NewDailyEarningsJob(svc.Accrual, cfg.Jobs, econ.Location, log)
	poolJob := jobs.NewGlobalPoolJob(svc.Pool, cfg.Jobs, econ.Location, log)

	if cfg.Jobs.SchedulerEnabled() {
		go dailyJob.Start()
		go poolJob.Start()
		defer dailyJob.Stop()
		defer poolJob.Stop()
	}

	// Set up Gin router
	router := gin.New()
	router.Use(gin.Recovery(), metrics.GinMiddleware())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if cfg.Jobs.RequestTriggerEnabled() {
		trigger := jobs.NewRequestTrigger(cfg.Jobs.RequestCheckEvery, dailyJob, poolJob)
		router.Use(trigger.Middleware())
		defer trigger.Wait()
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterRoutes(router, svc)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"port":         cfg.Server.Port,
			"trigger_mode": cfg.Jobs.TriggerMode,
			"passive_mode": econ.PassiveMode,
		}).Info("Server starting")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
