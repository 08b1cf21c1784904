package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clinicware/ledger-import/internal/config"
	"github.com/clinicware/ledger-import/internal/handler"
	importHandler "github.com/clinicware/ledger-import/internal/handler/importer"
	"github.com/clinicware/ledger-import/internal/middleware"
	"github.com/clinicware/ledger-import/internal/repository/reports"
	"github.com/clinicware/ledger-import/internal/repository/sqlite"
	"github.com/clinicware/ledger-import/internal/router"
	importService "github.com/clinicware/ledger-import/internal/service/importer"
	"github.com/clinicware/ledger-import/pkg/logger"
	"github.com/clinicware/ledger-import/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	appLogger := logger.NewLogger(&logger.Config{
		Level:      level,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    cfg.Log.Console,
	})

	// Initialize database
	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	if err := sqlite.Migrate(context.Background(), store); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Initialize repositories
	patientRepo := sqlite.NewPatientRepository(store)
	paymentRepo := sqlite.NewPaymentRepository(store)
	fingerprintRepo := sqlite.NewFingerprintRepository(store)
	doctorRepo := sqlite.NewDoctorRepository(store)
	reportRepo := reports.NewReportRepository(cfg.Import.ReportsDir)

	// Initialize services
	importSvc := importService.NewService(importService.Deps{
		Store:        store,
		Patients:     patientRepo,
		Payments:     paymentRepo,
		Fingerprints: fingerprintRepo,
		Doctors:      doctorRepo,
		Reports:      reportRepo,
		BackupDir:    cfg.Import.BackupDir,
		Logger:       appLogger,
		Metrics:      metrics.NewMetrics("clinicware", "importer"),
	})

	// Initialize handlers
	h := handler.NewHandler(store)
	importH := importHandler.NewHandler(importSvc, cfg.Import.UploadDir, cfg.Import.BackupDir, cfg.Server.MaxUploadBytes)

	// Setup router
	r := router.NewRouter(importH, h, router.RouterConfig{
		RateLimit:      float64(cfg.Server.RateLimitRPS),
		RateBurst:      cfg.Server.RateLimitBurst,
		RequestTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		MaxBodySize:    1 << 20,
		MaxUploadSize:  cfg.Server.MaxUploadBytes,
		CORSConfig:     middleware.DefaultCORSConfig(),
		MetricsPrefix:  "ledger_http",
	})
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	// Start server
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	appLogger.Info("server started", "port", cfg.Server.Port, "database", cfg.Database.Path)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
