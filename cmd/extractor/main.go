package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/paperviz/pdf-extract-service/internal/api"
	"github.com/paperviz/pdf-extract-service/internal/auth"
	"github.com/paperviz/pdf-extract-service/internal/config"
	"github.com/paperviz/pdf-extract-service/internal/dispatch"
	"github.com/paperviz/pdf-extract-service/internal/docstore"
	"github.com/paperviz/pdf-extract-service/internal/extract"
	"github.com/paperviz/pdf-extract-service/internal/metrics"
	"github.com/paperviz/pdf-extract-service/internal/queue"
	"github.com/paperviz/pdf-extract-service/internal/retry"
	"github.com/paperviz/pdf-extract-service/internal/storage"
	"github.com/paperviz/pdf-extract-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	gin.SetMode(cfg.GinMode)

	// Initialize components
	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize job status database")
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close job status database")
		}
	}()

	docs, err := docstore.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.ResultBucket)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize document store client")
	}
	if err := docs.EnsureResultBucket(context.Background()); err != nil {
		logrus.WithError(err).Fatal("Failed to prepare result bucket")
	}

	engine := extract.NewEngine(cfg.MaxFileSize, cfg.MaxPages)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	serviceMetrics := metrics.New(registry)

	queueClient, err := queue.NewClient(cfg.RedisURI, queue.Options{
		Queue:         cfg.QueueName,
		MaxRetry:      cfg.MaxRetries,
		SoftTimeLimit: cfg.SoftTimeLimit,
		Retention:     cfg.TaskRetention,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize queue client")
	}
	defer func() {
		if closeErr := queueClient.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close queue client")
		}
	}()

	inspector, err := queue.NewInspector(cfg.RedisURI, cfg.QueueName)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize queue inspector")
	}

	dispatcher := dispatch.NewDispatcher(store, queueClient, inspector, serviceMetrics)
	executor := worker.NewExecutor(store, docs, engine, serviceMetrics, cfg.MaxRetries, cfg.HardTimeLimit)

	// Start the worker pool
	queueServer, err := worker.NewServer(worker.ServerConfig{
		RedisURI:    cfg.RedisURI,
		QueueName:   cfg.QueueName,
		Concurrency: cfg.WorkerConcurrency,
		Schedule:    retry.DefaultSchedule(cfg.RetryDelay, cfg.MaxRetries),
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize queue server")
	}
	go func() {
		if err := queueServer.Run(worker.NewMux(executor)); err != nil {
			logrus.WithError(err).Fatal("Queue server stopped unexpectedly")
		}
	}()

	// Initialize HTTP API
	router := gin.Default()
	apiHandler := api.NewHandler(dispatcher, inspector)
	api.SetupRoutes(router, apiHandler, auth.Middleware(cfg.InternalAPIKey),
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"addr":        srv.Addr,
			"queue":       cfg.QueueName,
			"concurrency": cfg.WorkerConcurrency,
		}).Info("Starting pdf-extract-service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down")

	// Stop pulling new tasks first; in-flight units finish or get redelivered.
	queueServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Fatal("Server forced to shutdown")
	}

	logrus.Info("Server exited")
}
