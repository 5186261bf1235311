package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/quibitai/qubit-orchestrator/internal/adapters/http"
	"github.com/quibitai/qubit-orchestrator/internal/bootstrap"
	"github.com/quibitai/qubit-orchestrator/internal/config"
	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
	"github.com/quibitai/qubit-orchestrator/internal/observability/logging"
	"github.com/quibitai/qubit-orchestrator/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.Setup("worker", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := httpadapter.NewStaticSessionResolver(cfg.APIKey, cfg.AllowAnonymous)
	app, err := bootstrap.New(ctx, cfg, logger, sessions)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		log.Printf("worker metrics listening on :%s", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("worker metrics server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	log.Printf("worker subscribed to %s", cfg.NATSSubject)
	err = app.Queue.SubscribeTurnCompleted(ctx, func(handlerCtx context.Context, event domain.TurnCompletedEvent) error {
		start := time.Now()
		workerMetrics.StartTurnEvent()
		workerMetrics.ObserveQueueLag("worker", time.Since(event.CreatedAt))

		processCtx, cancel := context.WithTimeout(handlerCtx, 2*time.Minute)
		defer cancel()
		processErr := app.Memory.ProcessTurnCompleted(processCtx, event)

		workerMetrics.FinishTurnEvent("worker", time.Since(start), processErr)
		return processErr
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
