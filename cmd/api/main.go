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
	"github.com/quibitai/qubit-orchestrator/internal/observability/logging"
	"github.com/quibitai/qubit-orchestrator/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.Setup("api", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := httpadapter.NewStaticSessionResolver(cfg.APIKey, cfg.AllowAnonymous)
	app, err := bootstrap.New(ctx, cfg, logger, sessions)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	serverMetrics := metrics.NewHTTPServerMetrics("api")
	router := httpadapter.NewRouter(app.Orchestrator, app.Sessions, serverMetrics, logger, httpadapter.RouterOptions{
		ServiceName:           "api",
		RateLimitRPS:          cfg.APIRateLimitRPS,
		RateLimitBurst:        cfg.APIRateLimitBurst,
		MaxConcurrentRequests: cfg.APIMaxConcurrentRequests,
	}).Handler()

	server := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Streaming responses can legitimately exceed a normal write budget;
		// the per-turn timeout bounds them instead.
		WriteTimeout: time.Duration(cfg.TurnTimeoutSeconds+30) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("api listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown error: %v", err)
	}
}
