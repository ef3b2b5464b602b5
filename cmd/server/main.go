// The linechat server: a line-oriented TCP chat service with room history,
// whispers, delayed delivery, spam throttling, and report-driven bans.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/linechat/internal/chat"
	"github.com/adred-codev/linechat/internal/config"
	"github.com/adred-codev/linechat/internal/limits"
	"github.com/adred-codev/linechat/internal/monitoring"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	cfg.LogConfig(logger)

	limiter := limits.NewConnectionRateLimiter(limits.ConnectionRateLimiterConfig{
		IPBurst:     cfg.ConnIPBurst,
		IPRate:      cfg.ConnIPRate,
		GlobalBurst: cfg.ConnGlobalBurst,
		GlobalRate:  cfg.ConnGlobalRate,
		Logger:      logger,
	})
	defer limiter.Stop()

	// Prometheus scrape endpoint, separate from the chat listener.
	// METRICS_ADDR="" disables it.
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.MetricsHandler())
		metricsServer = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().
				Str("addr", cfg.MetricsAddr).
				Msg("Metrics endpoint listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().
					Err(err).
					Msg("Metrics endpoint error")
			}
		}()
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go monitoring.NewSystemMonitor(logger, cfg.MetricsInterval).Run(monitorCtx)

	server := chat.New(cfg, logger, limiter)
	if err := server.Start(); err != nil {
		logger.Fatal().
			Err(err).
			Msg("Failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down server")
	if err := server.Shutdown(); err != nil {
		logger.Error().
			Err(err).
			Msg("Error during shutdown")
	}
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(ctx)
	}
}
