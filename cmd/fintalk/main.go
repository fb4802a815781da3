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

	"github.com/fintalk-ai/fintalk/internal/agent"
	"github.com/fintalk-ai/fintalk/internal/asr"
	"github.com/fintalk-ai/fintalk/internal/config"
	"github.com/fintalk-ai/fintalk/internal/history"
	"github.com/fintalk-ai/fintalk/internal/httpapi"
	"github.com/fintalk-ai/fintalk/internal/observability"
	"github.com/fintalk-ai/fintalk/internal/session"
	"github.com/fintalk-ai/fintalk/internal/stream"
	"github.com/fintalk-ai/fintalk/internal/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer store.Close()

	transcriber, err := asr.New(asr.Config{
		Mode:    cfg.ASRMode,
		HTTPURL: cfg.ASRHTTPURL,
		Timeout: cfg.ASRTimeout,
	})
	if err != nil {
		log.Fatalf("asr init failed: %v", err)
	}

	synthesizer, err := tts.New(tts.Config{
		Mode:    cfg.TTSMode,
		HTTPURL: cfg.TTSHTTPURL,
		Voice:   cfg.TTSVoice,
		Timeout: cfg.TTSTimeout,
	})
	if err != nil {
		log.Fatalf("tts init failed: %v", err)
	}

	adapter, err := agent.New(agent.Config{
		Mode:    cfg.AgentMode,
		HTTPURL: cfg.AgentHTTPURL,
		Timeout: cfg.AgentTimeout,
	})
	if err != nil {
		log.Fatalf("agent adapter init failed: %v", err)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	pipeline := stream.NewHandler(sessions, transcriber, synthesizer, adapter, store, metrics, stream.Options{
		ChunkSize:    cfg.TTSChunkSize,
		ASRTimeout:   cfg.ASRTimeout,
		TTSTimeout:   cfg.TTSTimeout,
		AgentTimeout: cfg.AgentTimeout,
	})

	api := httpapi.New(cfg, sessions, pipeline, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
