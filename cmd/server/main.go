package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"numeroly/voice/internal/api"
	"numeroly/voice/internal/clientws"
	"numeroly/voice/internal/config"
	"numeroly/voice/internal/daily"
	"numeroly/voice/internal/loop"
	"numeroly/voice/internal/orchestrator"
	"numeroly/voice/internal/providers/agent"
	"numeroly/voice/internal/providers/stt"
	"numeroly/voice/internal/providers/tts"
	"numeroly/voice/internal/registry"
	"numeroly/voice/internal/store"
	"numeroly/voice/internal/types"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	log := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(log)

	st := store.New()
	reg := registry.New()
	rooms := daily.NewClient(cfg.Daily.APIKey)
	dialer := &daily.WSDialer{BridgeURL: cfg.Daily.AudioBridgeURL}

	transcriber := stt.NewClient(stt.Config{
		APIKey:     cfg.Azure.APIKey,
		Endpoint:   cfg.Azure.Endpoint,
		Deployment: cfg.Azure.STTDeployment,
		APIVersion: cfg.Azure.APIVersion,
	})
	responder := agent.NewClient(agent.Config{
		APIKey:     cfg.Azure.APIKey,
		Endpoint:   cfg.Azure.Endpoint,
		Deployment: cfg.Azure.ReasoningDeployment,
		APIVersion: cfg.Azure.APIVersion,
	})
	synthesizer := tts.NewClient(tts.Config{
		APIKey:  cfg.Eleven.APIKey,
		VoiceID: cfg.Eleven.VoiceID,
		ModelID: cfg.Eleven.ModelID,
	})

	orch := orchestrator.New(cfg, rooms, st, reg, dialer, transcriber, responder, synthesizer, log)

	wsReg := clientws.NewRegistry()
	pusher := clientws.NewPusher(wsReg, log)
	orch.SetAudioStateNotifier(pusher)
	wss := clientws.NewServer(cfg.Client.WSTokenSecret,
		time.Duration(cfg.Client.WSTokenSkewSec)*time.Second, st, wsReg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	disp := loop.New(cfg.Session.StepTimeout, cfg.Session.MaxRetries, st, pusher,
		func(sessionID string) {
			responder.Forget(sessionID)
			orch.EndSession(context.Background(), sessionID, types.OutcomeAborted)
		}, log)

	go orch.RunSweeper(ctx)
	go disp.RunDeadlineTicker(ctx, time.Second)

	h := api.NewHandlers(cfg, st, orch, disp)
	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(h, wss),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutdown signal received, draining sessions")
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		orch.DrainAll(drainCtx)
		_ = srv.Shutdown(drainCtx)
	}()

	log.Info("server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
