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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tutor-llm/internal/app"
	"tutor-llm/internal/config"
	apihttp "tutor-llm/internal/http"
	"tutor-llm/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	zl := logger.New(cfg.LogFile, true)
	defer zl.Sync()

	a, err := app.Build(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("build app", zap.Error(err))
	}
	defer a.Close()

	if err := a.Conversation.Load(ctx); err != nil {
		zl.Fatal("load sessions", zap.Error(err))
	}

	// El modelo se carga en segundo plano; /engine/init permite seguir el progreso.
	go func() {
		if err := a.Engine.Initialize(ctx, nil); err != nil {
			zl.Warn("engine warmup failed", zap.Error(err))
		}
	}()

	router := apihttp.NewRouter(zl,
		apihttp.NewEngineHandler(zl, a.Engine),
		apihttp.NewChatHandler(zl, a.Conversation),
		apihttp.NewDictationHandler(zl, a.Conversation, a.Relay),
		apihttp.NewBrandingHandler(a.Branding),
	)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	zl.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("model", a.Engine.Model()),
		zap.Bool("degraded_store", a.Degraded),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zl.Fatal("server error", zap.Error(err))
	}
}
