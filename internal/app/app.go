package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tutor-llm/internal/config"
	"tutor-llm/internal/domain"
	"tutor-llm/internal/engine"
	"tutor-llm/internal/input"
	"tutor-llm/internal/llm"
	"tutor-llm/internal/ocr"
	"tutor-llm/internal/repository"
	"tutor-llm/internal/service"
	"tutor-llm/internal/settings"
	"tutor-llm/internal/speech"
)

const (
	meminfoPath = "/proc/meminfo"
	brandingTTL = 10 * time.Minute
)

// App agrupa los componentes construidos en la raiz de composicion.
type App struct {
	Engine       *engine.Adapter
	Conversation *service.ConversationService
	Relay        *speech.Relay
	Branding     *settings.Service
	Degraded     bool

	closeStore func()
}

// Build construye el motor, el almacenamiento y el controlador. Si el almacenamiento
// configurado no abre, continua en memoria en modo degradado.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, closeStore, err := repository.OpenSessionRepository(ctx, cfg, logger)
	degraded := false
	if err != nil {
		if !errors.Is(err, domain.ErrStorageUnavailable) {
			return nil, err
		}
		logger.Warn("session store unavailable, using memory", zap.Error(err))
		store = repository.NewMemorySessionRepository()
		degraded = true
	}

	runtime := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, zap.NewStdLog(logger))
	adapter := engine.NewAdapter(runtime, engine.Options{
		Tiers: engine.Tiers{Low: cfg.ModelLow, Mid: cfg.ModelMid, High: cfg.ModelHigh},
		Hint: engine.FirstHint(
			engine.StaticHint(cfg.DeviceMemoryGB),
			engine.ProcMeminfoHint(meminfoPath),
		),
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Logger:      logger,
	})

	var images service.ImageExtractor
	if cfg.OCRBaseURL != "" {
		images = input.NewMerger(ocr.NewHTTPRecognizer(cfg.OCRBaseURL, nil), cfg.OCRLanguages, logger)
	} else {
		logger.Info("ocr not configured, attachments will use the image marker")
	}

	var branding *settings.Service
	if cfg.SettingsBaseURL != "" {
		branding = settings.NewService(settings.NewHTTPClient(cfg.SettingsBaseURL, nil), cfg.TenantID, brandingTTL, logger)
	}

	relay := speech.NewRelay()
	conv := service.NewConversationService(service.ConversationDeps{
		Engine:        adapter,
		Store:         store,
		Images:        images,
		Branding:      branding,
		Dictation:     speech.NewDictation(relay, logger),
		ContextWindow: cfg.ContextWindow,
		Degraded:      degraded,
		Logger:        logger,
	})

	return &App{
		Engine:       adapter,
		Conversation: conv,
		Relay:        relay,
		Branding:     branding,
		Degraded:     degraded,
		closeStore:   closeStore,
	}, nil
}

// Close libera los recursos en orden inverso.
func (a *App) Close() {
	a.Conversation.Close()
	a.Engine.Close()
	if a.closeStore != nil {
		a.closeStore()
	}
}
