package http

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tutor-llm/internal/engine"
)

// EngineController es la parte del adaptador expuesta por HTTP.
type EngineController interface {
	Status() engine.Status
	Initialize(ctx context.Context, onProgress func(string)) error
}

type EngineHandler struct {
	logger *zap.Logger
	engine EngineController
}

func NewEngineHandler(logger *zap.Logger, eng EngineController) *EngineHandler {
	return &EngineHandler{logger: logger, engine: eng}
}

// GetStatus maneja GET /engine.
func (h *EngineHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Status())
}

// Initialize maneja POST /engine/init. Emite el progreso como SSE y termina con
// "ready" o "error".
func (h *EngineHandler) Initialize(c *gin.Context) {
	progress := make(chan string, 32)
	done := make(chan error, 1)
	go func() {
		done <- h.engine.Initialize(c.Request.Context(), func(msg string) {
			select {
			case progress <- msg:
			default:
			}
		})
	}()

	c.Stream(func(_ io.Writer) bool {
		select {
		case msg := <-progress:
			c.SSEvent("progress", gin.H{"message": msg})
			return true
		case err := <-done:
			drainProgress(c, progress)
			if err != nil {
				h.logger.Error("engine init failed", zap.Error(err))
				c.SSEvent("error", gin.H{"error": err.Error()})
				return false
			}
			c.SSEvent("ready", h.engine.Status())
			return false
		}
	})
}

func drainProgress(c *gin.Context, progress <-chan string) {
	for {
		select {
		case msg := <-progress:
			c.SSEvent("progress", gin.H{"message": msg})
		default:
			return
		}
	}
}
