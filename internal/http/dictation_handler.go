package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tutor-llm/internal/domain"
	"tutor-llm/internal/service"
	"tutor-llm/internal/speech"
)

// DictationHandler recibe los eventos de voz de la plataforma y los reenvia al relay.
type DictationHandler struct {
	logger *zap.Logger
	conv   *service.ConversationService
	relay  *speech.Relay
}

func NewDictationHandler(logger *zap.Logger, conv *service.ConversationService, relay *speech.Relay) *DictationHandler {
	return &DictationHandler{logger: logger, conv: conv, relay: relay}
}

// Start maneja POST /dictation/start.
func (h *DictationHandler) Start(c *gin.Context) {
	err := h.conv.StartDictation()
	switch {
	case errors.Is(err, speech.ErrAlreadyListening):
		c.JSON(http.StatusConflict, gin.H{"error": "dictation already active"})
		return
	case errors.Is(err, domain.ErrRecognition):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "speech recognition unavailable"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start dictation"})
		return
	}
	c.JSON(http.StatusOK, h.conv.Input())
}

// PushEvent maneja POST /dictation/events con el transcript acumulado, o con
// end/error para cerrar la sesion de reconocimiento.
func (h *DictationHandler) PushEvent(c *gin.Context) {
	var req struct {
		Transcript string `json:"transcript"`
		End        bool   `json:"end"`
		Error      string `json:"error"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid dictation event", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if !h.relay.Listening() {
		c.JSON(http.StatusConflict, gin.H{"error": "dictation not active"})
		return
	}
	if req.Transcript != "" {
		h.relay.Push(req.Transcript)
	}
	switch {
	case req.Error != "":
		h.relay.End(errors.New(req.Error))
	case req.End:
		h.relay.End(nil)
	}
	c.JSON(http.StatusOK, h.conv.Input())
}

// Stop maneja POST /dictation/stop.
func (h *DictationHandler) Stop(c *gin.Context) {
	if err := h.conv.StopDictation(); err != nil {
		if errors.Is(err, speech.ErrNotListening) {
			c.JSON(http.StatusConflict, gin.H{"error": "dictation not active"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "speech recognition unavailable"})
		return
	}
	c.JSON(http.StatusOK, h.conv.Input())
}
