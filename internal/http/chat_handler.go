package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tutor-llm/internal/domain"
	"tutor-llm/internal/service"
)

const updateBuffer = 256

// ChatHandler expone el controlador de conversacion.
type ChatHandler struct {
	logger *zap.Logger
	conv   *service.ConversationService
}

func NewChatHandler(logger *zap.Logger, conv *service.ConversationService) *ChatHandler {
	return &ChatHandler{logger: logger, conv: conv}
}

// ListSessions maneja GET /sessions.
func (h *ChatHandler) ListSessions(c *gin.Context) {
	h.respondSessions(c, http.StatusOK)
}

// CreateSession maneja POST /sessions.
func (h *ChatHandler) CreateSession(c *gin.Context) {
	session := h.conv.CreateSession(c.Request.Context())
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

// DeleteSession maneja DELETE /sessions/:id.
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	err := h.conv.DeleteSession(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrGenerationInFlight) {
		c.JSON(http.StatusConflict, gin.H{"error": "session is generating a reply"})
		return
	}
	if err != nil {
		h.logger.Error("delete session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete session"})
		return
	}
	h.respondSessions(c, http.StatusOK)
}

// SelectSession maneja POST /sessions/:id/select.
func (h *ChatHandler) SelectSession(c *gin.Context) {
	if err := h.conv.SelectSession(c.Param("id")); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not select session"})
		return
	}
	session, _ := h.conv.Active()
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// GetInput maneja GET /input.
func (h *ChatHandler) GetInput(c *gin.Context) {
	c.JSON(http.StatusOK, h.conv.Input())
}

// SetInput maneja PUT /input.
func (h *ChatHandler) SetInput(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid set input request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	h.conv.SetInput(req.Text)
	c.JSON(http.StatusOK, h.conv.Input())
}

// AttachImage maneja POST /input/image. El OCR continua en segundo plano.
func (h *ChatHandler) AttachImage(c *gin.Context) {
	var req struct {
		Image string `json:"image" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid attach image request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.conv.AttachImage(c.Request.Context(), req.Image); err != nil {
		h.logger.Warn("attachment rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image attachment"})
		return
	}
	c.JSON(http.StatusAccepted, h.conv.Input())
}

// ClearImage maneja DELETE /input/image.
func (h *ChatHandler) ClearImage(c *gin.Context) {
	h.conv.ClearImage()
	c.JSON(http.StatusOK, h.conv.Input())
}

type sendRequest struct {
	Text *string `json:"text"`
}

func (h *ChatHandler) bindSend(c *gin.Context) (sendRequest, bool) {
	var req sendRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid send request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return req, false
	}
	return req, true
}

// Send maneja POST /chat/send y responde cuando la respuesta termina.
func (h *ChatHandler) Send(c *gin.Context) {
	req, ok := h.bindSend(c)
	if !ok {
		return
	}
	res, err := h.conv.Send(c.Request.Context(), req.Text)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "generation failed", "result": res})
		return
	}
	if !res.Accepted {
		c.JSON(rejectStatus(res.Notice), res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// StreamSend maneja POST /chat/stream: emite el texto parcial como SSE y termina con
// "done" o "error".
func (h *ChatHandler) StreamSend(c *gin.Context) {
	req, ok := h.bindSend(c)
	if !ok {
		return
	}

	updates, unsubscribe := h.subscribe()
	defer unsubscribe()

	type outcome struct {
		res service.SendResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.conv.Send(c.Request.Context(), req.Text)
		done <- outcome{res: res, err: err}
	}()

	c.Stream(func(_ io.Writer) bool {
		select {
		case u := <-updates:
			c.SSEvent(string(u.Kind), u)
			return true
		case out := <-done:
			drainUpdates(c, updates)
			if out.err != nil {
				c.SSEvent("error", gin.H{"error": out.err.Error(), "result": out.res})
				return false
			}
			c.SSEvent("done", out.res)
			return false
		}
	})
}

// Stop maneja POST /chat/stop.
func (h *ChatHandler) Stop(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stopped": h.conv.Stop()})
}

// UpdateFeedback maneja POST /messages/:index/feedback sobre la sesion activa.
func (h *ChatHandler) UpdateFeedback(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message index"})
		return
	}
	var req struct {
		Type string `json:"type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid feedback request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	value, err := h.conv.UpdateFeedback(index, req.Type)
	if errors.Is(err, domain.ErrInvalidFeedbackType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feedback type"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": index, "feedback": value})
}

// Events maneja GET /events: todas las actualizaciones hasta que el cliente corta.
func (h *ChatHandler) Events(c *gin.Context) {
	updates, unsubscribe := h.subscribe()
	defer unsubscribe()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case u := <-updates:
			c.SSEvent(string(u.Kind), u)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (h *ChatHandler) subscribe() (<-chan service.Update, func()) {
	updates := make(chan service.Update, updateBuffer)
	unsubscribe := h.conv.Subscribe(func(u service.Update) {
		select {
		case updates <- u:
		default:
		}
	})
	return updates, unsubscribe
}

func drainUpdates(c *gin.Context, updates <-chan service.Update) {
	for {
		select {
		case u := <-updates:
			c.SSEvent(string(u.Kind), u)
		default:
			return
		}
	}
}

func (h *ChatHandler) respondSessions(c *gin.Context, status int) {
	c.JSON(status, gin.H{
		"sessions":  h.conv.Sessions(),
		"active_id": h.conv.ActiveID(),
	})
}

// rejectStatus distingue un mensaje vacio (error del cliente) de un envio que
// el estado actual no admite.
func rejectStatus(notice string) int {
	if notice == service.NoticeEmptyMessage {
		return http.StatusBadRequest
	}
	return http.StatusConflict
}
