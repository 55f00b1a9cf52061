package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	engineH *EngineHandler,
	chatH *ChatHandler,
	dictationH *DictationHandler,
	brandingH *BrandingHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/branding", brandingH.GetBranding)

	eng := r.Group("/engine")
	eng.GET("", engineH.GetStatus)
	eng.POST("/init", engineH.Initialize)

	sessions := r.Group("/sessions")
	sessions.GET("", chatH.ListSessions)
	sessions.POST("", chatH.CreateSession)
	sessions.DELETE("/:id", chatH.DeleteSession)
	sessions.POST("/:id/select", chatH.SelectSession)

	in := r.Group("/input")
	in.GET("", chatH.GetInput)
	in.PUT("", chatH.SetInput)
	in.POST("/image", chatH.AttachImage)
	in.DELETE("/image", chatH.ClearImage)

	chat := r.Group("/chat")
	chat.POST("/send", chatH.Send)
	chat.POST("/stream", chatH.StreamSend)
	chat.POST("/stop", chatH.Stop)

	r.POST("/messages/:index/feedback", chatH.UpdateFeedback)
	r.GET("/events", chatH.Events)

	dictation := r.Group("/dictation")
	dictation.POST("/start", dictationH.Start)
	dictation.POST("/events", dictationH.PushEvent)
	dictation.POST("/stop", dictationH.Stop)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
// Los endpoints SSE lo sobreescriben al emitir el primer evento.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
