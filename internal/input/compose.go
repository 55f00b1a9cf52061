package input

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tutor-llm/internal/domain"
	"tutor-llm/internal/ocr"
)

const (
	imageContentLabel = "[Attached Image Content]: "
	imageOnlyMarker   = "[Image Attached]"
)

// Compose arma el mensaje final del estudiante a partir del texto escrito,
// la presencia de imagen y el texto reconocido por OCR.
func Compose(text string, imageAttached bool, ocrText string) string {
	text = strings.TrimSpace(text)
	ocrText = strings.TrimSpace(ocrText)

	switch {
	case ocrText != "" && text != "":
		return text + "\n\n" + imageContentLabel + ocrText
	case ocrText != "":
		return imageContentLabel + ocrText
	case text != "":
		return text
	case imageAttached:
		return imageOnlyMarker
	default:
		return ""
	}
}

// Merger combina texto e imagen; un fallo de OCR nunca bloquea el envio.
type Merger struct {
	recognizer ocr.Recognizer
	languages  []string
	logger     *zap.Logger
}

func NewMerger(recognizer ocr.Recognizer, languages []string, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Merger{recognizer: recognizer, languages: languages, logger: logger}
}

// Extract devuelve el texto de la imagen o "" si el OCR falla.
func (m *Merger) Extract(ctx context.Context, image string) string {
	if image == "" || m.recognizer == nil {
		return ""
	}
	text, err := m.recognizer.Recognize(ctx, image, m.languages)
	if err != nil {
		m.logger.Warn("ocr failed, continuing without image text",
			zap.Error(fmt.Errorf("%w: %w", domain.ErrRecognition, err)))
		return ""
	}
	text = strings.TrimSpace(text)
	if text == "" {
		m.logger.Debug("ocr returned no text")
	}
	return text
}

// Merge ejecuta OCR sobre la imagen (si la hay) y compone el mensaje.
func (m *Merger) Merge(ctx context.Context, text, image string) string {
	return Compose(text, image != "", m.Extract(ctx, image))
}
