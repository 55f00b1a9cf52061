package ocr

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ValidateImage decodifica un data URI y comprueba por contenido que sea una imagen.
// Devuelve el MIME detectado.
func ValidateImage(dataURI string) (string, error) {
	if !strings.HasPrefix(dataURI, "data:") {
		return "", fmt.Errorf("not a data uri")
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(dataURI, "data:"), ",")
	if !ok {
		return "", fmt.Errorf("malformed data uri")
	}

	var raw []byte
	if strings.HasSuffix(header, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", fmt.Errorf("decode base64 payload: %w", err)
		}
		raw = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return "", fmt.Errorf("unescape payload: %w", err)
		}
		raw = []byte(unescaped)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty image payload")
	}

	mt := mimetype.Detect(raw)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("unsupported attachment type %s", mt.String())
	}
	return mt.String(), nil
}
