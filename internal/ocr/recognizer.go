package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Recognizer extrae texto de una imagen codificada como data URI.
type Recognizer interface {
	Recognize(ctx context.Context, dataURI string, languages []string) (string, error)
}

var ErrNotConfigured = errors.New("ocr recognizer not configured")

// HTTPRecognizer llama a un servicio OCR externo.
type HTTPRecognizer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRecognizer(baseURL string, httpClient *http.Client) *HTTPRecognizer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPRecognizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, dataURI string, languages []string) (string, error) {
	if r == nil || r.baseURL == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(recognizeRequest{Image: dataURI, Languages: languages})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/recognize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("ocr http error: status=%d", resp.StatusCode)
	}

	var out recognizeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return out.Text, nil
}

type recognizeRequest struct {
	Image     string   `json:"image"`
	Languages []string `json:"languages"`
}

type recognizeResponse struct {
	Text string `json:"text"`
}
