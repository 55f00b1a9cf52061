package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message es un turno enviado al runtime. Image solo se usa en turnos de usuario.
type Message struct {
	Role    string
	Content string
	Image   string
}

// ChatRequest describe una generacion en streaming.
type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Runtime es la capacidad de inferencia tratada como caja negra.
type Runtime interface {
	// Load prepara el modelo e informa hitos de progreso en texto legible.
	Load(ctx context.Context, model string, progress func(string)) error
	// Stream devuelve los deltas incrementales. El canal de contenido se cierra al
	// terminar; despues el canal de error entrega como mucho un error.
	Stream(ctx context.Context, req ChatRequest) (<-chan string, <-chan error)
}

type logger interface {
	Printf(format string, v ...interface{})
}

// HTTPClient implementa Runtime contra un servidor local compatible con OpenAI.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  logger
}

// NewHTTPClient construye un cliente HTTP apuntando a la API de chat completions.
func NewHTTPClient(baseURL, apiKey string, log any) *HTTPClient {
	l, _ := log.(logger)
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000/v1"
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// Sin timeout global: el streaming puede durar minutos; se controla con ctx.
		client: &http.Client{},
		logger: l,
	}
}

func (c *HTTPClient) Load(ctx context.Context, model string, progress func(string)) error {
	report := func(msg string) {
		if progress != nil {
			progress(msg)
		}
	}

	report(fmt.Sprintf("Connecting to local runtime at %s", c.baseURL))

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		if c.logger != nil {
			c.logger.Printf("llm models status %d: %s", resp.StatusCode, string(body))
		}
		return fmt.Errorf("llm http error: status=%d", resp.StatusCode)
	}

	var list modelList
	if err := json.Unmarshal(body, &list); err != nil {
		return fmt.Errorf("unmarshal models: %w", err)
	}

	report(fmt.Sprintf("Checking model %s (%d available)", model, len(list.Data)))
	for _, m := range list.Data {
		if m.ID == model {
			report(fmt.Sprintf("Model %s loaded", model))
			return nil
		}
	}
	return fmt.Errorf("model %s not available in runtime", model)
}

func (c *HTTPClient) Stream(ctx context.Context, r ChatRequest) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(errorChan)
		defer close(contentChan)

		if err := c.stream(ctx, r, contentChan); err != nil {
			errorChan <- err
		}
	}()

	return contentChan, errorChan
}

func (c *HTTPClient) stream(ctx context.Context, r ChatRequest, out chan<- string) error {
	reqBody := chatRequest{
		Model:       r.Model,
		Messages:    toWireMessages(r.Messages),
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		Stream:      true,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		if c.logger != nil {
			c.logger.Printf("llm error status %d: %s", resp.StatusCode, string(respBody))
		}
		return fmt.Errorf("llm http error: status=%d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("llm api error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		select {
		case out <- chunk.Choices[0].Delta.Content:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func toWireMessages(messages []Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Image == "" || m.Role != "user" {
			out = append(out, chatMessage{Role: m.Role, Content: m.Content})
			continue
		}
		out = append(out, chatMessage{
			Role: m.Role,
			Content: []contentPart{
				{Type: "text", Text: m.Content},
				{Type: "image_url", ImageURL: &imageURL{URL: m.Image}},
			},
		})
	}
	return out
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}
