package llm

import (
	"context"
	"sync"
)

// MockRuntime permite tests sin un runtime real.
type MockRuntime struct {
	mu sync.Mutex

	Deltas    []string
	StreamErr error
	LoadErr   error
	Progress  []string
	// Gate, si no es nil, bloquea el stream hasta cerrarse (o cancelarse ctx).
	Gate chan struct{}

	LoadCalls int
	Requests  []ChatRequest
}

func (m *MockRuntime) Load(ctx context.Context, model string, progress func(string)) error {
	m.mu.Lock()
	m.LoadCalls++
	m.mu.Unlock()
	for _, p := range m.Progress {
		if progress != nil {
			progress(p)
		}
	}
	return m.LoadErr
}

func (m *MockRuntime) Stream(ctx context.Context, req ChatRequest) (<-chan string, <-chan error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	contentChan := make(chan string)
	errorChan := make(chan error, 1)
	go func() {
		defer close(errorChan)
		defer close(contentChan)
		for _, d := range m.Deltas {
			select {
			case contentChan <- d:
			case <-ctx.Done():
				errorChan <- ctx.Err()
				return
			}
		}
		if m.Gate != nil {
			select {
			case <-m.Gate:
			case <-ctx.Done():
				errorChan <- ctx.Err()
				return
			}
		}
		if m.StreamErr != nil {
			errorChan <- m.StreamErr
		}
	}()
	return contentChan, errorChan
}

// LastRequest devuelve la ultima peticion recibida.
func (m *MockRuntime) LastRequest() (ChatRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return ChatRequest{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}

// Calls devuelve cuantas veces se llamo a Load.
func (m *MockRuntime) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LoadCalls
}
