package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tutor-llm/internal/domain"
	"tutor-llm/internal/llm"
)

// State es el estado del motor de inferencia.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.3
	lowMemoryGB        = 4.0
)

// Options configura el adaptador. Los valores cero usan los defaults.
type Options struct {
	Tiers       Tiers
	Hint        MemoryHint
	MaxTokens   int
	Temperature float64
	Logger      *zap.Logger
}

// Status es una foto del adaptador para la UI.
type Status struct {
	State        State  `json:"state"`
	Model        string `json:"model"`
	MaxTokens    int    `json:"max_tokens"`
	LastProgress string `json:"last_progress,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	Generating   bool   `json:"generating"`
}

// Adapter es el unico propietario del motor de inferencia del proceso. Se construye
// en la raiz de composicion y se inyecta en el controlador.
type Adapter struct {
	runtime     llm.Runtime
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	group   singleflight.Group

	mu           sync.Mutex
	state        State
	worker       *worker
	generating   bool
	lastProgress string
	lastErr      error
	listeners    map[int]func(string)
	nextListener int
}

// NewAdapter selecciona el modelo una sola vez a partir del hint de memoria.
func NewAdapter(runtime llm.Runtime, opts Options) *Adapter {
	tiers := opts.Tiers
	if tiers.Low == "" {
		tiers.Low = DefaultTiers.Low
	}
	if tiers.Mid == "" {
		tiers.Mid = DefaultTiers.Mid
	}
	if tiers.High == "" {
		tiers.High = DefaultTiers.High
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	// Con poca memoria se reduce el presupuesto de salida a la mitad.
	if MemoryGB(opts.Hint) < lowMemoryGB {
		maxTokens /= 2
	}

	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		runtime:     runtime,
		model:       tiers.Select(opts.Hint),
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
		baseCtx:     ctx,
		cancel:      cancel,
		state:       StateUninitialized,
		listeners:   make(map[int]func(string)),
	}
}

// Model devuelve el identificador de modelo elegido.
func (a *Adapter) Model() string { return a.model }

// State devuelve el estado actual.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Status devuelve una foto del estado.
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Status{
		State:        a.state,
		Model:        a.model,
		MaxTokens:    a.maxTokens,
		LastProgress: a.lastProgress,
		Generating:   a.generating,
	}
	if a.lastErr != nil {
		st.LastError = a.lastErr.Error()
	}
	return st
}

// Initialize arranca el worker y carga el modelo. Si ya esta Ready no hace nada; si
// hay una inicializacion en curso, espera a esa misma. Tras un fallo se puede reintentar.
// Cancelar ctx solo deja de esperar: la carga continua para los demas llamadores.
func (a *Adapter) Initialize(ctx context.Context, onProgress func(string)) error {
	a.mu.Lock()
	if a.state == StateReady {
		a.mu.Unlock()
		return nil
	}
	id := a.addListenerLocked(onProgress)
	a.mu.Unlock()
	defer a.removeListener(id)

	ch := a.group.DoChan("init", func() (interface{}, error) {
		return nil, a.initialize()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) initialize() error {
	a.mu.Lock()
	if a.state == StateReady {
		a.mu.Unlock()
		return nil
	}
	a.state = StateInitializing
	a.lastErr = nil
	a.mu.Unlock()

	a.logger.Info("engine initializing", zap.String("model", a.model))
	a.broadcast(fmt.Sprintf("Starting inference worker for %s", a.model))

	w := startWorker(a.runtime)
	if err := w.load(a.baseCtx, a.model, a.broadcast); err != nil {
		w.stop()
		a.mu.Lock()
		a.state = StateFailed
		a.lastErr = err
		a.mu.Unlock()
		a.logger.Error("engine initialization failed", zap.String("model", a.model), zap.Error(err))
		return fmt.Errorf("%w: %w", domain.ErrInitialization, err)
	}

	a.mu.Lock()
	a.worker = w
	a.state = StateReady
	a.mu.Unlock()
	a.broadcast("Ready")
	a.logger.Info("engine ready", zap.String("model", a.model))
	return nil
}

// Generate envia el contexto al worker y acumula los deltas. onUpdate recibe el buffer
// acumulado tras cada delta, de forma sincrona. No es reentrante.
// Ante un error a mitad de stream devuelve el texto parcial junto al error.
func (a *Adapter) Generate(ctx context.Context, messages []llm.Message, onUpdate func(string)) (string, error) {
	a.mu.Lock()
	if a.state != StateReady || a.worker == nil {
		a.mu.Unlock()
		return "", domain.ErrNotInitialized
	}
	if a.generating {
		a.mu.Unlock()
		return "", domain.ErrGenerationInFlight
	}
	a.generating = true
	w := a.worker
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.generating = false
		a.mu.Unlock()
	}()

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.baseCtx, cancel)
	defer stop()

	events, err := w.submit(genCtx, llm.ChatRequest{
		Model:       a.model,
		Messages:    messages,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrStream, err)
	}

	var (
		buf       strings.Builder
		streamErr error
	)
	for ev := range events {
		switch ev.kind {
		case eventDelta:
			buf.WriteString(ev.text)
			if onUpdate != nil {
				onUpdate(buf.String())
			}
		case eventError:
			streamErr = ev.err
		}
	}

	if streamErr != nil {
		return buf.String(), fmt.Errorf("%w: %w", domain.ErrStream, streamErr)
	}
	return buf.String(), nil
}

// Close detiene el worker. El adaptador no es reutilizable despues.
func (a *Adapter) Close() {
	a.cancel()
	a.mu.Lock()
	w := a.worker
	a.worker = nil
	a.state = StateUninitialized
	a.mu.Unlock()
	if w != nil {
		w.stop()
	}
}

func (a *Adapter) addListenerLocked(fn func(string)) int {
	if fn == nil {
		return -1
	}
	id := a.nextListener
	a.nextListener++
	a.listeners[id] = fn
	return id
}

func (a *Adapter) removeListener(id int) {
	if id < 0 {
		return
	}
	a.mu.Lock()
	delete(a.listeners, id)
	a.mu.Unlock()
}

func (a *Adapter) broadcast(msg string) {
	a.mu.Lock()
	a.lastProgress = msg
	fns := make([]func(string), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}
