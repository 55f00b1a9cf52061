package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"tutor-llm/internal/domain"
)

var (
	ErrAlreadyListening = errors.New("speech recognizer already listening")
	ErrNotListening     = errors.New("speech recognizer not listening")
)

// Handlers recibe los eventos de una sesion de reconocimiento continuo.
type Handlers struct {
	// OnResult recibe el transcript acumulado (incluye resultados provisionales).
	OnResult func(transcript string)
	// OnEnd se invoca una sola vez al parar o fallar.
	OnEnd func(err error)
}

// Recognizer es la capacidad de speech-to-text de la plataforma.
type Recognizer interface {
	Start(ctx context.Context, h Handlers) error
	Stop() error
}

// Relay es un Recognizer alimentado desde fuera: la plataforma (navegador, stdin)
// reenvia cada evento con Push y End.
type Relay struct {
	mu        sync.Mutex
	listening bool
	handlers  Handlers
	stopCtx   func() bool
}

func NewRelay() *Relay {
	return &Relay{}
}

func (r *Relay) Start(ctx context.Context, h Handlers) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listening {
		return ErrAlreadyListening
	}
	r.listening = true
	r.handlers = h
	r.stopCtx = context.AfterFunc(ctx, func() { r.End(ctx.Err()) })
	return nil
}

// Push entrega un transcript acumulado. Sin sesion activa se ignora.
func (r *Relay) Push(transcript string) bool {
	r.mu.Lock()
	listening, h := r.listening, r.handlers
	r.mu.Unlock()
	if !listening {
		return false
	}
	if h.OnResult != nil {
		h.OnResult(transcript)
	}
	return true
}

// End termina la sesion con el error de la plataforma (o nil).
func (r *Relay) End(err error) {
	r.mu.Lock()
	if !r.listening {
		r.mu.Unlock()
		return
	}
	r.listening = false
	h := r.handlers
	r.handlers = Handlers{}
	if r.stopCtx != nil {
		r.stopCtx()
		r.stopCtx = nil
	}
	r.mu.Unlock()

	if h.OnEnd != nil {
		h.OnEnd(err)
	}
}

func (r *Relay) Stop() error {
	r.mu.Lock()
	listening := r.listening
	r.mu.Unlock()
	if !listening {
		return ErrNotListening
	}
	r.End(nil)
	return nil
}

// Listening indica si hay una sesion activa.
func (r *Relay) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listening
}

// Dictation vuelca el transcript en el borrador conservando el texto escrito antes
// de empezar a dictar.
type Dictation struct {
	rec    Recognizer
	logger *zap.Logger

	mu     sync.Mutex
	active bool
}

func NewDictation(rec Recognizer, logger *zap.Logger) *Dictation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dictation{rec: rec, logger: logger}
}

// Start comienza a dictar. sink recibe el borrador resultante en cada evento.
// Los fallos del reconocedor nunca son fatales: se registran y terminan el dictado.
func (d *Dictation) Start(ctx context.Context, base string, sink func(string)) error {
	if d == nil || d.rec == nil {
		return fmt.Errorf("%w: no speech recognizer", domain.ErrRecognition)
	}
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return ErrAlreadyListening
	}
	d.active = true
	d.mu.Unlock()

	base = strings.TrimSpace(base)
	err := d.rec.Start(ctx, Handlers{
		OnResult: func(transcript string) {
			sink(Merge(base, transcript))
		},
		OnEnd: func(err error) {
			d.mu.Lock()
			d.active = false
			d.mu.Unlock()
			if err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Warn("speech recognition ended with error", zap.Error(err))
			}
		},
	})
	if err != nil {
		d.mu.Lock()
		d.active = false
		d.mu.Unlock()
		return fmt.Errorf("%w: %w", domain.ErrRecognition, err)
	}
	return nil
}

func (d *Dictation) Stop() error {
	if d == nil || d.rec == nil {
		return ErrNotListening
	}
	return d.rec.Stop()
}

func (d *Dictation) Active() bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Merge antepone el texto previo al transcript acumulado.
func Merge(base, transcript string) string {
	transcript = strings.TrimSpace(transcript)
	switch {
	case base == "":
		return transcript
	case transcript == "":
		return base
	}
	return base + " " + transcript
}
