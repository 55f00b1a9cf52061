package engine

import (
	"context"
	"errors"

	"tutor-llm/internal/llm"
)

var errWorkerStopped = errors.New("inference worker stopped")

type eventKind int

const (
	eventDelta eventKind = iota
	eventDone
	eventError
)

// event es la respuesta del worker: deltas seguidos de un unico done o error.
type event struct {
	kind eventKind
	text string
	err  error
}

type generateJob struct {
	ctx    context.Context
	req    llm.ChatRequest
	events chan event
}

type loadJob struct {
	ctx      context.Context
	model    string
	progress func(string)
	reply    chan error
}

// worker es el contexto de ejecucion aislado que hospeda el runtime. Solo esta
// goroutine toca el runtime; el resto se comunica por canales.
type worker struct {
	runtime llm.Runtime
	loads   chan loadJob
	jobs    chan generateJob
	quit    chan struct{}
	done    chan struct{}
}

func startWorker(runtime llm.Runtime) *worker {
	w := &worker{
		runtime: runtime,
		loads:   make(chan loadJob),
		jobs:    make(chan generateJob),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case j := <-w.loads:
			j.reply <- w.runtime.Load(j.ctx, j.model, j.progress)
		case j := <-w.jobs:
			w.generate(j)
		}
	}
}

func (w *worker) generate(j generateJob) {
	defer close(j.events)

	content, errs := w.runtime.Stream(j.ctx, j.req)
	for delta := range content {
		j.events <- event{kind: eventDelta, text: delta}
	}
	if err := <-errs; err != nil {
		j.events <- event{kind: eventError, err: err}
		return
	}
	j.events <- event{kind: eventDone}
}

func (w *worker) load(ctx context.Context, model string, progress func(string)) error {
	reply := make(chan error, 1)
	select {
	case w.loads <- loadJob{ctx: ctx, model: model, progress: progress, reply: reply}:
	case <-w.quit:
		return errWorkerStopped
	}
	return <-reply
}

// submit encola una generacion; el canal devuelto se cierra tras el evento terminal.
func (w *worker) submit(ctx context.Context, req llm.ChatRequest) (<-chan event, error) {
	events := make(chan event, 16)
	select {
	case w.jobs <- generateJob{ctx: ctx, req: req, events: events}:
		return events, nil
	case <-w.quit:
		return nil, errWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *worker) stop() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	<-w.done
}
