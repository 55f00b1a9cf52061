package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tutor-llm/internal/domain"
	"tutor-llm/internal/repository"
)

const feedbackWriteTimeout = 5 * time.Second

var errWriterClosed = errors.New("session writer closed")

type writeKind int

const (
	writeSave writeKind = iota
	writeDelete
	writeFeedback
	writeBarrier
)

type writeJob struct {
	kind      writeKind
	session   domain.ChatSession
	sessionID string
	index     int
	feedback  string
	done      chan error
}

// sessionWriter es el unico que escribe en el almacenamiento de sesiones. Aplica
// guardados, borrados y feedback en orden de llegada desde una sola goroutine.
type sessionWriter struct {
	store   func() repository.SessionRepository
	current func(snapshot domain.ChatSession) (domain.ChatSession, bool)
	logger  *zap.Logger

	jobs      chan writeJob
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func newSessionWriter(
	store func() repository.SessionRepository,
	current func(domain.ChatSession) (domain.ChatSession, bool),
	logger *zap.Logger,
	size int,
) *sessionWriter {
	w := &sessionWriter{
		store:   store,
		current: current,
		logger:  logger,
		jobs:    make(chan writeJob, size),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *sessionWriter) run() {
	defer close(w.stopped)
	for {
		select {
		case job := <-w.jobs:
			w.apply(job)
		case <-w.quit:
			for {
				select {
				case job := <-w.jobs:
					w.apply(job)
				default:
					return
				}
			}
		}
	}
}

func (w *sessionWriter) apply(job writeJob) {
	var err error
	switch job.kind {
	case writeSave:
		err = w.save(job.session)
	case writeDelete:
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err = w.store().Delete(ctx, job.sessionID)
		cancel()
	case writeFeedback:
		ctx, cancel := context.WithTimeout(context.Background(), feedbackWriteTimeout)
		err = w.store().UpdateMessageFeedback(ctx, job.sessionID, job.index, job.feedback)
		cancel()
		if err != nil {
			w.logger.Warn("persist feedback failed",
				zap.String("session_id", job.sessionID),
				zap.Int("message_index", job.index),
				zap.Error(err),
			)
		}
	}
	if job.done != nil {
		job.done <- err
	}
}

// save escribe la foto con el feedback vigente en memoria. Una sesion que ya no
// esta en memoria fue borrada y no se vuelve a escribir.
func (w *sessionWriter) save(snapshot domain.ChatSession) error {
	session, ok := w.current(snapshot)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return w.store().Save(ctx, session)
}

func (w *sessionWriter) enqueue(job writeJob) bool {
	select {
	case w.jobs <- job:
		return true
	case <-w.quit:
		return false
	}
}

// do encola el trabajo y espera su resultado.
func (w *sessionWriter) do(ctx context.Context, job writeJob) error {
	job.done = make(chan error, 1)
	if !w.enqueue(job) {
		return errWriterClosed
	}
	select {
	case err := <-job.done:
		return err
	case <-w.stopped:
		select {
		case err := <-job.done:
			return err
		default:
			return errWriterClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flush espera a que se procesen los trabajos encolados hasta ahora.
func (w *sessionWriter) flush() {
	_ = w.do(context.Background(), writeJob{kind: writeBarrier})
}

func (w *sessionWriter) close() {
	w.closeOnce.Do(func() { close(w.quit) })
	<-w.stopped
}
