package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tutor-llm/internal/domain"
	"tutor-llm/internal/engine"
	"tutor-llm/internal/llm"
	"tutor-llm/internal/repository"
)

const (
	defaultContextWindow = 10
	writeQueueSize       = 64
	persistTimeout       = 10 * time.Second
	ocrTimeout           = 90 * time.Second
)

// Avisos visibles para el usuario.
const (
	NoticeEngineNotReady  = "The tutor is still getting ready. Please wait a moment."
	NoticeBusy            = "Please wait for the current answer to finish."
	NoticeReadingImage    = "Still reading the attached image..."
	NoticeEmptyMessage    = "Type a question or attach an image first."
	NoticeInvalidImage    = "That file does not look like an image."
	NoticeSaveFailed      = "Could not save this conversation."
	NoticeHistoryDegraded = "Chat history is unavailable. Conversations will only be kept until you close the app."
	NoticeReplyFailed     = "The tutor could not finish this answer."
	NoticeVoiceFailed     = "Voice input is not available right now."
)

// Engine es la parte del adaptador de inferencia que usa el controlador.
type Engine interface {
	State() engine.State
	Generate(ctx context.Context, messages []llm.Message, onUpdate func(string)) (string, error)
}

// ImageExtractor devuelve el texto de una imagen; nunca falla.
type ImageExtractor interface {
	Extract(ctx context.Context, image string) string
}

// BrandingProvider da el nombre del colegio para el saludo.
type BrandingProvider interface {
	SchoolName(ctx context.Context) string
}

// Dictator maneja el dictado por voz sobre el borrador.
type Dictator interface {
	Start(ctx context.Context, base string, sink func(string)) error
	Stop() error
	Active() bool
}

// ConversationDeps agrupa las dependencias del controlador.
type ConversationDeps struct {
	Engine        Engine
	Store         repository.SessionRepository
	Images        ImageExtractor
	Branding      BrandingProvider
	Dictation     Dictator
	ContextWindow int
	// Degraded indica que el almacenamiento configurado no abrio y se usa memoria.
	Degraded bool
	Logger   *zap.Logger
	Now      func() time.Time
	NewID    func() string
}

// SendResult describe el resultado de un envio.
type SendResult struct {
	Accepted  bool   `json:"accepted"`
	Notice    string `json:"notice,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Reply     string `json:"reply,omitempty"`
	Stopped   bool   `json:"stopped,omitempty"`
}

// InputState es una foto del borrador.
type InputState struct {
	Text       string    `json:"text"`
	HasImage   bool      `json:"has_image"`
	OCRPending bool      `json:"ocr_pending"`
	State      TurnState `json:"state"`
	Generating bool      `json:"generating"`
	Dictating  bool      `json:"dictating"`
}

// ConversationService orquesta sesiones, borrador, inferencia y feedback.
type ConversationService struct {
	engine    Engine
	store     repository.SessionRepository
	images    ImageExtractor
	branding  BrandingProvider
	dictation Dictator
	window    int
	degraded  bool
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	updates *updateBus
	writer  *sessionWriter
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	sessions   []domain.ChatSession
	activeID   string
	draft      string
	image      string
	ocrText    string
	ocrPending bool
	ocrSeq     int
	turn       TurnState
	generating bool
	genSession string
	cancelGen  context.CancelFunc
	stopped    bool
}

func NewConversationService(deps ConversationDeps) *ConversationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	window := deps.ContextWindow
	if window <= 0 {
		window = defaultContextWindow
	}
	store := deps.Store
	if store == nil {
		store = repository.NewMemorySessionRepository()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ConversationService{
		engine:    deps.Engine,
		store:     store,
		images:    deps.Images,
		branding:  deps.Branding,
		dictation: deps.Dictation,
		window:    window,
		degraded:  deps.Degraded,
		logger:    logger,
		now:       now,
		newID:     newID,
		updates:   newUpdateBus(logger),
		baseCtx:   ctx,
		cancel:    cancel,
		turn:      TurnIdle,
	}
	s.writer = newSessionWriter(s.currentStore, s.reconcile, logger, writeQueueSize)
	return s
}

// Subscribe registra un observador. Devuelve la funcion para darse de baja.
func (s *ConversationService) Subscribe(fn func(Update)) func() {
	if fn == nil {
		return func() {}
	}
	return s.updates.subscribe(fn)
}

// Close cancela la generacion en curso y espera a las tareas de fondo.
func (s *ConversationService) Close() {
	s.cancel()
	s.mu.Lock()
	if s.cancelGen != nil {
		s.stopped = true
		s.cancelGen()
	}
	s.mu.Unlock()
	if s.dictation != nil && s.dictation.Active() {
		_ = s.dictation.Stop()
	}
	s.wg.Wait()
	s.writer.close()
	s.updates.close()
}

// Load carga las sesiones y activa la mas reciente. Si no hay ninguna, crea una.
func (s *ConversationService) Load(ctx context.Context) error {
	if s.Degraded() {
		s.logger.Warn("session store degraded to memory")
		s.notice(NoticeHistoryDegraded)
	}

	sessions, err := s.currentStore().GetAll(ctx)
	if err != nil {
		s.logger.Error("load sessions failed, falling back to memory", zap.Error(err))
		s.mu.Lock()
		s.store = repository.NewMemorySessionRepository()
		s.degraded = true
		s.mu.Unlock()
		s.notice(NoticeHistoryDegraded)
		sessions = nil
	}

	var created *domain.ChatSession
	if len(sessions) == 0 {
		fresh := domain.NewSession(s.newID(), s.schoolName(ctx), s.now())
		created = &fresh
		sessions = []domain.ChatSession{fresh}
	}

	s.mu.Lock()
	s.sessions = make([]domain.ChatSession, 0, len(sessions))
	for _, sess := range sessions {
		s.sessions = append(s.sessions, sess.Clone())
	}
	s.sortLocked()
	s.activeID = s.sessions[0].ID
	s.mu.Unlock()

	if created != nil {
		s.persist(ctx, *created)
	}
	s.logger.Info("sessions loaded", zap.Int("count", len(sessions)))
	s.emit(Update{Kind: UpdateSessions, SessionID: s.ActiveID()})
	return nil
}

// Sessions devuelve las sesiones ordenadas de la mas reciente a la mas antigua.
func (s *ConversationService) Sessions() []domain.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	return out
}

// Degraded indica si el historial solo vive en memoria.
func (s *ConversationService) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *ConversationService) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Active devuelve una copia de la sesion activa.
func (s *ConversationService) Active() (domain.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(s.activeID)
	if idx < 0 {
		return domain.ChatSession{}, false
	}
	return s.sessions[idx].Clone(), true
}

// CreateSession crea una sesion nueva y la activa.
func (s *ConversationService) CreateSession(ctx context.Context) domain.ChatSession {
	fresh := domain.NewSession(s.newID(), s.schoolName(ctx), s.now())

	s.mu.Lock()
	s.sessions = append(s.sessions, fresh.Clone())
	s.sortLocked()
	s.activeID = fresh.ID
	s.mu.Unlock()

	s.persist(ctx, fresh)
	s.emit(Update{Kind: UpdateSessions, SessionID: fresh.ID})
	return fresh
}

// SelectSession activa una sesion existente.
func (s *ConversationService) SelectSession(id string) error {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	s.activeID = id
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateSessions, SessionID: id})
	return nil
}

// DeleteSession borra una sesion. Si era la activa, se promueve la mas reciente; si no
// queda ninguna se crea otra, de modo que nunca hay cero sesiones.
func (s *ConversationService) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.generating && s.genSession == id {
		s.mu.Unlock()
		return domain.ErrGenerationInFlight
	}
	needsFresh := len(s.sessions) == 1 && s.sessions[0].ID == id
	s.mu.Unlock()

	var fresh domain.ChatSession
	if needsFresh {
		fresh = domain.NewSession(s.newID(), s.schoolName(ctx), s.now())
	}

	s.mu.Lock()
	if idx := s.indexLocked(id); idx >= 0 {
		s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	}
	created := false
	if len(s.sessions) == 0 {
		if fresh.ID == "" {
			fresh = domain.NewSession(s.newID(), "", s.now())
		}
		s.sessions = append(s.sessions, fresh.Clone())
		created = true
	}
	s.sortLocked()
	if s.activeID == id || s.indexLocked(s.activeID) < 0 {
		s.activeID = s.sessions[0].ID
	}
	active := s.activeID
	s.mu.Unlock()

	if err := s.writer.do(context.WithoutCancel(ctx), writeJob{kind: writeDelete, sessionID: id}); err != nil {
		s.logger.Error("delete session failed", zap.String("session_id", id), zap.Error(err))
		s.notice(NoticeSaveFailed)
	}
	if created {
		s.persist(ctx, fresh)
	}
	s.emit(Update{Kind: UpdateSessions, SessionID: active})
	return nil
}

// UpdateFeedback alterna el feedback de un mensaje de la sesion activa: repetir el
// mismo tipo lo limpia. Actualiza la memoria al instante y persiste en segundo plano.
// Un indice fuera de rango no hace nada.
func (s *ConversationService) UpdateFeedback(index int, feedback string) (string, error) {
	if feedback != domain.FeedbackLike && feedback != domain.FeedbackDislike {
		return "", domain.ErrInvalidFeedbackType
	}

	s.mu.Lock()
	idx := s.indexLocked(s.activeID)
	if idx < 0 || index < 0 || index >= len(s.sessions[idx].Messages) {
		s.mu.Unlock()
		return "", nil
	}
	msg := &s.sessions[idx].Messages[index]
	if msg.Feedback == feedback {
		msg.Feedback = domain.FeedbackNone
	} else {
		msg.Feedback = feedback
	}
	value := msg.Feedback
	sessionID := s.activeID
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateSessions, SessionID: sessionID})
	job := writeJob{kind: writeFeedback, sessionID: sessionID, index: index, feedback: value}
	if !s.writer.enqueue(job) {
		s.logger.Warn("session writer closed, feedback not stored", zap.String("session_id", sessionID))
	}
	return value, nil
}

func (s *ConversationService) schoolName(ctx context.Context) string {
	if s.branding == nil {
		return ""
	}
	return s.branding.SchoolName(ctx)
}

// persist guarda la sesion a traves del writer y espera a que quede escrita.
func (s *ConversationService) persist(ctx context.Context, session domain.ChatSession) {
	if err := s.writer.do(context.WithoutCancel(ctx), writeJob{kind: writeSave, session: session}); err != nil {
		s.logger.Error("save session failed", zap.String("session_id", session.ID), zap.Error(err))
		s.notice(NoticeSaveFailed)
	}
}

func (s *ConversationService) currentStore() repository.SessionRepository {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// reconcile completa una foto con el feedback que hay hoy en memoria, para que un
// like dado despues de tomarla no se pierda. Falla si la sesion ya no existe.
func (s *ConversationService) reconcile(snapshot domain.ChatSession) (domain.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(snapshot.ID)
	if idx < 0 {
		return domain.ChatSession{}, false
	}
	out := snapshot.Clone()
	live := s.sessions[idx].Messages
	for i := range out.Messages {
		if i >= len(live) {
			break
		}
		out.Messages[i].Feedback = live[i].Feedback
	}
	return out, true
}

func (s *ConversationService) notice(msg string) {
	s.emit(Update{Kind: UpdateNotice, Notice: msg})
}

func (s *ConversationService) emit(u Update) {
	s.updates.emit(u)
}

func (s *ConversationService) indexLocked(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *ConversationService) sortLocked() {
	sort.SliceStable(s.sessions, func(i, j int) bool {
		return s.sessions[i].UpdatedAt > s.sessions[j].UpdatedAt
	})
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func wrapGenerate(err error) error {
	return fmt.Errorf("generate reply: %w", err)
}
