package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tutor-llm/internal/domain"
	"tutor-llm/internal/engine"
	"tutor-llm/internal/input"
	"tutor-llm/internal/ocr"
)

// Input devuelve una foto del borrador y del turno.
func (s *ConversationService) Input() InputState {
	s.mu.Lock()
	st := InputState{
		Text:       s.draft,
		HasImage:   s.image != "",
		OCRPending: s.ocrPending,
		State:      s.turn,
		Generating: s.generating,
	}
	s.mu.Unlock()
	if s.dictation != nil {
		st.Dictating = s.dictation.Active()
	}
	return st
}

// SetInput reemplaza el texto del borrador.
func (s *ConversationService) SetInput(text string) {
	s.mu.Lock()
	s.draft = text
	s.recomputeLocked()
	st := s.turn
	s.mu.Unlock()
	s.emit(Update{Kind: UpdateInput, State: st, Content: text})
}

// AttachImage valida la imagen y lanza el OCR en segundo plano. Mientras corre el
// turno queda en Composing.
func (s *ConversationService) AttachImage(ctx context.Context, dataURI string) error {
	if _, err := ocr.ValidateImage(dataURI); err != nil {
		s.notice(NoticeInvalidImage)
		return fmt.Errorf("%w: %w", domain.ErrInvalidAttachment, err)
	}

	s.mu.Lock()
	s.ocrSeq++
	seq := s.ocrSeq
	s.image = dataURI
	s.ocrText = ""
	s.ocrPending = s.images != nil
	s.recomputeLocked()
	st := s.turn
	s.mu.Unlock()
	s.emit(Update{Kind: UpdateInput, State: st})

	if s.images == nil {
		return nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ocrCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ocrTimeout)
		defer cancel()
		stop := context.AfterFunc(s.baseCtx, cancel)
		defer stop()

		text := s.images.Extract(ocrCtx, dataURI)

		s.mu.Lock()
		if seq != s.ocrSeq {
			s.mu.Unlock()
			return
		}
		s.ocrText = text
		s.ocrPending = false
		s.recomputeLocked()
		st := s.turn
		s.mu.Unlock()
		s.emit(Update{Kind: UpdateInput, State: st})
	}()
	return nil
}

// ClearImage descarta la imagen adjunta y cualquier OCR pendiente.
func (s *ConversationService) ClearImage() {
	s.mu.Lock()
	s.ocrSeq++
	s.image = ""
	s.ocrText = ""
	s.ocrPending = false
	s.recomputeLocked()
	st := s.turn
	s.mu.Unlock()
	s.emit(Update{Kind: UpdateInput, State: st})
}

// Send envia el borrador (o override si no es nil) a la sesion activa y espera la
// respuesta completa. Los rechazos se devuelven como aviso, no como error.
func (s *ConversationService) Send(ctx context.Context, override *string) (SendResult, error) {
	if s.engine == nil || s.engine.State() != engine.StateReady {
		return s.reject(NoticeEngineNotReady), nil
	}

	s.mu.Lock()
	if s.generating {
		s.mu.Unlock()
		return s.reject(NoticeBusy), nil
	}
	if s.ocrPending {
		s.mu.Unlock()
		return s.reject(NoticeReadingImage), nil
	}
	text := s.draft
	if override != nil {
		text = *override
	}
	content := input.Compose(text, s.image != "", s.ocrText)
	idx := s.indexLocked(s.activeID)
	if content == "" || idx < 0 {
		s.mu.Unlock()
		return s.reject(NoticeEmptyMessage), nil
	}

	session := &s.sessions[idx]
	if !session.HasUserMessages() {
		session.Title = domain.DeriveTitle(content)
	}
	session.Messages = append(session.Messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: content,
		Image:   s.image,
	})
	session.Touch(s.now())
	userTurn := session.Clone()
	history := buildContext(session.Messages, s.window)

	session.Messages = append(session.Messages, domain.ChatMessage{Role: domain.RoleAssistant})
	placeholder := len(session.Messages) - 1
	sessionID := session.ID
	s.sortLocked()

	s.draft = ""
	s.image = ""
	s.ocrText = ""
	s.ocrSeq++
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.generating = true
	s.genSession = sessionID
	s.cancelGen = cancel
	s.stopped = false
	s.turn = TurnSending
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateSessions, SessionID: sessionID})
	s.emit(Update{Kind: UpdateState, SessionID: sessionID, State: TurnSending})
	s.persist(ctx, userTurn)

	s.setTurn(sessionID, TurnStreaming)
	reply, err := s.engine.Generate(genCtx, history, func(partial string) {
		s.replacePlaceholder(sessionID, placeholder, partial)
		s.emit(Update{Kind: UpdateContent, SessionID: sessionID, Content: partial})
	})

	s.mu.Lock()
	stopped := s.stopped || (err != nil && isCanceled(err))
	s.generating = false
	s.genSession = ""
	s.cancelGen = nil
	s.stopped = false
	s.turn = TurnFinalized
	var final *domain.ChatSession
	if i := s.indexLocked(sessionID); i >= 0 && placeholder < len(s.sessions[i].Messages) {
		s.sessions[i].Messages[placeholder].Content = reply
		s.sessions[i].Touch(s.now())
		snap := s.sessions[i].Clone()
		final = &snap
		s.sortLocked()
	}
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateState, SessionID: sessionID, State: TurnFinalized, Content: reply})
	if final != nil {
		s.persist(ctx, *final)
	}
	s.finishTurn()

	res := SendResult{Accepted: true, SessionID: sessionID, Reply: reply, Stopped: stopped}
	switch {
	case err == nil:
		s.logger.Info("reply finalized", zap.String("session_id", sessionID), zap.Int("chars", len(reply)))
	case stopped:
		s.logger.Info("generation stopped by user", zap.String("session_id", sessionID), zap.Int("chars", len(reply)))
	default:
		s.logger.Error("generation failed", zap.String("session_id", sessionID), zap.Error(err))
		s.notice(NoticeReplyFailed)
		return res, wrapGenerate(err)
	}
	return res, nil
}

// Stop cancela la generacion en curso. El texto parcial se conserva y se persiste.
func (s *ConversationService) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.generating || s.cancelGen == nil {
		return false
	}
	s.stopped = true
	s.cancelGen()
	return true
}

// StartDictation empieza a dictar sobre el borrador actual.
func (s *ConversationService) StartDictation() error {
	if s.dictation == nil {
		s.notice(NoticeVoiceFailed)
		return fmt.Errorf("%w: no speech recognizer", domain.ErrRecognition)
	}
	s.mu.Lock()
	base := s.draft
	s.mu.Unlock()

	if err := s.dictation.Start(s.baseCtx, base, s.SetInput); err != nil {
		s.logger.Warn("start dictation failed", zap.Error(err))
		s.notice(NoticeVoiceFailed)
		return err
	}
	s.emit(Update{Kind: UpdateInput, State: s.Input().State})
	return nil
}

func (s *ConversationService) StopDictation() error {
	if s.dictation == nil {
		return fmt.Errorf("%w: no speech recognizer", domain.ErrRecognition)
	}
	err := s.dictation.Stop()
	s.emit(Update{Kind: UpdateInput, State: s.Input().State})
	return err
}

func (s *ConversationService) reject(notice string) SendResult {
	s.notice(notice)
	return SendResult{Notice: notice}
}

func (s *ConversationService) replacePlaceholder(sessionID string, index int, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(sessionID)
	if i < 0 || index >= len(s.sessions[i].Messages) {
		return
	}
	s.sessions[i].Messages[index].Content = content
}

func (s *ConversationService) setTurn(sessionID string, st TurnState) {
	s.mu.Lock()
	s.turn = st
	s.mu.Unlock()
	s.emit(Update{Kind: UpdateState, SessionID: sessionID, State: st})
}

func (s *ConversationService) finishTurn() {
	s.mu.Lock()
	s.recomputeLocked()
	st := s.turn
	s.mu.Unlock()
	s.emit(Update{Kind: UpdateState, State: st})
}

// recomputeLocked deriva el estado del turno a partir del borrador.
func (s *ConversationService) recomputeLocked() {
	switch {
	case s.generating:
		return
	case s.ocrPending:
		s.turn = TurnComposing
	case input.Compose(s.draft, s.image != "", s.ocrText) != "":
		s.turn = TurnReady
	default:
		s.turn = TurnIdle
	}
}
