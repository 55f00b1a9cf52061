package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"tutor-llm/internal/domain"
	"tutor-llm/internal/engine"
	"tutor-llm/internal/llm"
	"tutor-llm/internal/repository"
	"tutor-llm/internal/speech"
)

const pngURI = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

type fakeEngine struct {
	mu     sync.Mutex
	state  engine.State
	deltas []string
	err    error
	block  bool
	calls  [][]llm.Message
}

func (f *fakeEngine) State() engine.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEngine) Generate(ctx context.Context, messages []llm.Message, onUpdate func(string)) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	deltas, streamErr, block := f.deltas, f.err, f.block
	f.mu.Unlock()

	var buf strings.Builder
	for _, d := range deltas {
		buf.WriteString(d)
		onUpdate(buf.String())
	}
	if block {
		<-ctx.Done()
		return buf.String(), fmt.Errorf("%w: %w", domain.ErrStream, ctx.Err())
	}
	if streamErr != nil {
		return buf.String(), fmt.Errorf("%w: %w", domain.ErrStream, streamErr)
	}
	return buf.String(), nil
}

func (f *fakeEngine) lastCall() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type recordingStore struct {
	*repository.MemorySessionRepository

	mu          sync.Mutex
	saves       int
	saveErr     error
	getAllErr   error
	feedbackErr error
	onSave      func(domain.ChatSession)
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemorySessionRepository: repository.NewMemorySessionRepository()}
}

func (r *recordingStore) GetAll(ctx context.Context) ([]domain.ChatSession, error) {
	if r.getAllErr != nil {
		return nil, r.getAllErr
	}
	return r.MemorySessionRepository.GetAll(ctx)
}

func (r *recordingStore) Save(ctx context.Context, s domain.ChatSession) error {
	r.mu.Lock()
	r.saves++
	err, hook := r.saveErr, r.onSave
	r.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	if err != nil {
		return err
	}
	return r.MemorySessionRepository.Save(ctx, s)
}

func (r *recordingStore) UpdateMessageFeedback(ctx context.Context, sessionID string, index int, feedback string) error {
	if r.feedbackErr != nil {
		return r.feedbackErr
	}
	return r.MemorySessionRepository.UpdateMessageFeedback(ctx, sessionID, index, feedback)
}

func (r *recordingStore) setOnSave(fn func(domain.ChatSession)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSave = fn
}

func (r *recordingStore) setSaveErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveErr = err
}

func (r *recordingStore) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

type fakeExtractor struct {
	text string
	gate chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, _ string) string {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ""
		}
	}
	return f.text
}

type fakeBranding string

func (f fakeBranding) SchoolName(context.Context) string { return string(f) }

type noticeRecorder struct {
	mu      sync.Mutex
	notices []string
	content []string
}

func (n *noticeRecorder) observe(u Update) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch u.Kind {
	case UpdateNotice:
		n.notices = append(n.notices, u.Notice)
	case UpdateContent:
		n.content = append(n.content, u.Content)
	}
}

func (n *noticeRecorder) snapshot() ([]string, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notices...), append([]string(nil), n.content...)
}

type fixture struct {
	svc    *ConversationService
	engine *fakeEngine
	store  *recordingStore
	events *noticeRecorder
}

func newFixture(t *testing.T, mutate func(*ConversationDeps)) *fixture {
	t.Helper()
	eng := &fakeEngine{state: engine.StateReady, deltas: []string{"Hi", " there", "!"}}
	store := newRecordingStore()
	var (
		idMu sync.Mutex
		next int
		tick int64
	)
	deps := ConversationDeps{
		Engine:   eng,
		Store:    store,
		Branding: fakeBranding("Springfield High"),
		NewID: func() string {
			idMu.Lock()
			defer idMu.Unlock()
			next++
			return fmt.Sprintf("s%d", next)
		},
		Now: func() time.Time {
			idMu.Lock()
			defer idMu.Unlock()
			tick++
			return time.UnixMilli(1_700_000_000_000 + tick)
		},
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc := NewConversationService(deps)
	t.Cleanup(svc.Close)

	events := &noticeRecorder{}
	svc.Subscribe(events.observe)
	return &fixture{svc: svc, engine: eng, store: store, events: events}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func strPtr(s string) *string { return &s }

func TestLoad_CreatesSessionWhenEmpty(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	sessions := f.svc.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	active, ok := f.svc.Active()
	if !ok || active.ID != sessions[0].ID {
		t.Fatalf("expected created session to be active")
	}
	if len(active.Messages) != 1 || !strings.Contains(active.Messages[0].Content, "Springfield High") {
		t.Fatalf("expected branded greeting, got %+v", active.Messages)
	}
	if _, found, _ := f.store.GetByID(context.Background(), active.ID); !found {
		t.Fatalf("expected created session to be persisted")
	}
}

func TestLoad_ActivatesMostRecent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	older := domain.NewSession("old", "", time.UnixMilli(100))
	newer := domain.NewSession("new", "", time.UnixMilli(200))
	_ = f.store.MemorySessionRepository.Save(ctx, older)
	_ = f.store.MemorySessionRepository.Save(ctx, newer)

	if err := f.svc.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	sessions := f.svc.Sessions()
	if len(sessions) != 2 || sessions[0].ID != "new" || sessions[1].ID != "old" {
		t.Fatalf("expected descending order, got %+v", sessions)
	}
	if f.svc.ActiveID() != "new" {
		t.Fatalf("expected most recent active, got %s", f.svc.ActiveID())
	}
}

func TestLoad_StorageErrorDegrades(t *testing.T) {
	f := newFixture(t, nil)
	f.store.getAllErr = errors.New("disk gone")
	if err := f.svc.Load(context.Background()); err != nil {
		t.Fatalf("load should not fail: %v", err)
	}
	if len(f.svc.Sessions()) != 1 {
		t.Fatalf("expected a fresh session")
	}
	if !f.svc.Degraded() {
		t.Fatalf("expected service to report degraded history")
	}
	notices, _ := f.events.snapshot()
	if len(notices) != 1 || notices[0] != NoticeHistoryDegraded {
		t.Fatalf("expected only the degraded notice, got %v", notices)
	}

	// Las escrituras siguientes van a memoria, no al almacenamiento roto.
	saves := f.store.saveCount()
	f.store.setSaveErr(errors.New("disk gone"))
	if res, err := f.svc.Send(context.Background(), strPtr("Explain gravity")); err != nil || !res.Accepted {
		t.Fatalf("send after degrading: %+v %v", res, err)
	}
	if f.store.saveCount() != saves {
		t.Fatalf("broken store must not receive writes after degrading")
	}
	notices, _ = f.events.snapshot()
	for _, n := range notices {
		if n == NoticeSaveFailed {
			t.Fatalf("unexpected save failure notice after degrading: %v", notices)
		}
	}
	stored, found, _ := f.svc.currentStore().GetByID(context.Background(), f.svc.ActiveID())
	if !found || len(stored.Messages) != 3 {
		t.Fatalf("expected turn kept in memory store, got %+v", stored)
	}
}

func TestSend_RejectsWhenEngineNotReady(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.state = engine.StateInitializing
	_ = f.svc.Load(context.Background())
	saves := f.store.saveCount()

	res, err := f.svc.Send(context.Background(), strPtr("Explain gravity"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Accepted || res.Notice != NoticeEngineNotReady {
		t.Fatalf("unexpected result: %+v", res)
	}
	active, _ := f.svc.Active()
	if len(active.Messages) != 1 || f.store.saveCount() != saves {
		t.Fatalf("rejected send must not change or persist the session")
	}
}

func TestSend_RejectsEmptyMessage(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.svc.Load(context.Background())
	saves := f.store.saveCount()

	f.svc.SetInput("   ")
	res, err := f.svc.Send(context.Background(), nil)
	if err != nil || res.Accepted || res.Notice != NoticeEmptyMessage {
		t.Fatalf("unexpected result: %+v err=%v", res, err)
	}
	active, _ := f.svc.Active()
	if len(active.Messages) != 1 {
		t.Fatalf("expected no new messages, got %d", len(active.Messages))
	}
	if f.store.saveCount() != saves {
		t.Fatalf("expected no persistence writes")
	}
}

func TestSend_StreamsIntoPlaceholder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.svc.Load(ctx)
	saves := f.store.saveCount()

	f.svc.SetInput("Explain gravity")
	if st := f.svc.Input().State; st != TurnReady {
		t.Fatalf("expected ready state, got %s", st)
	}
	res, err := f.svc.Send(ctx, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Accepted || res.Reply != "Hi there!" {
		t.Fatalf("unexpected result: %+v", res)
	}

	_, content := f.events.snapshot()
	want := []string{"Hi", "Hi there", "Hi there!"}
	if strings.Join(content, "|") != strings.Join(want, "|") {
		t.Fatalf("expected cumulative updates %v, got %v", want, content)
	}

	active, _ := f.svc.Active()
	if len(active.Messages) != 3 {
		t.Fatalf("expected greeting, user and assistant, got %d", len(active.Messages))
	}
	if active.Messages[1].Content != "Explain gravity" || active.Messages[2].Content != "Hi there!" {
		t.Fatalf("unexpected messages: %+v", active.Messages)
	}
	if active.Title != "Explain gravity" {
		t.Fatalf("unexpected title %q", active.Title)
	}
	if f.store.saveCount() != saves+2 {
		t.Fatalf("expected two writes per turn, got %d", f.store.saveCount()-saves)
	}
	stored, _, _ := f.store.GetByID(ctx, active.ID)
	if len(stored.Messages) != 3 || stored.Messages[2].Content != "Hi there!" {
		t.Fatalf("expected finalized session persisted, got %+v", stored.Messages)
	}
	if in := f.svc.Input(); in.Text != "" || in.State != TurnIdle || in.Generating {
		t.Fatalf("expected cleared input, got %+v", in)
	}
}

func TestSend_TitleOnlyFromFirstMessage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.svc.Load(ctx)

	_, _ = f.svc.Send(ctx, strPtr("What is photosynthesis and why do plants need sunlight?"))
	_, _ = f.svc.Send(ctx, strPtr("Thanks"))

	active, _ := f.svc.Active()
	if active.Title != "What is photosynthesis and why..." {
		t.Fatalf("unexpected title %q", active.Title)
	}
}

func TestSend_ContextWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seed := domain.NewSession("long", "", time.UnixMilli(10))
	for i := 0; i < 20; i++ {
		seed.Messages = append(seed.Messages,
			domain.ChatMessage{Role: domain.RoleUser, Content: fmt.Sprintf("q%d", i)},
			domain.ChatMessage{Role: domain.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
		)
	}
	_ = f.store.MemorySessionRepository.Save(ctx, seed)
	_ = f.svc.Load(ctx)

	if _, err := f.svc.Send(ctx, strPtr("next question")); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := f.engine.lastCall()
	if len(msgs) != 11 {
		t.Fatalf("expected system prompt plus 10 messages, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleSystem || !strings.Contains(msgs[0].Content, "age-appropriate") {
		t.Fatalf("expected tutoring system prompt first, got %+v", msgs[0])
	}
	last := msgs[len(msgs)-1]
	if last.Role != domain.RoleUser || last.Content != "next question" {
		t.Fatalf("expected new user turn last, got %+v", last)
	}
	for _, m := range msgs[1:] {
		if m.Role == domain.RoleAssistant && m.Content == "" {
			t.Fatalf("placeholder must not be sent to the engine")
		}
	}
}

func TestSend_ImageWithRecognizedText(t *testing.T) {
	f := newFixture(t, func(d *ConversationDeps) {
		d.Images = &fakeExtractor{text: "2+2=4"}
	})
	ctx := context.Background()
	_ = f.svc.Load(ctx)

	if err := f.svc.AttachImage(ctx, pngURI); err != nil {
		t.Fatalf("attach: %v", err)
	}
	waitFor(t, func() bool { return !f.svc.Input().OCRPending })

	if _, err := f.svc.Send(ctx, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	active, _ := f.svc.Active()
	user := active.Messages[1]
	if user.Content != "[Attached Image Content]: 2+2=4" {
		t.Fatalf("unexpected content %q", user.Content)
	}
	if user.Image != pngURI {
		t.Fatalf("expected image kept on user message")
	}
	if f.engine.lastCall()[2].Image != pngURI {
		t.Fatalf("expected image forwarded to the engine")
	}
}

func TestSend_RecognitionFailureFallsBack(t *testing.T) {
	f := newFixture(t, func(d *ConversationDeps) {
		d.Images = &fakeExtractor{}
	})
	ctx := context.Background()
	_ = f.svc.Load(ctx)

	_ = f.svc.AttachImage(ctx, pngURI)
	waitFor(t, func() bool { return !f.svc.Input().OCRPending })
	f.svc.SetInput("Solve this")
	_, _ = f.svc.Send(ctx, nil)

	_ = f.svc.AttachImage(ctx, pngURI)
	waitFor(t, func() bool { return !f.svc.Input().OCRPending })
	_, _ = f.svc.Send(ctx, nil)

	active, _ := f.svc.Active()
	if active.Messages[1].Content != "Solve this" {
		t.Fatalf("typed text must be unchanged, got %q", active.Messages[1].Content)
	}
	if active.Messages[3].Content != "[Image Attached]" {
		t.Fatalf("expected image marker, got %q", active.Messages[3].Content)
	}
}

func TestSend_RejectsWhileRecognizing(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, func(d *ConversationDeps) {
		d.Images = &fakeExtractor{text: "x=3", gate: gate}
	})
	ctx := context.Background()
	_ = f.svc.Load(ctx)

	_ = f.svc.AttachImage(ctx, pngURI)
	if st := f.svc.Input().State; st != TurnComposing {
		t.Fatalf("expected composing state, got %s", st)
	}
	res, _ := f.svc.Send(ctx, strPtr("Solve this"))
	if res.Accepted || res.Notice != NoticeReadingImage {
		t.Fatalf("unexpected result: %+v", res)
	}

	close(gate)
	waitFor(t, func() bool { return f.svc.Input().State == TurnReady })
}

func TestAttachImage_RejectsNonImage(t *testing.T) {
	f := newFixture(t, nil)
	err := f.svc.AttachImage(context.Background(), "data:text/plain;base64,aGVsbG8=")
	if !errors.Is(err, domain.ErrInvalidAttachment) {
		t.Fatalf("expected ErrInvalidAttachment, got %v", err)
	}
	if f.svc.Input().HasImage {
		t.Fatalf("invalid attachment must not be kept")
	}
}

func TestClearImage_DiscardsPendingRecognition(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, func(d *ConversationDeps) {
		d.Images = &fakeExtractor{text: "late", gate: gate}
	})
	ctx := context.Background()
	_ = f.svc.Load(ctx)

	_ = f.svc.AttachImage(ctx, pngURI)
	f.svc.ClearImage()
	close(gate)
	f.svc.wg.Wait()

	in := f.svc.Input()
	if in.HasImage || in.OCRPending || in.State != TurnIdle {
		t.Fatalf("unexpected input after clear: %+v", in)
	}
}

func TestSend_StreamErrorKeepsPartial(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.deltas = []string{"Gravity is"}
	f.engine.err = errors.New("worker crashed")
	ctx := context.Background()
	_ = f.svc.Load(ctx)

	res, err := f.svc.Send(ctx, strPtr("Explain gravity"))
	if !errors.Is(err, domain.ErrStream) {
		t.Fatalf("expected ErrStream, got %v", err)
	}
	if !res.Accepted || res.Reply != "Gravity is" {
		t.Fatalf("unexpected result: %+v", res)
	}
	active, _ := f.svc.Active()
	stored, _, _ := f.store.GetByID(ctx, active.ID)
	if got := stored.Messages[len(stored.Messages)-1]; got.Role != domain.RoleAssistant || got.Content != "Gravity is" {
		t.Fatalf("expected partial reply persisted, got %+v", got)
	}
	notices, _ := f.events.snapshot()
	if notices[len(notices)-1] != NoticeReplyFailed {
		t.Fatalf("expected failure notice, got %v", notices)
	}

	f.engine.err = nil
	f.engine.deltas = []string{"ok"}
	if _, err := f.svc.Send(ctx, strPtr("again")); err != nil {
		t.Fatalf("a failed turn must not block the next one: %v", err)
	}
}

func TestStop_PersistsPartialReply(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.deltas = []string{"Let's"}
	f.engine.block = true
	ctx := context.Background()
	_ = f.svc.Load(ctx)

	if f.svc.Stop() {
		t.Fatalf("stop without generation should report false")
	}

	type outcome struct {
		res SendResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.svc.Send(ctx, strPtr("Explain gravity"))
		done <- outcome{res, err}
	}()
	waitFor(t, func() bool { return f.svc.Input().Generating })

	busy, _ := f.svc.Send(ctx, strPtr("another"))
	if busy.Accepted || busy.Notice != NoticeBusy {
		t.Fatalf("expected overlapping send rejected, got %+v", busy)
	}
	if !f.svc.Stop() {
		t.Fatalf("expected stop to cancel generation")
	}

	out := <-done
	if out.err != nil || !out.res.Stopped || out.res.Reply != "Let's" {
		t.Fatalf("unexpected outcome: %+v err=%v", out.res, out.err)
	}
	active, _ := f.svc.Active()
	stored, _, _ := f.store.GetByID(ctx, active.ID)
	if got := stored.Messages[len(stored.Messages)-1]; got.Content != "Let's" {
		t.Fatalf("expected truncated reply persisted, got %q", got.Content)
	}
}

func TestUpdateFeedback_Toggles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.svc.Load(ctx)
	_, _ = f.svc.Send(ctx, strPtr("Explain gravity"))

	v, err := f.svc.UpdateFeedback(2, domain.FeedbackLike)
	if err != nil || v != domain.FeedbackLike {
		t.Fatalf("unexpected first toggle: %q %v", v, err)
	}
	v, _ = f.svc.UpdateFeedback(2, domain.FeedbackLike)
	if v != domain.FeedbackNone {
		t.Fatalf("second like should clear, got %q", v)
	}
	v, _ = f.svc.UpdateFeedback(2, domain.FeedbackDislike)
	if v != domain.FeedbackDislike {
		t.Fatalf("expected dislike, got %q", v)
	}

	f.svc.writer.flush()
	active, _ := f.svc.Active()
	stored, _, _ := f.store.GetByID(ctx, active.ID)
	if stored.Messages[2].Feedback != domain.FeedbackDislike {
		t.Fatalf("expected persisted dislike, got %q", stored.Messages[2].Feedback)
	}
}

func TestUpdateFeedback_EdgeCases(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.svc.Load(context.Background())

	if _, err := f.svc.UpdateFeedback(0, "love"); !errors.Is(err, domain.ErrInvalidFeedbackType) {
		t.Fatalf("expected ErrInvalidFeedbackType, got %v", err)
	}
	if v, err := f.svc.UpdateFeedback(99, domain.FeedbackLike); err != nil || v != "" {
		t.Fatalf("out of range index should be a no-op, got %q %v", v, err)
	}
}

func TestUpdateFeedback_PersistFailureIsOnlyLogged(t *testing.T) {
	f := newFixture(t, nil)
	f.store.feedbackErr = errors.New("disk full")
	_ = f.svc.Load(context.Background())

	if _, err := f.svc.UpdateFeedback(0, domain.FeedbackLike); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc.writer.flush()
	active, _ := f.svc.Active()
	if active.Messages[0].Feedback != domain.FeedbackLike {
		t.Fatalf("in-memory feedback must survive a failed write")
	}
}

func TestUpdateFeedback_DuringFinalSaveIsKept(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.svc.Load(ctx)

	var once sync.Once
	f.store.setOnSave(func(s domain.ChatSession) {
		if len(s.Messages) == 3 && s.Messages[2].Content == "Hi there!" {
			once.Do(func() { _, _ = f.svc.UpdateFeedback(2, domain.FeedbackLike) })
		}
	})
	if _, err := f.svc.Send(ctx, strPtr("Explain gravity")); err != nil {
		t.Fatalf("send: %v", err)
	}
	f.svc.writer.flush()

	active, _ := f.svc.Active()
	if active.Messages[2].Feedback != domain.FeedbackLike {
		t.Fatalf("expected like in memory, got %q", active.Messages[2].Feedback)
	}
	stored, _, _ := f.store.GetByID(ctx, active.ID)
	if stored.Messages[2].Feedback != domain.FeedbackLike {
		t.Fatalf("expected like persisted, got %q", stored.Messages[2].Feedback)
	}
}

func TestPersist_StaleSnapshotKeepsNewerFeedback(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.svc.Load(ctx)

	stale, _ := f.svc.Active()
	if _, err := f.svc.UpdateFeedback(0, domain.FeedbackDislike); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	f.svc.persist(ctx, stale)

	stored, _, _ := f.store.GetByID(ctx, stale.ID)
	if stored.Messages[0].Feedback != domain.FeedbackDislike {
		t.Fatalf("stale snapshot overwrote feedback, got %q", stored.Messages[0].Feedback)
	}
}

func TestPersist_SkipsDeletedSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.svc.Load(ctx)
	created := f.svc.CreateSession(ctx)

	if err := f.svc.DeleteSession(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	f.svc.persist(ctx, created)

	if _, found, _ := f.store.GetByID(ctx, created.ID); found {
		t.Fatalf("deleted session was written back")
	}
}

func TestDeleteSession_LastCreatesReplacement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.svc.Load(ctx)
	only := f.svc.ActiveID()

	if err := f.svc.DeleteSession(ctx, only); err != nil {
		t.Fatalf("delete: %v", err)
	}
	sessions := f.svc.Sessions()
	if len(sessions) != 1 || sessions[0].ID == only {
		t.Fatalf("expected exactly one replacement session, got %+v", sessions)
	}
	if f.svc.ActiveID() != sessions[0].ID {
		t.Fatalf("replacement must be active")
	}
	if len(sessions[0].Messages) < 1 {
		t.Fatalf("replacement must be seeded")
	}
	if _, found, _ := f.store.GetByID(ctx, only); found {
		t.Fatalf("deleted session still stored")
	}
}

func TestDeleteSession_PromotesMostRecent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.svc.Load(ctx)
	first := f.svc.ActiveID()
	second := f.svc.CreateSession(ctx).ID
	third := f.svc.CreateSession(ctx).ID

	if err := f.svc.SelectSession(first); err != nil {
		t.Fatalf("select: %v", err)
	}
	_, _ = f.svc.Send(ctx, strPtr("bump first"))

	if err := f.svc.DeleteSession(ctx, first); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := f.svc.ActiveID(); got != third {
		t.Fatalf("expected %s promoted, got %s", third, got)
	}

	if err := f.svc.DeleteSession(ctx, second); err != nil {
		t.Fatalf("delete inactive: %v", err)
	}
	if got := f.svc.ActiveID(); got != third {
		t.Fatalf("deleting an inactive session must keep the active one, got %s", got)
	}
}

func TestSelectSession_Unknown(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.svc.Load(context.Background())
	if err := f.svc.SelectSession("missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDictation_FillsDraft(t *testing.T) {
	relay := speech.NewRelay()
	f := newFixture(t, func(d *ConversationDeps) {
		d.Dictation = speech.NewDictation(relay, nil)
	})
	_ = f.svc.Load(context.Background())

	f.svc.SetInput("Question:")
	if err := f.svc.StartDictation(); err != nil {
		t.Fatalf("start dictation: %v", err)
	}
	relay.Push("what is")
	relay.Push("what is gravity")
	if got := f.svc.Input().Text; got != "Question: what is gravity" {
		t.Fatalf("unexpected draft %q", got)
	}
	if !f.svc.Input().Dictating {
		t.Fatalf("expected dictation active")
	}
	if err := f.svc.StopDictation(); err != nil {
		t.Fatalf("stop dictation: %v", err)
	}
	if f.svc.Input().Dictating {
		t.Fatalf("expected dictation stopped")
	}
}

func TestDictation_Unavailable(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.svc.StartDictation(); !errors.Is(err, domain.ErrRecognition) {
		t.Fatalf("expected ErrRecognition, got %v", err)
	}
}

func TestSend_WithEngineAdapter(t *testing.T) {
	rt := &llm.MockRuntime{Deltas: []string{"Hi", " there", "!"}}
	gb := 8.0
	adapter := engine.NewAdapter(rt, engine.Options{Hint: engine.StaticHint(&gb)})
	defer adapter.Close()
	if err := adapter.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	f := newFixture(t, func(d *ConversationDeps) { d.Engine = adapter })
	ctx := context.Background()
	_ = f.svc.Load(ctx)

	res, err := f.svc.Send(ctx, strPtr("Explain gravity"))
	if err != nil || res.Reply != "Hi there!" {
		t.Fatalf("unexpected result: %+v err=%v", res, err)
	}
	req, ok := rt.LastRequest()
	if !ok || req.Model != engine.ModelHigh || req.Temperature != 0.3 {
		t.Fatalf("unexpected request: %+v", req)
	}
}
