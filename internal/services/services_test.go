package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay-backend/internal/llm"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/relay"
	"chatrelay-backend/internal/store"
	"chatrelay-backend/internal/store/sqlite"
)

// --- fixtures ---

func tickingClock() store.Clock {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func newStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:", zerolog.Nop(), sqlite.WithClock(tickingClock()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func deltaFrame(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

// fakeUpstream serves a canned stream body and records what it was asked.
type fakeUpstream struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest
	body     string
	err      error
	onOpen   func()
	open     func(ctx context.Context) io.ReadCloser
}

func (u *fakeUpstream) OpenStream(ctx context.Context, req llm.CompletionRequest) (io.ReadCloser, error) {
	u.mu.Lock()
	u.requests = append(u.requests, req)
	u.mu.Unlock()
	if u.onOpen != nil {
		u.onOpen()
	}
	if u.err != nil {
		return nil, u.err
	}
	if u.open != nil {
		return u.open(ctx), nil
	}
	return io.NopCloser(strings.NewReader(u.body)), nil
}

func (u *fakeUpstream) lastMessages(t *testing.T) []llm.ChatMessage {
	t.Helper()
	u.mu.Lock()
	defer u.mu.Unlock()
	require.NotEmpty(t, u.requests)
	return u.requests[len(u.requests)-1].Messages
}

type fakeCompleter struct {
	completion *llm.Completion
	err        error
	requests   []llm.CompletionRequest
}

func (c *fakeCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	c.requests = append(c.requests, req)
	return c.completion, c.err
}

type fakeTitles struct {
	title string
	err   error
	calls int
}

func (f *fakeTitles) GenerateTitle(_ context.Context, _, _, _ string) (string, error) {
	f.calls++
	return f.title, f.err
}

type event struct {
	Name string
	Data any
}

type recordingSink struct {
	mu     sync.Mutex
	events []event
	onSend func(name string)
}

func (s *recordingSink) Send(name string, data any) error {
	s.mu.Lock()
	s.events = append(s.events, event{Name: name, Data: data})
	s.mu.Unlock()
	if s.onSend != nil {
		s.onSend(name)
	}
	return nil
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Name)
	}
	return out
}

func (s *recordingSink) last(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Name == name {
			return s.events[i].Data
		}
	}
	return nil
}

func (s *recordingSink) text(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, e := range s.events {
		if e.Name == name {
			b.WriteString(e.Data.(relay.TextPayload).Text)
		}
	}
	return b.String()
}

type harness struct {
	store     *sqlite.SQLiteStore
	upstream  *fakeUpstream
	completer *fakeCompleter
	titles    *fakeTitles
	backend   Backend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     newStore(t),
		upstream:  &fakeUpstream{},
		completer: &fakeCompleter{},
		titles:    &fakeTitles{title: "Friendly Greeting"},
	}
	h.backend = Backend{
		Relay:     relay.New(h.upstream, llm.NewExtractor(llm.DefaultExtractionTable()), zerolog.Nop()),
		Completer: h.completer,
		Titles:    h.titles,
		Defaults:  Defaults{Model: "test-model", Temperature: 0.7, TitleGeneration: true},
	}
	return h
}

func (h *harness) slot(t *testing.T, conv uuid.UUID, role models.Role, content string) store.SlotResult {
	t.Helper()
	res, err := h.store.CreateSlotWithContent(context.Background(), store.CreateSlotParams{
		ConversationID: conv,
		Role:           role,
		Content:        content,
		Kind:           models.KindOriginal,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) conversation(t *testing.T) uuid.UUID {
	t.Helper()
	c, err := h.store.CreateConversation(context.Background(), nil)
	require.NoError(t, err)
	return c.ID
}

func (h *harness) variantCount(t *testing.T, id uuid.UUID) int {
	t.Helper()
	n, err := h.store.CountVariants(context.Background(), id)
	require.NoError(t, err)
	return n
}

// --- variant service ---

func TestRegenerateStream_ReplaysOnlyPriorTurns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(t)
	h.slot(t, conv, models.RoleUser, "Hi")
	h.slot(t, conv, models.RoleUser, "Tell me a joke")
	target := h.slot(t, conv, models.RoleAssistant, "Old answer")
	h.slot(t, conv, models.RoleUser, "Later question")

	h.upstream.body = deltaFrame("<thi") + deltaFrame("nk>a</think>Hello") + "data: [DONE]\n\n"
	svc := NewVariantService(h.store, h.backend, zerolog.Nop())
	sink := &recordingSink{}

	require.NoError(t, svc.RegenerateStream(ctx, target.MessageID, Options{StreamID: "s1"}, sink))

	assert.Equal(t, []llm.ChatMessage{
		{Role: "user", Content: "Hi"},
		{Role: "user", Content: "Tell me a joke"},
	}, h.upstream.lastMessages(t))
	assert.Equal(t, []string{"meta", "reasoning_delta", "delta", "done", "final"}, sink.names())
	assert.Equal(t, "a", sink.text(relay.EventReasoningDelta))
	assert.Equal(t, "Hello", sink.text(relay.EventDelta))

	meta := sink.last(relay.EventMeta).(models.VariantMetaEvent)
	assert.Equal(t, "s1", meta.StreamID)
	assert.Equal(t, conv, meta.ConversationID)

	final := sink.last(relay.EventFinal).(models.VariantFinalEvent)
	assert.True(t, final.Active)
	assert.Equal(t, 2, final.VariantCount)

	msg, err := h.store.GetMessage(ctx, target.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", *msg.Content)
	require.NotNil(t, msg.Reasoning)
	assert.Equal(t, "a", *msg.Reasoning)
	assert.Equal(t, final.VariantID, *msg.ActiveVariantID)

	variants, err := h.store.ListVariants(ctx, target.MessageID)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, models.KindRegenerate, variants[1].Kind)
	assert.JSONEq(t, `{"streamed":true}`, string(variants[1].Metadata))
}

func TestContinueStream_ReplaysThroughTargetWithHint(t *testing.T) {
	h := newHarness(t)
	conv := h.conversation(t)
	h.slot(t, conv, models.RoleUser, "Count to five")
	target := h.slot(t, conv, models.RoleAssistant, "1, 2, 3")

	h.upstream.body = deltaFrame(", 4, 5") + "data: [DONE]\n\n"
	svc := NewVariantService(h.store, h.backend, zerolog.Nop())
	sink := &recordingSink{}

	require.NoError(t, svc.ContinueStream(context.Background(), target.MessageID, Options{}, sink))

	assert.Equal(t, []llm.ChatMessage{
		{Role: "user", Content: "Count to five"},
		{Role: "assistant", Content: "1, 2, 3"},
		{Role: "user", Content: continueHint},
	}, h.upstream.lastMessages(t))

	variants, err := h.store.ListVariants(context.Background(), target.MessageID)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, models.KindContinue, variants[1].Kind)
	assert.Equal(t, ", 4, 5", variants[1].Content)
}

func TestVariantStream_CancelAfterFirstDeltaWritesNothing(t *testing.T) {
	h := newHarness(t)
	conv := h.conversation(t)
	h.slot(t, conv, models.RoleUser, "Hi")
	target := h.slot(t, conv, models.RoleAssistant, "Hello")

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	h.upstream.open = func(ctx context.Context) io.ReadCloser {
		go func() {
			<-ctx.Done()
			pr.CloseWithError(ctx.Err())
		}()
		go func() { _, _ = io.WriteString(pw, deltaFrame("partial")) }()
		return pr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{onSend: func(name string) {
		if name == relay.EventDelta {
			cancel()
		}
	}}

	svc := NewVariantService(h.store, h.backend, zerolog.Nop())
	err := svc.RegenerateStream(ctx, target.MessageID, Options{}, sink)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"meta", "delta"}, sink.names())
	assert.Equal(t, 1, h.variantCount(t, target.MessageID))
}

func TestVariantStream_EmptyOutputIsRejected(t *testing.T) {
	h := newHarness(t)
	conv := h.conversation(t)
	h.slot(t, conv, models.RoleUser, "Hi")
	target := h.slot(t, conv, models.RoleAssistant, "Hello")

	h.upstream.body = deltaFrame("<think>only thoughts</think>  ") + "data: [DONE]\n\n"
	svc := NewVariantService(h.store, h.backend, zerolog.Nop())
	sink := &recordingSink{}

	err := svc.RegenerateStream(context.Background(), target.MessageID, Options{}, sink)

	assert.ErrorIs(t, err, ErrEmptyResult)
	assert.Equal(t, "error", sink.names()[len(sink.names())-1])
	assert.Equal(t, "Empty response from model", sink.last(relay.EventError).(relay.ErrorPayload).Message)
	assert.Equal(t, 1, h.variantCount(t, target.MessageID))
}

func TestVariantStream_UpstreamFailureEmitsOneError(t *testing.T) {
	h := newHarness(t)
	conv := h.conversation(t)
	target := h.slot(t, conv, models.RoleAssistant, "Hello")

	h.upstream.err = &llm.StatusError{StatusCode: 503, Body: "loading model"}
	svc := NewVariantService(h.store, h.backend, zerolog.Nop())
	sink := &recordingSink{}

	err := svc.RegenerateStream(context.Background(), target.MessageID, Options{}, sink)

	assert.ErrorIs(t, err, relay.ErrUpstreamUnavailable)
	assert.Equal(t, []string{"meta", "error"}, sink.names())
	assert.Equal(t, 503, sink.last(relay.EventError).(relay.ErrorPayload).Status)
	assert.Equal(t, 1, h.variantCount(t, target.MessageID))
}

func TestVariantStream_TargetChecks(t *testing.T) {
	h := newHarness(t)
	conv := h.conversation(t)
	user := h.slot(t, conv, models.RoleUser, "Hi")
	deleted := h.slot(t, conv, models.RoleAssistant, "Gone")
	require.NoError(t, h.store.SoftDeleteMessage(context.Background(), deleted.MessageID))
	svc := NewVariantService(h.store, h.backend, zerolog.Nop())

	tests := []struct {
		name   string
		id     uuid.UUID
		err    error
		status int
	}{
		{"user slot", user.MessageID, ErrNotAssistant, 400},
		{"deleted slot", deleted.MessageID, store.ErrNotFound, 404},
		{"unknown slot", uuid.New(), store.ErrNotFound, 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			err := svc.RegenerateStream(context.Background(), tt.id, Options{}, sink)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, []string{"error"}, sink.names())
			assert.Equal(t, tt.status, sink.last(relay.EventError).(relay.ErrorPayload).Status)
		})
	}
	assert.Empty(t, h.upstream.requests, "upstream must not be called")
}

func TestVariantStream_StaleCommitStaysInactive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(t)
	h.slot(t, conv, models.RoleUser, "Hi")
	target := h.slot(t, conv, models.RoleAssistant, "Hello")

	var winner uuid.UUID
	h.upstream.body = deltaFrame("Late answer") + "data: [DONE]\n\n"
	h.upstream.onOpen = func() {
		res, err := h.store.AddVariant(ctx, store.AddVariantParams{
			VariantParams: store.VariantParams{MessageID: target.MessageID, Content: "Winner", Kind: models.KindRegenerate},
			SetActive:     true,
		})
		require.NoError(t, err)
		winner = res.VariantID
	}

	svc := NewVariantService(h.store, h.backend, zerolog.Nop())
	sink := &recordingSink{}
	require.NoError(t, svc.RegenerateStream(ctx, target.MessageID, Options{}, sink))

	final := sink.last(relay.EventFinal).(models.VariantFinalEvent)
	assert.False(t, final.Active)
	assert.Equal(t, 3, final.VariantCount)

	msg, err := h.store.GetMessage(ctx, target.MessageID)
	require.NoError(t, err)
	assert.Equal(t, winner, *msg.ActiveVariantID)
	assert.Equal(t, "Winner", *msg.Content)
}

func TestRegenerate_BlockingSplitsReasoning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(t)
	h.slot(t, conv, models.RoleUser, "Hi")
	target := h.slot(t, conv, models.RoleAssistant, "Hello")

	raw := json.RawMessage(`{"choices":[{"message":{"content":"<think>inband</think> Hey there "}}]}`)
	h.completer.completion = &llm.Completion{Content: "<think>inband</think> Hey there ", Reasoning: "provider", Raw: raw}
	svc := NewVariantService(h.store, h.backend, zerolog.Nop())

	temp := 0.2
	res, err := svc.Regenerate(ctx, target.MessageID, Options{Model: "other", Temperature: &temp})
	require.NoError(t, err)

	assert.Equal(t, "Hey there", res.AssistantText)
	require.NotNil(t, res.Reasoning)
	assert.Equal(t, "provider\ninband", *res.Reasoning)
	assert.True(t, res.Active)
	assert.Equal(t, 2, res.VariantCount)

	req := h.completer.requests[0]
	assert.Equal(t, "other", req.Model)
	assert.Equal(t, 0.2, req.Temperature)
	assert.Equal(t, []llm.ChatMessage{{Role: "user", Content: "Hi"}}, req.Messages)

	variants, err := h.store.ListVariants(ctx, target.MessageID)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(variants[1].Metadata))
}

func TestContinue_BlockingUpstreamErrorWritesNothing(t *testing.T) {
	h := newHarness(t)
	conv := h.conversation(t)
	target := h.slot(t, conv, models.RoleAssistant, "Hello")

	h.completer.err = &llm.StatusError{StatusCode: 500, Body: "boom"}
	svc := NewVariantService(h.store, h.backend, zerolog.Nop())

	_, err := svc.Continue(context.Background(), target.MessageID, Options{})
	assert.ErrorIs(t, err, relay.ErrUpstreamUnavailable)
	var se *llm.StatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, 1, h.variantCount(t, target.MessageID))
}

// --- chat service ---

func TestChatStream_NewConversationGetsTitle(t *testing.T) {
	h := newHarness(t)
	h.backend.Defaults.SystemPrompt = "Be brief."
	ctx := context.Background()

	h.upstream.body = deltaFrame("<thi") + deltaFrame("nk>a</think>Hello") + "data: [DONE]\n\n"
	svc := NewChatService(h.store, h.backend, zerolog.Nop())
	sink := &recordingSink{}

	req := models.ChatRequest{Messages: []models.ChatMessageInput{{Role: models.RoleUser, Content: "Hi"}}}
	require.NoError(t, svc.ChatStream(ctx, req, Options{StreamID: "s1"}, sink))

	assert.Equal(t, []string{"meta", "reasoning_delta", "delta", "done", "title", "final"}, sink.names())
	assert.Equal(t, []llm.ChatMessage{
		{Role: "system", Content: "Be brief."},
		{Role: "user", Content: "Hi"},
	}, h.upstream.lastMessages(t))

	meta := sink.last(relay.EventMeta).(models.ChatMetaEvent)
	require.Len(t, meta.CreatedUserMessageIDs, 1)
	assert.Equal(t, "Friendly Greeting", sink.last(relay.EventTitle).(models.TitleEvent).Title)

	conv, err := h.store.GetConversation(ctx, meta.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv.Title)
	assert.Equal(t, "Friendly Greeting", *conv.Title)

	final := sink.last(relay.EventFinal).(models.ChatFinalEvent)
	msg, err := h.store.GetMessage(ctx, final.CreatedAssistantMessageID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssistant, msg.Role)
	assert.Equal(t, "Hello", *msg.Content)
	assert.Equal(t, "a", *msg.Reasoning)

	history, err := h.store.FullHistory(ctx, meta.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, []models.ContextEntry{
		{Role: models.RoleUser, Content: "Hi"},
		{Role: models.RoleAssistant, Content: "Hello"},
	}, history)
}

func TestChatStream_ExistingConversationReplaysHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(t)
	h.slot(t, conv, models.RoleUser, "Hi")
	h.slot(t, conv, models.RoleAssistant, "Hello")

	h.upstream.body = deltaFrame("Sure") + "data: [DONE]\n\n"
	svc := NewChatService(h.store, h.backend, zerolog.Nop())
	sink := &recordingSink{}

	req := models.ChatRequest{
		ConversationID: &conv,
		Messages:       []models.ChatMessageInput{{Role: models.RoleUser, Content: "Again"}},
	}
	require.NoError(t, svc.ChatStream(ctx, req, Options{}, sink))

	assert.Equal(t, []llm.ChatMessage{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello"},
		{Role: "user", Content: "Again"},
	}, h.upstream.lastMessages(t))
	assert.NotContains(t, sink.names(), "title")
	assert.Zero(t, h.titles.calls)
}

func TestChatStream_PersistsOnlyUserInputs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.upstream.body = deltaFrame("Arr") + "data: [DONE]\n\n"
	svc := NewChatService(h.store, h.backend, zerolog.Nop())
	sink := &recordingSink{}

	req := models.ChatRequest{Messages: []models.ChatMessageInput{
		{Role: models.RoleSystem, Content: "You are a pirate."},
		{Role: models.RoleUser, Content: "Hi"},
	}}
	require.NoError(t, svc.ChatStream(ctx, req, Options{}, sink))

	assert.Equal(t, []llm.ChatMessage{
		{Role: "system", Content: "You are a pirate."},
		{Role: "user", Content: "Hi"},
	}, h.upstream.lastMessages(t))

	meta := sink.last(relay.EventMeta).(models.ChatMetaEvent)
	assert.Len(t, meta.CreatedUserMessageIDs, 1)

	history, err := h.store.FullHistory(ctx, meta.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, []models.ContextEntry{
		{Role: models.RoleUser, Content: "Hi"},
		{Role: models.RoleAssistant, Content: "Arr"},
	}, history)
}

func TestChatStream_UnknownConversation(t *testing.T) {
	h := newHarness(t)
	svc := NewChatService(h.store, h.backend, zerolog.Nop())
	sink := &recordingSink{}
	missing := uuid.New()

	err := svc.ChatStream(context.Background(), models.ChatRequest{
		ConversationID: &missing,
		Messages:       []models.ChatMessageInput{{Role: models.RoleUser, Content: "Hi"}},
	}, Options{}, sink)

	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []string{"error"}, sink.names())
}

func TestChatStream_TitleFailureIsSilent(t *testing.T) {
	h := newHarness(t)
	h.titles.err = errors.New("upstream down")
	h.upstream.body = deltaFrame("Hello") + "data: [DONE]\n\n"
	svc := NewChatService(h.store, h.backend, zerolog.Nop())
	sink := &recordingSink{}

	req := models.ChatRequest{Messages: []models.ChatMessageInput{{Role: models.RoleUser, Content: "Hi"}}}
	require.NoError(t, svc.ChatStream(context.Background(), req, Options{}, sink))
	assert.Equal(t, []string{"meta", "delta", "done", "final"}, sink.names())
}

func TestChat_Blocking(t *testing.T) {
	h := newHarness(t)
	h.completer.completion = &llm.Completion{
		Content: "<think>plan</think>Hello!",
		Raw:     json.RawMessage(`{"id":"cmpl-1"}`),
	}
	svc := NewChatService(h.store, h.backend, zerolog.Nop())

	res, err := svc.Chat(context.Background(), models.ChatRequest{
		Messages: []models.ChatMessageInput{{Role: models.RoleUser, Content: "Hi"}},
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "Hello!", res.AssistantText)
	require.NotNil(t, res.Reasoning)
	assert.Equal(t, "plan", *res.Reasoning)
	require.NotNil(t, res.Title)
	assert.Equal(t, "Friendly Greeting", *res.Title)
	assert.Len(t, res.CreatedUserMessageIDs, 1)
	assert.Equal(t, "test-model", h.completer.requests[0].Model)
}

func TestChat_BlockingEmptyResult(t *testing.T) {
	h := newHarness(t)
	h.completer.completion = &llm.Completion{Content: "   "}
	svc := NewChatService(h.store, h.backend, zerolog.Nop())

	_, err := svc.Chat(context.Background(), models.ChatRequest{
		Messages: []models.ChatMessageInput{{Role: models.RoleUser, Content: "Hi"}},
	}, Options{})
	assert.ErrorIs(t, err, ErrEmptyResult)
}

// --- conversation service ---

func TestConversationService_MessagesAndVariants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := NewConversationService(h.store, zerolog.Nop())

	created, err := svc.CreateConversation(ctx, models.CreateConversationRequest{})
	require.NoError(t, err)
	h.slot(t, created.ID, models.RoleUser, "Hi")
	answer := h.slot(t, created.ID, models.RoleAssistant, "Hello")

	added, err := h.store.AddVariant(ctx, store.AddVariantParams{
		VariantParams: store.VariantParams{MessageID: answer.MessageID, Content: "Hey", Kind: models.KindRegenerate},
		SetActive:     false,
	})
	require.NoError(t, err)

	msgs, err := svc.ListMessages(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 2, msgs[1].VariantCount)
	assert.Equal(t, "Hello", *msgs[1].Content)

	list, err := svc.ListVariants(ctx, answer.MessageID)
	require.NoError(t, err)
	require.Len(t, list.Variants, 2)
	assert.True(t, list.Variants[0].IsActive)
	assert.False(t, list.Variants[1].IsActive)

	stale := added.VariantID
	err = svc.SetActiveVariant(ctx, answer.MessageID, models.SetActiveVariantRequest{
		VariantID:               added.VariantID,
		ExpectedActiveVariantID: &stale,
	})
	assert.ErrorIs(t, err, store.ErrActiveVariantConflict)

	require.NoError(t, svc.SetActiveVariant(ctx, answer.MessageID, models.SetActiveVariantRequest{VariantID: added.VariantID}))
	got, err := svc.GetMessage(ctx, answer.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "Hey", *got.Content)

	require.NoError(t, svc.DeleteMessage(ctx, answer.MessageID))
	_, err = svc.GetMessage(ctx, answer.MessageID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err = svc.ListVariants(ctx, answer.MessageID)
	require.NoError(t, err)
	assert.Len(t, list.Variants, 2, "variants survive soft delete")
}

func TestConversationService_Lifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := NewConversationService(h.store, zerolog.Nop())

	title := "Plans"
	created, err := svc.CreateConversation(ctx, models.CreateConversationRequest{Title: &title})
	require.NoError(t, err)

	renamed := "Trip plans"
	require.NoError(t, svc.RenameConversation(ctx, created.ID, models.RenameConversationRequest{Title: &renamed}))
	list, err := svc.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Trip plans", *list[0].Title)

	require.NoError(t, svc.DeleteConversation(ctx, created.ID))
	list, err = svc.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.ListMessages(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
