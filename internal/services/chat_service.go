package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatrelay-backend/internal/llm"
	"chatrelay-backend/internal/metrics"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/relay"
	"chatrelay-backend/internal/store"
)

// ChatService runs new turns: persist the caller's messages, replay the
// conversation to the model, persist the answer.
type ChatService struct {
	store   store.Store
	backend Backend
	logger  zerolog.Logger
}

// NewChatService creates a new ChatService.
func NewChatService(store store.Store, backend Backend, logger zerolog.Logger) *ChatService {
	return &ChatService{
		store:   store,
		backend: backend,
		logger:  logger.With().Str("component", "chat").Logger(),
	}
}

// turn is a new turn after its user slots are persisted.
type turn struct {
	conv    *models.Conversation
	userIDs []uuid.UUID
	context []llm.ChatMessage
}

// begin resolves or creates the conversation, snapshots its history and
// persists the incoming messages. History is read before the inserts so the
// new messages are appended exactly once.
func (s *ChatService) begin(ctx context.Context, req models.ChatRequest) (*turn, error) {
	var (
		conv *models.Conversation
		err  error
	)
	if req.ConversationID != nil {
		conv, err = s.store.GetConversation(ctx, *req.ConversationID)
	} else {
		conv, err = s.store.CreateConversation(ctx, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}

	history, err := s.store.FullHistory(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	t := &turn{conv: conv}
	if p := strings.TrimSpace(s.backend.Defaults.SystemPrompt); p != "" {
		t.context = append(t.context, llm.ChatMessage{Role: string(models.RoleSystem), Content: p})
	}
	t.context = append(t.context, toChatMessages(history)...)

	// Only user turns are persisted. Other input roles shape this request alone.
	for _, m := range req.Messages {
		t.context = append(t.context, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
		if m.Role != models.RoleUser {
			continue
		}
		res, err := s.store.CreateSlotWithContent(ctx, store.CreateSlotParams{
			ConversationID: conv.ID,
			Role:           m.Role,
			Content:        m.Content,
			Kind:           models.KindOriginal,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to persist message: %w", err)
		}
		t.userIDs = append(t.userIDs, res.MessageID)
	}
	return t, nil
}

// commit stores the assistant answer as a new slot.
func (s *ChatService) commit(ctx context.Context, t *turn, content string, reasoning *string, metadata json.RawMessage) (uuid.UUID, error) {
	res, err := s.store.CreateSlotWithContent(ctx, store.CreateSlotParams{
		ConversationID: t.conv.ID,
		Role:           models.RoleAssistant,
		Content:        content,
		Reasoning:      reasoning,
		Kind:           models.KindOriginal,
		Metadata:       metadata,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}
	return res.MessageID, nil
}

// maybeTitle names an untitled conversation after its first exchange.
// Failures are logged and reported as no title.
func (s *ChatService) maybeTitle(ctx context.Context, t *turn, model string, req models.ChatRequest, answer string) *string {
	if !s.backend.Defaults.TitleGeneration || s.backend.Titles == nil || t.conv.Title != nil {
		return nil
	}
	n, err := s.store.CountUserMessages(ctx, t.conv.ID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("counting user messages")
		return nil
	}
	if n != 1 {
		return nil
	}

	var userText string
	for _, m := range req.Messages {
		if m.Role == models.RoleUser {
			userText = m.Content
		}
	}
	title, err := s.backend.Titles.GenerateTitle(ctx, model, userText, answer)
	if err != nil {
		metrics.TitlesGenerated.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("conversation_id", t.conv.ID.String()).Msg("title generation failed")
		return nil
	}
	if title == "" {
		metrics.TitlesGenerated.WithLabelValues("empty").Inc()
		return nil
	}
	if err := s.store.RenameConversation(ctx, t.conv.ID, &title); err != nil {
		metrics.TitlesGenerated.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Msg("saving generated title")
		return nil
	}
	metrics.TitlesGenerated.WithLabelValues("ok").Inc()
	return &title
}

// ChatStream runs a streamed turn. Events are meta, then the relay's delta,
// reasoning_delta and done, then title (when one was generated) and final.
// Every failure other than cancellation ends with exactly one error event.
func (s *ChatService) ChatStream(ctx context.Context, req models.ChatRequest, opts Options, sink relay.Sink) error {
	op := newOperation("chat", s.logger)

	t, err := s.begin(ctx, req)
	if err != nil {
		op.fail(err)
		emit(s.logger, sink, relay.EventError, errorEvent(err))
		return err
	}
	op.enter(stateContextResolved)
	emit(s.logger, sink, relay.EventMeta, models.ChatMetaEvent{
		StreamID:              opts.StreamID,
		ConversationID:        t.conv.ID,
		CreatedUserMessageIDs: t.userIDs,
	})

	op.enter(stateStreaming)
	model := s.backend.model(opts)
	res, err := s.backend.Relay.Stream(ctx, relay.Request{
		Model:       model,
		Temperature: s.backend.temperature(opts),
		Messages:    t.context,
	}, sink)
	if err != nil {
		// The relay already emitted the error event, or was cancelled.
		op.fail(err)
		return err
	}
	if strings.TrimSpace(res.Content) == "" {
		op.fail(ErrEmptyResult)
		emit(s.logger, sink, relay.EventError, errorEvent(ErrEmptyResult))
		return ErrEmptyResult
	}

	// The upstream finished; a caller leaving now must not lose the answer.
	ctx = context.WithoutCancel(ctx)
	assistantID, err := s.commit(ctx, t, res.Content, optional(res.Reasoning), streamedMetadata)
	if err != nil {
		op.fail(err)
		emit(s.logger, sink, relay.EventError, errorEvent(err))
		return err
	}
	op.enter(stateCommitted)

	if title := s.maybeTitle(ctx, t, model, req, res.Content); title != nil {
		emit(s.logger, sink, relay.EventTitle, models.TitleEvent{Title: *title})
	}
	emit(s.logger, sink, relay.EventFinal, models.ChatFinalEvent{CreatedAssistantMessageID: assistantID})
	return nil
}

// Chat runs a blocking turn.
func (s *ChatService) Chat(ctx context.Context, req models.ChatRequest, opts Options) (*models.ChatResponse, error) {
	op := newOperation("chat", s.logger)

	t, err := s.begin(ctx, req)
	if err != nil {
		op.fail(err)
		return nil, err
	}
	op.enter(stateContextResolved)

	op.enter(stateStreaming)
	model := s.backend.model(opts)
	completion, err := s.backend.Completer.Complete(ctx, llm.CompletionRequest{
		Model:       model,
		Temperature: s.backend.temperature(opts),
		Messages:    t.context,
	})
	if err != nil {
		err = upstreamError(ctx, err)
		op.fail(err)
		return nil, err
	}
	content, reasoning := splitCompletion(completion)
	if content == "" {
		op.fail(ErrEmptyResult)
		return nil, ErrEmptyResult
	}

	assistantID, err := s.commit(ctx, t, content, reasoning, completion.Raw)
	if err != nil {
		op.fail(err)
		return nil, err
	}
	op.enter(stateCommitted)

	return &models.ChatResponse{
		ConversationID:            t.conv.ID,
		CreatedUserMessageIDs:     t.userIDs,
		CreatedAssistantMessageID: assistantID,
		AssistantText:             content,
		Reasoning:                 reasoning,
		Title:                     s.maybeTitle(ctx, t, model, req, content),
	}, nil
}

// upstreamError classifies a blocking completion failure.
func upstreamError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", relay.ErrUpstreamUnavailable, err)
}
