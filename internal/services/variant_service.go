package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatrelay-backend/internal/llm"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/relay"
	"chatrelay-backend/internal/store"
)

// VariantService produces new variants of existing assistant slots.
type VariantService struct {
	store   store.Store
	backend Backend
	logger  zerolog.Logger
}

// NewVariantService creates a new VariantService.
func NewVariantService(store store.Store, backend Backend, logger zerolog.Logger) *VariantService {
	return &VariantService{
		store:   store,
		backend: backend,
		logger:  logger.With().Str("component", "variants").Logger(),
	}
}

// target is a slot with its replay context fixed.
type target struct {
	message  *models.MessageWithContent
	kind     models.VariantKind
	context  []llm.ChatMessage
	expected *uuid.UUID
}

// resolve loads the slot and the context to replay. Regenerate replays the
// history strictly before the slot; continue replays it through the slot
// plus an instruction turn.
func (s *VariantService) resolve(ctx context.Context, kind models.VariantKind, messageID uuid.UUID) (*target, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if msg.DeletedAt != nil {
		return nil, fmt.Errorf("failed to get message: %w", store.ErrNotFound)
	}
	if msg.Role != models.RoleAssistant {
		return nil, ErrNotAssistant
	}

	var history []models.ContextEntry
	if kind == models.KindContinue {
		history, err = s.store.HistoryThrough(ctx, messageID)
	} else {
		history, err = s.store.HistoryBefore(ctx, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	messages := toChatMessages(history)
	if kind == models.KindContinue {
		messages = append(messages, llm.ChatMessage{Role: string(models.RoleUser), Content: continueHint})
	}
	return &target{
		message:  msg,
		kind:     kind,
		context:  messages,
		expected: msg.ActiveVariantID,
	}, nil
}

// commit appends the variant and flips the pointer only if it still
// references the variant observed when the context was resolved.
func (s *VariantService) commit(ctx context.Context, t *target, content string, reasoning *string, metadata json.RawMessage) (store.AddVariantResult, error) {
	res, err := s.store.AddVariant(ctx, store.AddVariantParams{
		VariantParams: store.VariantParams{
			MessageID: t.message.ID,
			Content:   content,
			Reasoning: reasoning,
			Kind:      t.kind,
			Metadata:  metadata,
		},
		SetActive:        true,
		ExpectedActiveID: t.expected,
	})
	if err != nil {
		return res, fmt.Errorf("failed to add variant: %w", err)
	}
	if err := s.store.TouchConversation(ctx, t.message.ConversationID); err != nil {
		return res, fmt.Errorf("failed to touch conversation: %w", err)
	}
	if !res.Active {
		s.logger.Info().
			Str("message_id", t.message.ID.String()).
			Str("variant_id", res.VariantID.String()).
			Msg("active variant changed during generation, new variant left inactive")
	}
	return res, nil
}

// RegenerateStream streams a replacement for an assistant slot.
func (s *VariantService) RegenerateStream(ctx context.Context, messageID uuid.UUID, opts Options, sink relay.Sink) error {
	return s.stream(ctx, models.KindRegenerate, messageID, opts, sink)
}

// ContinueStream streams a continuation of an assistant slot. The new
// variant holds only the continuation text.
func (s *VariantService) ContinueStream(ctx context.Context, messageID uuid.UUID, opts Options, sink relay.Sink) error {
	return s.stream(ctx, models.KindContinue, messageID, opts, sink)
}

func (s *VariantService) stream(ctx context.Context, kind models.VariantKind, messageID uuid.UUID, opts Options, sink relay.Sink) error {
	op := newOperation(string(kind), s.logger.With().Str("message_id", messageID.String()).Logger())

	t, err := s.resolve(ctx, kind, messageID)
	if err != nil {
		op.fail(err)
		emit(s.logger, sink, relay.EventError, errorEvent(err))
		return err
	}
	op.enter(stateContextResolved)
	emit(s.logger, sink, relay.EventMeta, models.VariantMetaEvent{
		StreamID:       opts.StreamID,
		MessageID:      t.message.ID,
		ConversationID: t.message.ConversationID,
	})

	op.enter(stateStreaming)
	res, err := s.backend.Relay.Stream(ctx, relay.Request{
		Model:       s.backend.model(opts),
		Temperature: s.backend.temperature(opts),
		Messages:    t.context,
	}, sink)
	if err != nil {
		op.fail(err)
		return err
	}
	if strings.TrimSpace(res.Content) == "" {
		op.fail(ErrEmptyResult)
		emit(s.logger, sink, relay.EventError, errorEvent(ErrEmptyResult))
		return ErrEmptyResult
	}

	added, err := s.commit(context.WithoutCancel(ctx), t, res.Content, optional(res.Reasoning), streamedMetadata)
	if err != nil {
		op.fail(err)
		emit(s.logger, sink, relay.EventError, errorEvent(err))
		return err
	}
	op.enter(stateCommitted)
	emit(s.logger, sink, relay.EventFinal, models.VariantFinalEvent{
		MessageID:    t.message.ID,
		VariantID:    added.VariantID,
		VariantCount: added.VariantCount,
		Active:       added.Active,
	})
	return nil
}

// Regenerate produces a replacement synchronously.
func (s *VariantService) Regenerate(ctx context.Context, messageID uuid.UUID, opts Options) (*models.VariantResultResponse, error) {
	return s.complete(ctx, models.KindRegenerate, messageID, opts)
}

// Continue produces a continuation synchronously.
func (s *VariantService) Continue(ctx context.Context, messageID uuid.UUID, opts Options) (*models.VariantResultResponse, error) {
	return s.complete(ctx, models.KindContinue, messageID, opts)
}

func (s *VariantService) complete(ctx context.Context, kind models.VariantKind, messageID uuid.UUID, opts Options) (*models.VariantResultResponse, error) {
	op := newOperation(string(kind), s.logger.With().Str("message_id", messageID.String()).Logger())

	t, err := s.resolve(ctx, kind, messageID)
	if err != nil {
		op.fail(err)
		return nil, err
	}
	op.enter(stateContextResolved)

	op.enter(stateStreaming)
	completion, err := s.backend.Completer.Complete(ctx, llm.CompletionRequest{
		Model:       s.backend.model(opts),
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

	added, err := s.commit(ctx, t, content, reasoning, completion.Raw)
	if err != nil {
		op.fail(err)
		return nil, err
	}
	op.enter(stateCommitted)

	return &models.VariantResultResponse{
		MessageID:     t.message.ID,
		VariantID:     added.VariantID,
		VariantCount:  added.VariantCount,
		Active:        added.Active,
		AssistantText: content,
		Reasoning:     reasoning,
	}, nil
}
