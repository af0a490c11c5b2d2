package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"chatrelay-backend/internal/models"
)

var (
	// ErrNotFound is returned when a conversation, message or variant is absent or deleted.
	ErrNotFound = errors.New("record not found")
	// ErrVariantMismatch is returned when a variant does not belong to the slot it is applied to.
	ErrVariantMismatch = errors.New("variant does not belong to message")
	// ErrActiveVariantConflict is returned when the active variant is no longer the expected one.
	ErrActiveVariantConflict = errors.New("active variant changed")
	// ErrAlreadyInitialized is returned by CreateFirstVariant on a slot that already has content.
	ErrAlreadyInitialized = errors.New("message already has an active variant")
)

// CreateSlotParams contains parameters for creating a slot and its first variant.
type CreateSlotParams struct {
	ConversationID  uuid.UUID
	Role            models.Role
	Content         string
	Reasoning       *string
	Kind            models.VariantKind
	ParentMessageID *uuid.UUID
	Metadata        json.RawMessage
}

// SlotResult identifies a newly created slot and its first variant.
type SlotResult struct {
	MessageID uuid.UUID
	VariantID uuid.UUID
}

// VariantParams contains parameters for a new variant.
type VariantParams struct {
	MessageID uuid.UUID
	Content   string
	Reasoning *string
	Kind      models.VariantKind
	Metadata  json.RawMessage
}

// AddVariantParams extends VariantParams with pointer handling. When
// SetActive is true and ExpectedActiveID is non-nil, the pointer only moves
// if it still references ExpectedActiveID.
type AddVariantParams struct {
	VariantParams
	SetActive        bool
	ExpectedActiveID *uuid.UUID
}

// AddVariantResult reports whether the appended variant became active.
type AddVariantResult struct {
	VariantID    uuid.UUID
	Active       bool
	VariantCount int
}

// ConversationStore tracks conversation metadata.
type ConversationStore interface {
	CreateConversation(ctx context.Context, title *string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	RenameConversation(ctx context.Context, id uuid.UUID, title *string) error
	TouchConversation(ctx context.Context, id uuid.UUID) error
	SoftDeleteConversation(ctx context.Context, id uuid.UUID) error
	CountUserMessages(ctx context.Context, conversationID uuid.UUID) (int, error)
}

// MessageStore manages slots.
type MessageStore interface {
	// CreateSlotWithContent atomically creates a slot with its first variant
	// and touches the owning conversation.
	CreateSlotWithContent(ctx context.Context, arg CreateSlotParams) (SlotResult, error)
	// GetMessage returns the slot joined with its active variant. Deleted
	// slots are returned with DeletedAt set.
	GetMessage(ctx context.Context, id uuid.UUID) (*models.MessageWithContent, error)
	SoftDeleteMessage(ctx context.Context, id uuid.UUID) error
	// ListActiveForConversation returns non-deleted slots in order. A slot
	// whose pointer does not resolve has nil Content.
	ListActiveForConversation(ctx context.Context, conversationID uuid.UUID) ([]models.MessageWithContent, error)
}

// VariantStore manages immutable variants and the active pointer.
type VariantStore interface {
	CreateFirstVariant(ctx context.Context, arg VariantParams) (uuid.UUID, error)
	AddVariant(ctx context.Context, arg AddVariantParams) (AddVariantResult, error)
	ListVariants(ctx context.Context, messageID uuid.UUID) ([]models.Variant, error)
	// SetActiveVariant validates that variantID belongs to messageID. A
	// non-nil expected must match the current pointer.
	SetActiveVariant(ctx context.Context, messageID, variantID uuid.UUID, expected *uuid.UUID) error
	CountVariants(ctx context.Context, messageID uuid.UUID) (int, error)
}

// ContextStore reconstructs the history replayed to the model. All three
// skip deleted slots and empty active content, ordered by creation.
type ContextStore interface {
	FullHistory(ctx context.Context, conversationID uuid.UUID) ([]models.ContextEntry, error)
	HistoryBefore(ctx context.Context, messageID uuid.UUID) ([]models.ContextEntry, error)
	HistoryThrough(ctx context.Context, messageID uuid.UUID) ([]models.ContextEntry, error)
}

// Store defines the interface for database operations.
// This allows for testing against SQLite and running against PostgreSQL.
type Store interface {
	ConversationStore
	MessageStore
	VariantStore
	ContextStore
	Ping(ctx context.Context) error
	Close() error
}

// NewID returns a time-ordered UUIDv7. Ids created later sort later, which
// breaks timestamp ties in history order.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// Clock returns the current time. Stores accept one so tests can control ordering.
type Clock func() time.Time

// SystemClock is the default Clock, in UTC with microsecond precision to
// match PostgreSQL timestamps.
func SystemClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
