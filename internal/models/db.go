package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role is the author of a message slot.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// VariantKind records how a variant came to exist.
type VariantKind string

const (
	KindOriginal   VariantKind = "original"
	KindRegenerate VariantKind = "regenerate"
	KindEdit       VariantKind = "edit"
	KindContinue   VariantKind = "continue"
)

// Conversation represents a conversation row.
type Conversation struct {
	ID        uuid.UUID  `db:"id"`
	Title     *string    `db:"title"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// Message is a slot: the stable identity of one turn. Its content lives in
// variants; ActiveVariantID points at the current one.
type Message struct {
	ID              uuid.UUID  `db:"id"`
	ConversationID  uuid.UUID  `db:"conversation_id"`
	Role            Role       `db:"role"`
	CreatedAt       time.Time  `db:"created_at"`
	DeletedAt       *time.Time `db:"deleted_at"`
	ParentMessageID *uuid.UUID `db:"parent_message_id"` // reserved for branching
	ActiveVariantID *uuid.UUID `db:"active_variant_id"`
}

// Variant is one immutable content candidate of a slot.
type Variant struct {
	ID        uuid.UUID       `db:"id"`
	MessageID uuid.UUID       `db:"message_id"`
	Content   string          `db:"content"`
	Reasoning *string         `db:"reasoning"`
	CreatedAt time.Time       `db:"created_at"`
	Kind      VariantKind     `db:"kind"`
	Metadata  json.RawMessage `db:"metadata"`
}

// MessageWithContent is a slot joined with its active variant. Content and
// Reasoning are nil when the pointer does not resolve.
type MessageWithContent struct {
	Message
	Content      *string
	Reasoning    *string
	VariantCount int
}

// ContextEntry is one role/content pair replayed to the model.
type ContextEntry struct {
	Role    Role
	Content string
}
