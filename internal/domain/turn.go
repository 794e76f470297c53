package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is one message in the conversation. Turns are never modified after
// they are appended to a history.
type Turn struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Text       string    `json:"content"`
	Attachment string    `json:"attachment,omitempty"` // image path, user turns only
	Failed     bool      `json:"failed,omitempty"`     // synthetic assistant turn describing an inference error
	CreatedAt  time.Time `json:"created_at"`
}

// NewTurn builds a turn with a fresh ID and the current time.
func NewTurn(role Role, text string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}

// HasAttachment reports whether the turn carries an image reference.
func (t Turn) HasAttachment() bool { return t.Attachment != "" }
