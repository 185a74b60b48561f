// Package assist wires the conversational storefront engine together: turn
// submission, streaming reply assembly, speculative product search and
// recommendation ranking, one conversation per user identity.
package assist

import (
	"errors"
	"time"

	"github.com/vitrineai/vitrine/assist/catalog"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry in a conversation's append-only history.
type ChatMessage struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
	Products  []catalog.Product `json:"attachedProducts,omitempty"`
}

// ErrCooldown is returned when a submission lands inside the
// duplicate-submission window and is dropped without effect.
var ErrCooldown = errors.New("submission inside cooldown window")

// ErrEmptyMessage is returned for blank submissions.
var ErrEmptyMessage = errors.New("empty message")
