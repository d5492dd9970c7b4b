package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// Message roles within a conversation log.
const (
	RoleGuest = "guest"
	RoleAgent = "agent"
)

// Message is one entry in a conversation log, immutable once appended.
type Message struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"ts"`
}

// Conversation is the append-only exchange between one guest and the agent.
type Conversation struct {
	ID        string    `json:"conversation_id"`
	GuestID   string    `json:"guest_id,omitempty"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderStatusConfirmed is the only order status this engine produces; no
// further lifecycle is modeled.
const OrderStatusConfirmed = "confirmed"

// Order records a confirmed request for a menu item.
type Order struct {
	ID       string    `json:"order_id"`
	ItemID   string    `json:"item_id"`
	ItemName string    `json:"item"`
	PlacedAt time.Time `json:"placed_at"`
	Status   string    `json:"status"`
}

// Reply is the single agent response produced per guest message. Text is
// always set; at most one of the remaining payload fields is populated.
type Reply struct {
	ConversationID string   `json:"conversation_id"`
	Text           string   `json:"text"`
	NeedClarify    bool     `json:"need_clarify,omitempty"`
	Candidates     []string `json:"candidates,omitempty"`
	Conflicts      []string `json:"conflicts,omitempty"`
	Alternatives   []string `json:"alternatives,omitempty"`
	Order          *Order   `json:"order,omitempty"`
}
