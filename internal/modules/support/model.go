// README: Support conversation model; one conversation per user with independent read flags per side.
package support

import (
	"time"

	"foodhub/internal/apperr"
	"foodhub/internal/types"
)

type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Side is either end of a conversation.
type Side string

const (
	SideUser  Side = "user"
	SideAdmin Side = "admin"
)

func SideOf(role types.Role) Side {
	if role.IsAdmin() {
		return SideAdmin
	}
	return SideUser
}

type Conversation struct {
	ID             types.ID   `json:"id"`
	UserID         types.ID   `json:"userId"`
	UserRole       types.Role `json:"userRole"`
	AssignedAdmin  *types.ID  `json:"assignedAdmin,omitempty"`
	Status         Status     `json:"status"`
	UnreadForUser  int        `json:"unreadForUser"`
	UnreadForAdmin int        `json:"unreadForAdmin"`
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type Message struct {
	ID             types.ID   `json:"id"`
	ConversationID types.ID   `json:"conversationId"`
	SenderID       types.ID   `json:"senderId"`
	SenderRole     types.Role `json:"senderRole"`
	Body           string     `json:"body"`
	ReadByUser     bool       `json:"readByUser"`
	ReadByAdmin    bool       `json:"readByAdmin"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// ReadUpdate is broadcast after a side marks the conversation read.
type ReadUpdate struct {
	ConversationID types.ID `json:"conversationId"`
	Side           Side     `json:"side"`
	ReaderID       types.ID `json:"readerId"`
	Count          int      `json:"count"`
}

const (
	EventNewMessage         = "new-message"
	EventReadUpdate         = "read-update"
	EventConversationClosed = "conversation-closed"

	MaxBodyLength = 4000
)

var (
	ErrNotFound   = apperr.NotFound("conversation not found")
	ErrForbidden  = apperr.Forbidden("not your conversation")
	ErrBadRequest = apperr.BadRequest("invalid message")
	ErrClosed     = apperr.Conflict("conversation already closed")
)
