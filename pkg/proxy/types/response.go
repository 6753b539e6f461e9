package types

import (
	"time"

	"llamachat-hq/relay/pkg/storage"
)

// SuccessResponse acknowledges an action.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// MessageResponse carries a single message.
type MessageResponse struct {
	Message string `json:"message"`
}

// SetupStatus is the answer of GET /api/setup/status.
type SetupStatus struct {
	IsCompleted bool `json:"isCompleted"`
}

// AppInfo is the answer of GET /api/app-info.
type AppInfo struct {
	AppName string `json:"appName"`
}

// UserProfile is a user plus derived usage figures.
type UserProfile struct {
	*storage.User
	UsagePercentage int `json:"usagePercentage"`
}

// NewUserProfile builds the profile view of u.
func NewUserProfile(u *storage.User) *UserProfile {
	return &UserProfile{User: u, UsagePercentage: u.UsagePercentage()}
}

// ConversationDetail is a conversation with its messages.
type ConversationDetail struct {
	ID        int64              `json:"id"`
	Title     string             `json:"title"`
	UserID    int64              `json:"userId"`
	CreatedAt time.Time          `json:"createdAt"`
	Messages  []*storage.Message `json:"messages"`
}

// NewConversationDetail joins a conversation and its messages.
func NewConversationDetail(c *storage.Conversation, msgs []*storage.Message) *ConversationDetail {
	if msgs == nil {
		msgs = []*storage.Message{}
	}
	return &ConversationDetail{
		ID:        c.ID,
		Title:     c.Title,
		UserID:    c.UserID,
		CreatedAt: c.CreatedAt,
		Messages:  msgs,
	}
}
