package storage

import (
	"context"
	"errors"
	"time"
)

// DefaultQuota is the request allowance given to new users.
const DefaultQuota = 100

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a unique value is already taken.
	ErrConflict = errors.New("record already exists")

	// ErrDefaultModel is returned when deleting the default model.
	ErrDefaultModel = errors.New("cannot delete the default model")

	// ErrLastModel is returned when deleting the only remaining model.
	ErrLastModel = errors.New("cannot delete the last model")
)

// User is an account. PasswordHash never leaves the server.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	IsAdmin      bool       `json:"isAdmin"`
	IsActive     bool       `json:"isActive"`
	Quota        int        `json:"quota"`
	UsageCount   int        `json:"usageCount"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin"`
}

// UsagePercentage is usage as a rounded percentage of quota; 0 when the
// quota is 0.
func (u *User) UsagePercentage() int {
	if u.Quota <= 0 {
		return 0
	}
	return int(float64(u.UsageCount)/float64(u.Quota)*100 + 0.5)
}

// UserUpdate carries the admin-editable fields. Nil fields are left alone.
type UserUpdate struct {
	IsActive *bool
	Quota    *int
	IsAdmin  *bool
}

// Conversation is a titled chat thread owned by one user.
type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	UserID    int64     `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is one turn in a conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Setting is a global key/value pair.
type Setting struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UserID    *int64    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Setting keys used by the application.
const (
	SettingAppName          = "appName"
	SettingModelName        = "modelName"
	SettingOllamaURL        = "ollamaUrl"
	SettingModelDisplayName = "modelDisplayName"
	SettingSetupCompleted   = "setupCompleted"
)

// BlockedKeyword is one entry of the content filter.
type BlockedKeyword struct {
	ID        int64     `json:"id"`
	Keyword   string    `json:"keyword"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy *int64    `json:"createdBy"`
}

// Model is a selectable backend model.
type Model struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	APIEndpoint string    `json:"apiEndpoint"`
	IsDefault   bool      `json:"isDefault"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	AddedBy     *int64    `json:"addedBy"`
}

// Store is the persistence contract shared by all backends.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUser(ctx context.Context, id int64, update UserUpdate) (*User, error)
	CountUsers(ctx context.Context) (int, error)
	// IncrementUsage adds one to the user's usage counter.
	IncrementUsage(ctx context.Context, id int64) (*User, error)
	// ResetUsage zeroes every usage counter and reports how many changed.
	ResetUsage(ctx context.Context) (int64, error)
	TouchLogin(ctx context.Context, id int64) error

	ListConversations(ctx context.Context, userID int64) ([]*Conversation, error)
	CreateConversation(ctx context.Context, userID int64, title string) (*Conversation, error)
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	UpdateConversation(ctx context.Context, id int64, title string) (*Conversation, error)
	// DeleteConversation removes the conversation and its messages.
	DeleteConversation(ctx context.Context, id int64) error
	ListMessages(ctx context.Context, conversationID int64) ([]*Message, error)
	CreateMessage(ctx context.Context, conversationID int64, role, content string) (*Message, error)

	GetSetting(ctx context.Context, key string) (*Setting, error)
	PutSetting(ctx context.Context, key, value string, userID *int64) (*Setting, error)

	ListKeywords(ctx context.Context) ([]*BlockedKeyword, error)
	CreateKeyword(ctx context.Context, keyword string, createdBy *int64) (*BlockedKeyword, error)
	DeleteKeyword(ctx context.Context, id int64) error

	ListModels(ctx context.Context) ([]*Model, error)
	GetModel(ctx context.Context, id int64) (*Model, error)
	GetModelByName(ctx context.Context, name string) (*Model, error)
	GetDefaultModel(ctx context.Context) (*Model, error)
	// CreateModel inserts m. The first model, or one with IsDefault set,
	// becomes the only default.
	CreateModel(ctx context.Context, m *Model) (*Model, error)
	SetDefaultModel(ctx context.Context, id int64) (*Model, error)
	DeleteModel(ctx context.Context, id int64) error

	Ping(ctx context.Context) error
	Close() error
}
