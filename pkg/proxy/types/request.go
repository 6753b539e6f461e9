package types

import "strings"

// GenerateRequest is the body of POST /api/llama/generate.
type GenerateRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Stream      bool     `json:"stream"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
	TopK        *int     `json:"topK,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`

	// MessageID is the client's id for the assistant message. When set it
	// becomes the request id carried by every WebSocket envelope.
	MessageID string `json:"messageId,omitempty"`
}

// Credentials is the body of register and login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate requires both fields.
func (c *Credentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" || c.Password == "" {
		return fieldError("Username and password are required")
	}
	return nil
}

// LLMSettings is the body of PUT /api/settings/llm and the answer of GET.
type LLMSettings struct {
	ModelName        string `json:"modelName"`
	OllamaURL        string `json:"ollamaUrl"`
	ModelDisplayName string `json:"modelDisplayName"`
}

// Validate requires every field.
func (s *LLMSettings) Validate() error {
	if s.ModelName == "" || s.OllamaURL == "" || s.ModelDisplayName == "" {
		return fieldError("All fields are required")
	}
	return nil
}

// SetupRequest is the body of POST /api/setup.
type SetupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	AppName  string `json:"appName"`
	LLMSettings
}

// Validate requires every field.
func (s *SetupRequest) Validate() error {
	if s.Username == "" || s.Password == "" || s.AppName == "" {
		return fieldError("All fields are required")
	}
	return s.LLMSettings.Validate()
}

// ConversationRequest is the body of conversation create and rename.
type ConversationRequest struct {
	Title string `json:"title"`
}

// MessageRequest is the body of POST /api/conversations/{id}/messages.
type MessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// KeywordRequest is the body of POST /api/admin/blocked-keywords.
type KeywordRequest struct {
	Keyword string `json:"keyword"`
}

// UserUpdateRequest is the body of PUT /api/admin/users/{id}. Absent
// fields are left unchanged.
type UserUpdateRequest struct {
	IsActive *bool `json:"isActive,omitempty"`
	Quota    *int  `json:"quota,omitempty"`
	IsAdmin  *bool `json:"isAdmin,omitempty"`
}

// ModelRequest is the body of POST /api/admin/models.
type ModelRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	APIEndpoint string `json:"apiEndpoint"`
	IsActive    *bool  `json:"isActive,omitempty"`
}

// Validate requires a name and display name.
func (m *ModelRequest) Validate() error {
	if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.DisplayName) == "" {
		return fieldError("Name and display name are required")
	}
	return nil
}

// FieldError is a request body that decoded but is missing a value.
type FieldError string

func (e FieldError) Error() string { return string(e) }

func fieldError(msg string) error { return FieldError(msg) }
