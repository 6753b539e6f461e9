package inference

import (
	"encoding/json"
	"time"
)

// GenerateRequest is the body sent to the backend's generate endpoint.
// Optional sampling parameters are omitted when nil so the backend applies
// its own defaults.
type GenerateRequest struct {
	// Model is the backend model identifier (e.g., "deepseek-coder-v2").
	Model string `json:"model"`

	// Prompt is the user text to complete.
	Prompt string `json:"prompt"`

	// Stream selects NDJSON streaming (true) or a single JSON object (false).
	Stream bool `json:"stream"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// Fragment is one decoded line of a streaming response.
type Fragment struct {
	// Model echoes the model that produced the fragment.
	Model string `json:"model"`

	// Response is the incremental text.
	Response string `json:"response"`

	// Done marks the terminal fragment. Nothing is valid after it.
	Done bool `json:"done"`

	// Raw is the exact line received from the backend, trailing newline
	// included when one was present.
	Raw []byte `json:"-"`

	// Index is the zero-based position of the fragment in its stream,
	// counting only lines that decoded successfully.
	Index int `json:"-"`
}

// Config holds the settings for a Client.
type Config struct {
	// Endpoint is the full generate URL (e.g., "http://localhost:11434/api/generate").
	Endpoint string

	// Timeout bounds non-streaming calls and the time to receive response
	// headers on streaming calls. Streams themselves are bounded only by ctx.
	Timeout time.Duration

	// MaxRetries applies to non-streaming calls only.
	MaxRetries int

	// HealthCheckInterval is how often the backend is probed (0 disables).
	HealthCheckInterval time.Duration

	// MaxLineBytes caps a single NDJSON line. Longer lines are a stream error.
	MaxLineBytes int

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// Health describes the backend's observed health.
type Health struct {
	IsHealthy             bool      `json:"healthy"`
	LastCheck             time.Time `json:"last_check"`
	ConsecutiveFailures   int       `json:"consecutive_failures"`
	LastError             string    `json:"last_error,omitempty"`
	LastSuccessfulRequest time.Time `json:"last_successful_request"`
	TotalRequests         int64     `json:"total_requests"`
	FailedRequests        int64     `json:"failed_requests"`
}

// decodeFragment parses one line into a Fragment.
func decodeFragment(line []byte) (*Fragment, error) {
	var f Fragment
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
