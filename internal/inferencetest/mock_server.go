// Package inferencetest provides a scripted stand-in for the inference
// backend for use in tests.
package inferencetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Script describes how the mock answers the next generate calls.
type Script struct {
	// StatusCode for the generate response. 0 means 200.
	StatusCode int

	// Body is written as-is for non-streaming calls and for error statuses.
	Body string

	// Lines are written one per flush for streaming calls. Each entry is
	// written verbatim, so include the trailing newline where wanted.
	Lines []string

	// Delay is slept before every line.
	Delay time.Duration

	// Gates, when set, blocks before writing line i until Gates[i] is
	// closed (nil entries do not block).
	Gates map[int]chan struct{}

	// DropAfter, when positive, hijacks and closes the connection after
	// that many lines without finishing the chunked body.
	DropAfter int
}

// Server is a mock inference backend.
type Server struct {
	server *httptest.Server

	mu          sync.Mutex
	script      Script
	requests    []map[string]any
	cancelCalls int
	cancelCode  int
}

// NewServer starts a mock backend answering on /api/generate,
// /api/generate/cancel and /.
func NewServer() *Server {
	s := &Server{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", s.handleGenerate)
	mux.HandleFunc("/api/generate/cancel", s.handleCancel)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Ollama is running")
	})
	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the generate endpoint URL.
func (s *Server) URL() string {
	return s.server.URL + "/api/generate"
}

// BaseURL returns the server root.
func (s *Server) BaseURL() string {
	return s.server.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.server.CloseClientConnections()
	s.server.Close()
}

// SetScript replaces the script used for subsequent calls.
func (s *Server) SetScript(script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = script
}

// SetCancelStatus makes /cancel answer with code.
func (s *Server) SetCancelStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCode = code
}

// Requests returns the decoded bodies of all generate calls so far.
func (s *Server) Requests() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.requests))
	copy(out, s.requests)
	return out
}

// CancelCalls returns how many times /cancel was hit.
func (s *Server) CancelCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelCalls
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	s.requests = append(s.requests, body)
	script := s.script
	s.mu.Unlock()

	if script.StatusCode != 0 && script.StatusCode != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(script.StatusCode)
		_, _ = io.WriteString(w, script.Body)
		return
	}

	stream, _ := body["stream"].(bool)
	if !stream {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, script.Body)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for i, line := range script.Lines {
		if script.DropAfter > 0 && i >= script.DropAfter {
			dropConnection(w)
			return
		}
		if gate := script.Gates[i]; gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if script.Delay > 0 {
			time.Sleep(script.Delay)
		}
		if _, err := io.WriteString(w, line); err != nil {
			return
		}
		flusher.Flush()
	}

	if script.DropAfter > 0 && script.DropAfter >= len(script.Lines) {
		dropConnection(w)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.cancelCalls++
	code := s.cancelCode
	s.mu.Unlock()

	if code != 0 && code != http.StatusOK {
		http.Error(w, `{"error":"cancel failed"}`, code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"status":"cancelled"}`)
}

// dropConnection closes the TCP connection mid-body so the client sees an
// unexpected EOF instead of a clean end of stream.
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}

// Line renders one NDJSON fragment line.
func Line(model, response string, done bool) string {
	data, _ := json.Marshal(map[string]any{
		"model":    model,
		"response": response,
		"done":     done,
	})
	return fmt.Sprintf("%s\n", data)
}

// HelloLines is the canonical three-fragment stream producing "Hello".
func HelloLines(model string) []string {
	return []string{
		Line(model, "He", false),
		Line(model, "llo", false),
		Line(model, "", true),
	}
}
