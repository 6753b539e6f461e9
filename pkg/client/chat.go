package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"llamachat-hq/relay/pkg/inference"
	"llamachat-hq/relay/pkg/relay"
)

// ErrBusy is returned by SendMessage while another reply is streaming.
var ErrBusy = errors.New("a response is already being generated")

const incompleteNote = "response incomplete"

// APIError is a non-2xx answer from the relay.
type APIError struct {
	StatusCode int
	Message    string
	Keyword    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Message is an assistant reply as it builds up.
type Message struct {
	ID      string
	Role    string
	Content string

	// Done is set once the message is frozen. No update follows it.
	Done bool

	// Error is the reason the reply ended early, if it did. The same text
	// is appended to Content.
	Error string
}

// ChatConfig configures a Chat.
type ChatConfig struct {
	// BaseURL is the relay root, e.g. "http://localhost:5000".
	BaseURL string

	// HTTPClient must carry the session cookie (a cookie jar works).
	HTTPClient *http.Client

	// WS is optional. When it is authenticated at send time, replies are
	// driven by its envelopes and HTTP fragments are the fallback.
	WS *WSService

	// Model is sent with every prompt.
	Model string

	// OnUpdate is called after every change to the open message, in order
	// and never concurrently. It may call Cancel.
	OnUpdate func(Message)

	// FallbackWait is how long to wait for the WebSocket channel to finish
	// after the HTTP body has. Default: 2s.
	FallbackWait time.Duration
}

// Chat is one chat session. It has at most one open assistant message.
type Chat struct {
	config ChatConfig
	logger *slog.Logger

	mu   sync.Mutex
	open *reply

	// Updates waiting for OnUpdate. One caller at a time drains them
	// without holding mu.
	pending  []Message
	draining bool
	idle     *sync.Cond
}

// NewChat creates a chat session.
func NewChat(cfg ChatConfig) *Chat {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.FallbackWait <= 0 {
		cfg.FallbackWait = 2 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Chat{
		config: cfg,
		logger: slog.Default().With("component", "client.chat"),
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// reply is the state of the open message. Fragments are applied strictly
// by index so neither channel can apply one twice.
type reply struct {
	msg     Message
	useWS   bool
	epoch   uint64
	broken  bool
	next    int
	http    []inference.Fragment
	sawDone bool

	cancelled bool
	cancel    context.CancelFunc
	frozen    chan struct{}
}

// SendMessage streams a reply to prompt and returns it once frozen. The
// returned message carries any partial content even when err is non-nil.
func (c *Chat) SendMessage(ctx context.Context, prompt string) (*Message, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &reply{
		msg:    Message{ID: uuid.NewString(), Role: "assistant"},
		cancel: cancel,
		frozen: make(chan struct{}),
	}

	c.mu.Lock()
	if c.open != nil {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.open = r
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		// Return only once every update for r has been delivered.
		for c.draining || len(c.pending) > 0 {
			c.idle.Wait()
		}
		if c.open == r {
			c.open = nil
		}
		c.mu.Unlock()
	}()

	if ws := c.config.WS; ws != nil {
		r.epoch = ws.Epoch()
		r.useWS = ws.Authenticated()
		unsubscribe := ws.Subscribe(func(env relay.Envelope) {
			if env.RequestID == r.msg.ID {
				c.onEnvelope(r, env)
			}
		})
		defer unsubscribe()
	}
	c.notify(r, func() bool { return true })

	err := c.stream(ctx, r, prompt)
	if err != nil {
		c.mu.Lock()
		cancelled := r.cancelled
		c.mu.Unlock()
		if cancelled {
			return c.snapshot(r), nil
		}
		c.finish(r, err.Error())
		return c.snapshot(r), err
	}

	c.mu.Lock()
	live := c.wsLive(r)
	c.mu.Unlock()
	if live {
		timer := time.NewTimer(c.config.FallbackWait)
		select {
		case <-r.frozen:
		case <-timer.C:
			c.logger.Debug("websocket did not finish in time, using HTTP fragments", "message_id", r.msg.ID)
		case <-ctx.Done():
		}
		timer.Stop()
	}

	c.notify(r, func() bool {
		c.catchUp(r)
		return c.freeze(r, "")
	})
	return c.snapshot(r), nil
}

// stream posts the prompt and consumes the HTTP body.
func (c *Chat) stream(ctx context.Context, r *reply, prompt string) error {
	body, err := json.Marshal(map[string]any{
		"model":     c.config.Model,
		"prompt":    prompt,
		"stream":    true,
		"messageId": r.msg.ID,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/llama/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", r.msg.ID)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	reader := inference.NewStreamReader(resp.Body, 0)
	defer reader.Close()
	for {
		_, frag, err := reader.NextRaw(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if frag == nil {
			continue
		}
		c.notify(r, func() bool {
			r.http = append(r.http, *frag)
			if c.wsLive(r) {
				return false
			}
			return c.catchUp(r)
		})
	}
}

func (c *Chat) onEnvelope(r *reply, env relay.Envelope) {
	c.notify(r, func() bool {
		if !r.useWS || r.broken || r.msg.Done {
			return false
		}
		if c.config.WS.Epoch() != r.epoch {
			// Reconnected mid-reply; the new connection cannot vouch for
			// what the old one dropped.
			r.broken = true
			return c.catchUp(r)
		}
		switch env.Type {
		case relay.TypeStream:
			if env.Index == nil {
				return false
			}
			var frag inference.Fragment
			if err := json.Unmarshal(env.Payload, &frag); err != nil {
				return false
			}
			switch idx := *env.Index; {
			case idx < r.next:
				return false
			case idx > r.next:
				// Missed envelopes while reconnecting; HTTP takes over.
				r.broken = true
				return c.catchUp(r)
			}
			return c.apply(r, &frag)
		case relay.TypeStreamEnd:
			return c.freeze(r, "")
		case relay.TypeStreamError:
			var p relay.StreamErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			if p.Error == "" {
				p.Error = "stream failed"
			}
			return c.freeze(r, p.Error)
		}
		return false
	})
}

// wsLive reports whether the WebSocket channel still drives r. Callers
// hold c.mu.
func (c *Chat) wsLive(r *reply) bool {
	if !r.useWS || r.broken {
		return false
	}
	ws := c.config.WS
	return ws.Authenticated() && ws.Epoch() == r.epoch
}

// catchUp applies buffered HTTP fragments from the next unapplied index.
func (c *Chat) catchUp(r *reply) bool {
	changed := false
	for r.next < len(r.http) && !r.msg.Done {
		if c.apply(r, &r.http[r.next]) {
			changed = true
		}
	}
	return changed
}

func (c *Chat) apply(r *reply, frag *inference.Fragment) bool {
	if r.msg.Done {
		return false
	}
	r.msg.Content += frag.Response
	r.next++
	if frag.Done {
		r.sawDone = true
	}
	return true
}

// freeze closes the message. Without a done fragment the content is kept
// and annotated as incomplete.
func (c *Chat) freeze(r *reply, reason string) bool {
	if r.msg.Done {
		return false
	}
	if reason == "" && !r.sawDone {
		reason = incompleteNote
	}
	if reason != "" {
		r.msg.Error = reason
		r.msg.Content += "\n\n[Error: " + reason + "]"
	}
	r.msg.Done = true
	close(r.frozen)
	return true
}

func (c *Chat) finish(r *reply, reason string) {
	c.notify(r, func() bool {
		if !c.wsLive(r) {
			c.catchUp(r)
		}
		return c.freeze(r, reason)
	})
}

// notify runs fn under the state lock and queues the message for OnUpdate
// when fn changed it. If no other call is delivering, this one drains the
// queue with the lock released, so OnUpdate may re-enter the Chat. A
// re-entrant call only queues; the outer drain delivers it next.
func (c *Chat) notify(r *reply, fn func() bool) {
	c.mu.Lock()
	if fn() && c.config.OnUpdate != nil {
		c.pending = append(c.pending, r.msg)
	}
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.pending) > 0 {
		msg := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.config.OnUpdate(msg)
		c.mu.Lock()
	}
	c.draining = false
	c.idle.Broadcast()
	c.mu.Unlock()
}

func (c *Chat) snapshot(r *reply) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := r.msg
	return &msg
}

// Cancel stops updates to the open message and asks the relay to stop
// generating. It is fine to call with nothing in progress.
func (c *Chat) Cancel(ctx context.Context) error {
	c.mu.Lock()
	r := c.open
	c.mu.Unlock()

	if r != nil {
		c.notify(r, func() bool {
			r.cancelled = true
			if r.msg.Done {
				return false
			}
			r.msg.Done = true
			close(r.frozen)
			return true
		})
		r.cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/llama/cancel", strings.NewReader("{}"))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("cancel request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

func decodeAPIError(resp *http.Response) error {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error   string `json:"error"`
		Keyword string `json:"keyword"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Keyword = body.Keyword
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
