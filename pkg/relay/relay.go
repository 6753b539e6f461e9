package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"llamachat-hq/relay/pkg/inference"
	"llamachat-hq/relay/pkg/storage"
)

// Request is one generation request as accepted from a client.
type Request struct {
	Model  string
	Prompt string
	Stream bool

	Temperature *float64
	TopP        *float64
	TopK        *int
	MaxTokens   *int

	// RequestID correlates the HTTP response with its WebSocket envelopes.
	// A new id is generated when empty.
	RequestID string
}

// Validate checks the required fields.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" || strings.TrimSpace(r.Prompt) == "" {
		field := "model"
		if strings.TrimSpace(r.Model) != "" {
			field = "prompt"
		}
		return &ValidationError{Field: field, Message: "Model and prompt are required"}
	}
	return nil
}

func (r *Request) upstream() *inference.GenerateRequest {
	return &inference.GenerateRequest{
		Model:       r.Model,
		Prompt:      r.Prompt,
		Stream:      r.Stream,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		TopK:        r.TopK,
		MaxTokens:   r.MaxTokens,
	}
}

// Result summarises a finished relay.
type Result struct {
	RequestID string

	// Lines is the number of lines written to the HTTP caller, malformed
	// ones included.
	Lines int

	// Fragments is the number of decoded fragments broadcast.
	Fragments int

	// Skipped is the number of malformed lines kept off the WebSocket channel.
	Skipped int

	// Deliveries counts envelopes delivered to WebSocket connections.
	Deliveries int

	// Done is true when the backend sent its terminal fragment.
	Done bool

	// Body is the upstream response of a non-streaming request.
	Body json.RawMessage

	// User is the caller after the quota charge.
	User *storage.User
}

// Upstream is the inference backend.
type Upstream interface {
	Stream(ctx context.Context, req *inference.GenerateRequest) (*inference.StreamReader, error)
	Generate(ctx context.Context, req *inference.GenerateRequest) (json.RawMessage, error)
}

// Broadcaster delivers a payload to every authenticated connection of a user.
type Broadcaster interface {
	Broadcast(userID string, payload []byte, excludeID string) int
}

// QuotaCharger checks and charges the caller's quota.
type QuotaCharger interface {
	Charge(ctx context.Context, userID int64) (*storage.User, error)
}

// KeywordMatcher finds blocked keywords in a prompt.
type KeywordMatcher interface {
	Match(text string) (string, bool)
}

// Sink is the HTTP side of a streaming relay.
type Sink interface {
	// Begin commits the response headers. It is called once the backend
	// has accepted the request and before any fragment is written.
	Begin() error

	// WriteFragment writes one raw line and flushes it to the caller.
	WriteFragment(raw []byte) error
}

// Observer receives relay events. Used for metrics.
type Observer interface {
	LineRelayed(malformed bool)
	FirstFragment(latency time.Duration)
	RelayFinished(outcome string, duration time.Duration)
}

// Relay outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
	OutcomeRejected  = "rejected"
)

// Service runs generation requests.
type Service struct {
	upstream    Upstream
	broadcaster Broadcaster
	quota       QuotaCharger
	keywords    KeywordMatcher
	observer    Observer
	tracer      trace.Tracer
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithQuota charges every accepted request against q.
func WithQuota(q QuotaCharger) Option {
	return func(s *Service) { s.quota = q }
}

// WithKeywords refuses prompts matched by m.
func WithKeywords(m KeywordMatcher) Option {
	return func(s *Service) { s.keywords = m }
}

// WithObserver reports relay events to o.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// NewService creates a relay service.
func NewService(upstream Upstream, broadcaster Broadcaster, opts ...Option) *Service {
	s := &Service{
		upstream:    upstream,
		broadcaster: broadcaster,
		tracer:      otel.Tracer("llamachat/relay"),
		logger:      slog.Default().With("component", "relay"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// admit runs the checks that precede the upstream call: validation, the
// keyword check and the quota charge. It returns the charged user.
func (s *Service) admit(ctx context.Context, req *Request, userID int64) (*storage.User, error) {
	if err := req.Validate(); err != nil {
		s.finish(OutcomeRejected, time.Now())
		return nil, err
	}
	if s.keywords != nil {
		if kw, blocked := s.keywords.Match(req.Prompt); blocked {
			s.logger.Info("prompt refused, blocked keyword",
				"user_id", userID,
				"request_id", req.RequestID,
				"keyword", kw,
			)
			s.finish(OutcomeRejected, time.Now())
			return nil, &BlockedError{Keyword: kw}
		}
	}
	if s.quota == nil {
		return nil, nil
	}
	user, err := s.quota.Charge(ctx, userID)
	if err != nil {
		s.finish(OutcomeRejected, time.Now())
		return nil, err
	}
	return user, nil
}

// Relay admits req and runs it. For a streaming request every line from
// the backend is written to sink as received and each decoded fragment is
// broadcast to the user's WebSocket connections. A non-streaming request
// returns the backend's single JSON object in Result.Body and leaves sink
// untouched.
//
// When an error is returned after sink.Begin, the HTTP response has
// already started and the error must not be written to it.
func (s *Service) Relay(ctx context.Context, req *Request, userID int64, sink Sink) (*Result, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "relay.generate",
		trace.WithAttributes(
			attribute.String("llamachat.request_id", req.RequestID),
			attribute.String("llamachat.model", req.Model),
			attribute.Bool("llamachat.stream", req.Stream),
			attribute.Int64("llamachat.user_id", userID),
		),
	)
	defer span.End()

	user, err := s.admit(ctx, req, userID)
	if err != nil {
		span.SetStatus(codes.Error, "rejected")
		return nil, err
	}

	result := &Result{RequestID: req.RequestID, User: user}
	if !req.Stream {
		return s.generate(ctx, span, req, result, start)
	}

	err = s.stream(ctx, req, userID, sink, result, start)
	span.SetAttributes(
		attribute.Int("llamachat.fragments", result.Fragments),
		attribute.Int("llamachat.skipped", result.Skipped),
		attribute.Int("llamachat.deliveries", result.Deliveries),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.finish(OutcomeError, start)
		return result, err
	}
	s.finish(OutcomeCompleted, start)
	return result, nil
}

func (s *Service) generate(ctx context.Context, span trace.Span, req *Request, result *Result, start time.Time) (*Result, error) {
	body, err := s.upstream.Generate(ctx, req.upstream())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("generation failed",
			"request_id", req.RequestID,
			"model", req.Model,
			"error", err,
		)
		s.finish(OutcomeError, start)
		return result, err
	}
	result.Body = body
	result.Done = true
	s.finish(OutcomeCompleted, start)
	return result, nil
}

func (s *Service) stream(ctx context.Context, req *Request, userID int64, sink Sink, result *Result, start time.Time) error {
	uid := strconv.FormatInt(userID, 10)

	stream, err := s.upstream.Stream(ctx, req.upstream())
	if err != nil {
		s.logger.Error("failed to open upstream stream",
			"request_id", req.RequestID,
			"model", req.Model,
			"error", err,
		)
		s.broadcastError(uid, req.RequestID, err, result)
		return err
	}
	defer stream.Close()

	if err := sink.Begin(); err != nil {
		sinkErr := &SinkError{Cause: err}
		s.broadcastError(uid, req.RequestID, sinkErr, result)
		return sinkErr
	}

	for {
		raw, frag, err := stream.NextRaw(ctx)
		if errors.Is(err, io.EOF) {
			result.Skipped = stream.Skipped()
			result.Deliveries += s.broadcast(uid, req.RequestID, TypeStreamEnd, StreamEndPayload{Completed: true}, nil)
			s.logger.Info("stream relayed",
				"request_id", req.RequestID,
				"user_id", userID,
				"model", req.Model,
				"lines", result.Lines,
				"fragments", result.Fragments,
				"skipped", result.Skipped,
				"done", result.Done,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
		if err != nil {
			result.Skipped = stream.Skipped()
			s.logger.Warn("stream ended with error",
				"request_id", req.RequestID,
				"user_id", userID,
				"fragments", result.Fragments,
				"error", err,
			)
			s.broadcastError(uid, req.RequestID, err, result)
			return err
		}

		if result.Lines == 0 && s.observer != nil {
			s.observer.FirstFragment(time.Since(start))
		}
		if err := sink.WriteFragment(raw); err != nil {
			result.Skipped = stream.Skipped()
			sinkErr := &SinkError{Cause: err}
			s.logger.Warn("client went away mid-stream",
				"request_id", req.RequestID,
				"user_id", userID,
				"fragments", result.Fragments,
				"error", err,
			)
			s.broadcastError(uid, req.RequestID, sinkErr, result)
			return sinkErr
		}
		result.Lines++
		if s.observer != nil {
			s.observer.LineRelayed(frag == nil)
		}

		if frag == nil {
			continue
		}
		result.Fragments++
		if frag.Done {
			result.Done = true
		}
		index := frag.Index
		result.Deliveries += s.broadcast(uid, req.RequestID, TypeStream, json.RawMessage(bytes.TrimSpace(raw)), &index)
	}
}

func (s *Service) broadcastError(uid, requestID string, err error, result *Result) {
	result.Deliveries += s.broadcast(uid, requestID, TypeStreamError, StreamErrorPayload{Error: err.Error()}, nil)
}

func (s *Service) broadcast(uid, requestID, typ string, payload any, index *int) int {
	if s.broadcaster == nil {
		return 0
	}
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		s.logger.Error("failed to encode envelope", "type", typ, "error", err)
		return 0
	}
	env.RequestID = requestID
	env.Index = index

	data, err := env.Encode()
	if err != nil {
		s.logger.Error("failed to encode envelope", "type", typ, "error", err)
		return 0
	}
	return s.broadcaster.Broadcast(uid, data, "")
}

func (s *Service) finish(outcome string, start time.Time) {
	if s.observer != nil {
		s.observer.RelayFinished(outcome, time.Since(start))
	}
}
