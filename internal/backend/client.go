// Package backend is the HTTP client for the agent-chat endpoint.
//
// The endpoint is a black box: it accepts a message plus conversation
// identity and answers with a text/event-stream body. This package only
// handles transport: opening the request, bounding its lifetime, decoding
// non-2xx error bodies and handing the raw stream to the caller. Decoding the
// stream itself belongs to internal/sse.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/parley0/parley/internal/log"
)

// DefaultSendTimeout is the ceiling on one streaming request. Providers may
// hold the connection open well past logical completion; the reader is
// cancelled explicitly on complete, this timeout is the backstop.
const DefaultSendTimeout = 4 * time.Minute

// Attachment references an uploaded file included with a user message.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url"`
}

// SendRequest is the JSON body posted to the chat backend. Structured options
// replace positional arguments: every optional flag is an explicit field.
type SendRequest struct {
	Message          string         `json:"message"`
	ConversationID   string         `json:"conversationId"`
	AgentSlug        string         `json:"agentSlug"`
	Attachments      []Attachment   `json:"attachments,omitempty"`
	ForcedTool       string         `json:"forcedTool,omitempty"`
	Silent           bool           `json:"silent,omitempty"`
	ToolServerResult map[string]any `json:"toolServerResult,omitempty"`
	DOMResult        map[string]any `json:"domResult,omitempty"`
}

// Error is a backend-reported request failure (non-2xx response).
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// Stream is one open response stream. Close cancels the underlying request
// context as well as closing the body: providers can keep the connection
// alive past logical completion, and an un-cancelled reader leaves the turn
// permanently "streaming". Close is idempotent.
type Stream struct {
	body      io.ReadCloser
	cancel    context.CancelFunc
	span      trace.Span
	closeOnce sync.Once
}

// Read reads raw stream bytes.
func (s *Stream) Read(p []byte) (int, error) {
	return s.body.Read(p)
}

// Close cancels the request and releases the connection.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.body.Close()
		if s.span != nil {
			s.span.End()
		}
	})
	return nil
}

// Client talks to the chat backend.
type Client struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     log.Logger
}

// Options configures a Client.
type Options struct {
	// URL of the agent-chat endpoint. Required.
	URL string
	// SendTimeout bounds one streaming request. Zero selects DefaultSendTimeout.
	SendTimeout time.Duration
	// SendsPerMinute rate-limits sends; zero disables limiting.
	SendsPerMinute int
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// New creates a backend client.
func New(opts Options, logger log.Logger) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// No overall client timeout: streaming bodies outlive any sane
		// request timeout. The per-send context carries the ceiling.
		httpClient = &http.Client{}
	}
	var limiter *rate.Limiter
	if opts.SendsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.SendsPerMinute)/60.0), opts.SendsPerMinute)
	}
	return &Client{
		url:        opts.URL,
		timeout:    opts.SendTimeout,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// Send posts a message and returns the open event stream. The returned
// Stream's lifetime is bounded by the send timeout; the caller must Close it
// on every path.
func (c *Client) Send(ctx context.Context, req SendRequest) (*Stream, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	ctx, span := otel.Tracer("parley/backend").Start(ctx, "backend.send",
		trace.WithAttributes(
			attribute.String("conversation.id", req.ConversationID),
			attribute.String("agent.slug", req.AgentSlug),
			attribute.Bool("silent", req.Silent),
		))

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)

	httpReq, err := http.NewRequestWithContext(sendCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		cancel()
		span.End()
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		span.End()
		return nil, fmt.Errorf("send to backend: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer span.End()
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", resp.StatusCode))
		return nil, c.decodeError(resp)
	}

	c.logger.Debug("stream opened",
		"conversation_id", req.ConversationID,
		"silent", req.Silent,
	)
	return &Stream{body: resp.Body, cancel: cancel, span: span}, nil
}

// decodeError reads a non-2xx JSON body of the shape {"error": "..."}.
func (c *Client) decodeError(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return &Error{Status: resp.StatusCode}
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		return &Error{Status: resp.StatusCode, Message: string(bytes.TrimSpace(raw))}
	}
	return &Error{Status: resp.StatusCode, Message: payload.Error}
}
