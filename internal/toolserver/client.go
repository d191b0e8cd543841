// Package toolserver is the client for the local automation endpoint that
// drives a real browser or desktop on the user's machine.
//
// Only the dispatch contract lives here: action calls, result normalization
// and the process-wide automation session id. The tool server's own
// automation internals (selectors, drivers) are its business.
package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parley0/parley/internal/log"
)

// Browser action names accepted by the tool server.
const (
	ActionBrowserStart = "browser_start"
	ActionClick        = "click"
	ActionType         = "type"
	ActionScroll       = "scroll"
	ActionKeypress     = "keypress"
	ActionNavigate     = "navigate"
	ActionScreenshot   = "screenshot"
	ActionDOMTree      = "dom_tree"
	ActionTrace        = "trace"
	ActionConsole      = "console"
	ActionNetwork      = "network"

	ActionVerifyElement = "verify_element"
	ActionVerifyText    = "verify_text"
	ActionVerifyURL     = "verify_url"
	ActionVerifyTitle   = "verify_title"

	ActionDesktopExecute = "desktop_execute"
)

// DOMTreeTimeout bounds the structural snapshot call, which walks the whole
// page and can be slow on heavy DOMs.
const DOMTreeTimeout = 30 * time.Second

// Result is the normalized outcome of any tool-server call.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Failure builds a failed Result from an error message.
func Failure(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// RetryConfig configures transient-failure retries for tool-server calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns sensible defaults for a localhost automation
// server.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// retryablePatterns are matched case-insensitively against err.Error().
// The tool server exposes no typed errors across the HTTP boundary, so
// string matching is the only signal available; this mirrors the documented
// exception for provider errors.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary",
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Client calls the tool server over HTTP. One action executes at a time per
// stream, so the client carries no per-call state beyond the session slot.
type Client struct {
	baseURL    string
	timeout    time.Duration
	retry      RetryConfig
	httpClient *http.Client
	slot       *Slot
	logger     log.Logger
}

// NewClient creates a tool-server client. slot is required: every call
// threads the current automation session id through it.
func NewClient(baseURL string, timeout time.Duration, slot *Slot, logger log.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("tool server URL is required")
	}
	if slot == nil {
		return nil, fmt.Errorf("session slot is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		retry:      DefaultRetryConfig(),
		httpClient: &http.Client{},
		slot:       slot,
		logger:     logger,
	}, nil
}

// Call executes one action. The session id is resolved in priority order:
// explicit "session_id" param, then the process-wide slot, else absent. A
// browser_start result that carries a session id overwrites the slot
// (last-establish-wins).
func (c *Client) Call(ctx context.Context, action string, params map[string]any) *Result {
	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	if _, ok := payload["session_id"]; !ok {
		if id := c.slot.Get(); id != "" {
			payload["session_id"] = id
		}
	}

	timeout := c.timeout
	if action == ActionDOMTree {
		timeout = DOMTreeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.post(ctx, action, payload)
	if err != nil {
		c.logger.Warn("tool server call failed", "action", action, "error", err)
		return Failure("tool server %s: %v", action, err)
	}

	if action == ActionBrowserStart && result.Success {
		if id, ok := result.Data["session_id"].(string); ok && id != "" {
			if err := c.slot.Set(id); err != nil {
				c.logger.Warn("failed to persist automation session id", "error", err)
			}
		}
	}
	return result
}

// SessionID returns the currently established automation session id, or "".
func (c *Client) SessionID() string {
	return c.slot.Get()
}

// post performs the HTTP round-trip with exponential backoff on transient
// failures.
func (c *Client) post(ctx context.Context, action string, payload map[string]any) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	url := c.baseURL + "/" + action

	var lastErr error
	delay := c.retry.InitialInterval
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		result, err := c.doOnce(ctx, url, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryableError(err) || attempt == c.retry.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, c.retry.MaxInterval)
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, url string, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	// Normalize: the server answers {success, ...actionSpecificFields}.
	// Everything besides success/error lands in Data.
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := &Result{Data: map[string]any{}}
	for k, v := range flat {
		switch k {
		case "success":
			b, _ := v.(bool)
			result.Success = b
		case "error":
			s, _ := v.(string)
			result.Error = s
		default:
			result.Data[k] = v
		}
	}
	if len(result.Data) == 0 {
		result.Data = nil
	}
	return result, nil
}
