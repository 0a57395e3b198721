package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/deck-builder/internal/config"
	"github.com/iliyamo/deck-builder/internal/model"
)

const (
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 8 * time.Second
	maxErrorBody          = 2 << 10
)

// Run statuses reported by the provider.
const (
	runQueued     = "queued"
	runInProgress = "in_progress"
	runCancelling = "cancelling"
	runCompleted  = "completed"
)

// AssistantsClient talks to an OpenAI compatible Assistants API.  Each deck
// gets one thread; the syllabus assistant answers the first message and the
// deck assistant answers one message per module on the same thread.
type AssistantsClient struct {
	cfg        config.AIConfig
	httpClient *http.Client
	log        *zap.Logger

	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	sleep          func(context.Context, time.Duration) error
}

// Option customizes the client.
type Option func(*AssistantsClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *AssistantsClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the logger used for retries and run outcomes.
func WithLogger(log *zap.Logger) Option {
	return func(c *AssistantsClient) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(base, max time.Duration) Option {
	return func(c *AssistantsClient) {
		c.retryBaseDelay = base
		c.retryMaxDelay = max
	}
}

// WithSleeper overrides how waits are performed (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *AssistantsClient) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewAssistantsClient builds a client from cfg.
func NewAssistantsClient(cfg config.AIConfig, opts ...Option) *AssistantsClient {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	c := &AssistantsClient{
		cfg:            cfg,
		httpClient:     &http.Client{Timeout: cfg.HTTPTimeout},
		log:            zap.NewNop(),
		retryBaseDelay: defaultRetryBaseDelay,
		retryMaxDelay:  defaultRetryMaxDelay,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateSyllabus opens a new thread, asks the syllabus assistant for a
// preview and returns it with the thread as the conversation handle.
func (c *AssistantsClient) GenerateSyllabus(ctx context.Context, req SyllabusRequest) (model.Syllabus, Conversation, error) {
	threadID, err := c.createThread(ctx)
	if err != nil {
		return model.Syllabus{}, "", generationError("create thread", err)
	}
	reply, err := c.converse(ctx, threadID, c.cfg.SyllabusAssistant, SyllabusPrompt(req))
	if err != nil {
		return model.Syllabus{}, Conversation(threadID), generationError("syllabus", err)
	}
	var syllabus model.Syllabus
	if err := DecodeJSON(reply, &syllabus); err != nil {
		return model.Syllabus{}, Conversation(threadID), generationError("syllabus", err)
	}
	return syllabus, Conversation(threadID), nil
}

// GenerateModuleContent asks the deck assistant for the content of module on
// the deck's existing thread.
func (c *AssistantsClient) GenerateModuleContent(ctx context.Context, deck DeckContext, module model.SyllabusModule, conv Conversation) (model.ModuleContent, error) {
	if conv == "" {
		return model.ModuleContent{}, generationError("module", errors.New("missing conversation"))
	}
	prompt, err := ModulePrompt(deck, module)
	if err != nil {
		return model.ModuleContent{}, generationError("module prompt", err)
	}
	reply, err := c.converse(ctx, string(conv), c.cfg.DeckAssistant, prompt)
	if err != nil {
		return model.ModuleContent{}, generationError("module "+module.Title, err)
	}
	var content model.ModuleContent
	if err := DecodeJSON(reply, &content); err != nil {
		return model.ModuleContent{}, generationError("module "+module.Title, err)
	}
	if strings.TrimSpace(content.Module) == "" {
		content.Module = module.Title
	}
	return content, nil
}

// converse posts prompt on the thread, runs assistantID and returns the text
// of the reply produced by that run.
func (c *AssistantsClient) converse(ctx context.Context, threadID, assistantID, prompt string) (string, error) {
	if err := c.addMessage(ctx, threadID, prompt); err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	runID, err := c.createRun(ctx, threadID, assistantID)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	if err := c.waitRun(ctx, threadID, runID); err != nil {
		return "", err
	}
	return c.latestReply(ctx, threadID, runID)
}

type idResponse struct {
	ID string `json:"id"`
}

type runResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		RunID   string `json:"run_id"`
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

func (c *AssistantsClient) createThread(ctx context.Context) (string, error) {
	var out idResponse
	if err := c.do(ctx, http.MethodPost, "/threads", map[string]any{}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("thread id missing in response")
	}
	return out.ID, nil
}

func (c *AssistantsClient) addMessage(ctx context.Context, threadID, content string) error {
	body := map[string]any{"role": "user", "content": content}
	return c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", body, nil)
}

func (c *AssistantsClient) createRun(ctx context.Context, threadID, assistantID string) (string, error) {
	var out runResponse
	body := map[string]any{"assistant_id": assistantID}
	if err := c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/runs", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("run id missing in response")
	}
	return out.ID, nil
}

// waitRun polls the run until it reaches a terminal status.  Anything other
// than completed, including the run timeout, yields ErrRunNotCompleted.
func (c *AssistantsClient) waitRun(ctx context.Context, threadID, runID string) error {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	pollCtx := ctx
	if c.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, c.cfg.RunTimeout)
		defer cancel()
	}
	for {
		var run runResponse
		if err := c.do(pollCtx, http.MethodGet, path, nil, &run); err != nil {
			if ctx.Err() == nil && pollCtx.Err() != nil {
				c.cancelRun(ctx, threadID, runID)
				return fmt.Errorf("%w: timed out after %s", ErrRunNotCompleted, c.cfg.RunTimeout)
			}
			return fmt.Errorf("poll run: %w", err)
		}
		switch run.Status {
		case runCompleted:
			return nil
		case runQueued, runInProgress, runCancelling:
		default:
			msg := run.Status
			if run.LastError != nil && run.LastError.Message != "" {
				msg += ": " + run.LastError.Message
			}
			c.log.Warn("assistant run ended without completing",
				zap.String("thread_id", threadID),
				zap.String("run_id", runID),
				zap.String("status", run.Status))
			return fmt.Errorf("%w: %s", ErrRunNotCompleted, msg)
		}
		if err := c.sleep(pollCtx, c.cfg.PollInterval); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.cancelRun(ctx, threadID, runID)
			return fmt.Errorf("%w: timed out after %s", ErrRunNotCompleted, c.cfg.RunTimeout)
		}
	}
}

// cancelRun is best effort; the provider may already have finished the run.
func (c *AssistantsClient) cancelRun(ctx context.Context, threadID, runID string) {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, map[string]any{}, nil); err != nil {
		c.log.Debug("cancel run", zap.String("run_id", runID), zap.Error(err))
	}
}

// latestReply returns the newest assistant message written by runID.
func (c *AssistantsClient) latestReply(ctx context.Context, threadID, runID string) (string, error) {
	q := url.Values{}
	q.Set("run_id", runID)
	q.Set("order", "desc")
	q.Set("limit", "10")
	var list messageList
	if err := c.do(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID)+"/messages?"+q.Encode(), nil, &list); err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	for _, msg := range list.Data {
		if msg.Role != "assistant" || (msg.RunID != "" && msg.RunID != runID) {
			continue
		}
		var b strings.Builder
		for _, part := range msg.Content {
			if part.Type == "text" && part.Text != nil {
				b.WriteString(part.Text.Value)
			}
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			return text, nil
		}
	}
	return "", ErrEmptyReply
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("assistants api: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// retryable reports whether the request may be sent again.  A 429 is never
// processed by the provider; a 5xx may have been, so it is only retried for
// requests that are safe to repeat.
func (e *httpStatusError) retryable(idempotent bool) bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return idempotent && e.StatusCode >= 500
}

// idempotent reports whether repeating the request leaves the thread
// unchanged.  Messages and runs append to the shared conversation.
func idempotent(method, path string) bool {
	return method == http.MethodGet || path == "/threads" || strings.HasSuffix(path, "/cancel")
}

// do sends one API request, retrying 429 responses and, for idempotent
// requests, 5xx responses.  out may be nil.
func (c *AssistantsClient) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}
	for attempt := 0; ; attempt++ {
		err := c.once(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		var statusErr *httpStatusError
		if !errors.As(err, &statusErr) || !statusErr.retryable(idempotent(method, path)) || attempt >= c.cfg.MaxRetries {
			return err
		}
		delay := c.retryDelay(attempt, statusErr.RetryAfter)
		c.log.Debug("assistants api retry",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", statusErr.StatusCode),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (c *AssistantsClient) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       string(b),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *AssistantsClient) retryDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if c.retryMaxDelay > 0 && retryAfter > c.retryMaxDelay {
			return c.retryMaxDelay
		}
		return retryAfter
	}
	delay := c.retryBaseDelay << attempt
	if delay <= 0 || (c.retryMaxDelay > 0 && delay > c.retryMaxDelay) {
		delay = c.retryMaxDelay
	}
	return delay
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
