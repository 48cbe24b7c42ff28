package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"
)

const (
	DefaultURL     = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel   = "openai/gpt-3.5-turbo"
	DefaultTimeout = 30 * time.Second

	maxErrorBody = 512
)

var (
	// ErrTimeout means the completion API did not answer within the configured bound.
	ErrTimeout = errors.New("upstream timeout")
	// ErrUnauthorized means the completion API rejected our API key.
	ErrUnauthorized = errors.New("upstream rejected credentials")
	// ErrMalformedResponse means a success status came back without the completion text.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// StatusError carries a non-success status returned by the completion API.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Message)
}

// Completer produces a completion for a single user message.
type Completer interface {
	Complete(ctx context.Context, message string) (string, error)
}

// Observer is notified about every upstream call. Outcome is one of
// ok, timeout, unauthorized, status_error, malformed or transport_error.
type Observer interface {
	ObserveUpstream(outcome string, duration time.Duration)
}

type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls an OpenAI compatible chat/completions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *logrus.Logger
	observer   Observer
	parsers    fastjson.ParserPool
}

func NewClient(cfg Config, httpClient *http.Client, logger *logrus.Logger, observer Observer) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		observer:   observer,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// Complete sends message as a single user turn. One attempt, no retries.
func (c *Client) Complete(ctx context.Context, message string) (string, error) {
	start := time.Now()
	resp, outcome, err := c.complete(ctx, message)
	if c.observer != nil {
		c.observer.ObserveUpstream(outcome, time.Since(start))
	}
	return resp, err
}

func (c *Client) complete(ctx context.Context, message string) (string, string, error) {
	payload, err := json.Marshal(completionRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: message}},
	})
	if err != nil {
		return "", "transport_error", fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", "transport_error", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	c.logger.WithFields(logrus.Fields{
		"model": c.cfg.Model,
		"url":   c.cfg.URL,
	}).Debug("sending completion request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(reqCtx, err) {
			return "", "timeout", fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
		}
		return "", "transport_error", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(reqCtx, err) {
			return "", "timeout", fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
		}
		return "", "transport_error", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", "unauthorized", ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", "status_error", &StatusError{Status: resp.StatusCode, Message: c.errorMessage(body)}
	}

	content, err := c.content(body)
	if err != nil {
		return "", "malformed", err
	}
	return content, "ok", nil
}

func (c *Client) content(body []byte) (string, error) {
	p := c.parsers.Get()
	defer c.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	field := v.Get("choices", "0", "message", "content")
	if field == nil || field.Type() != fastjson.TypeString {
		return "", fmt.Errorf("%w: choices[0].message.content missing", ErrMalformedResponse)
	}
	content, err := field.StringBytes()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return string(content), nil
}

// errorMessage prefers the error.message field of an OpenAI style error body.
func (c *Client) errorMessage(body []byte) string {
	p := c.parsers.Get()
	defer c.parsers.Put(p)

	if v, err := p.ParseBytes(body); err == nil {
		if msg := v.GetStringBytes("error", "message"); len(msg) > 0 {
			return string(msg)
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
