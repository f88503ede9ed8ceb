package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Default client configuration.
const (
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 1000

	// Rate limiter defaults: 50 requests per minute with small bursts,
	// the endpoint is a scarce shared resource.
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Config holds provider configuration for HTTP workers.
type Config struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
	Timeout int    `koanf:"timeout_seconds"`
}

// openAIWorker talks to any OpenAI-compatible chat completions endpoint
// (vLLM, llama.cpp server, hosted inference).
type openAIWorker struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOpenAICompatible creates a worker for an OpenAI-compatible endpoint.
func NewOpenAICompatible(cfg Config) (Worker, error) {
	if cfg.BaseURL == "" {
		return nil, NewError(KindFatal, "openai worker: base URL required", nil)
	}
	if cfg.Model == "" {
		return nil, NewError(KindFatal, "openai worker: model required", nil)
	}
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &openAIWorker{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}, nil
}

func (w *openAIWorker) Model() string { return w.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate implements Worker.
func (w *openAIWorker) Generate(ctx context.Context, req Request) (Response, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return Response{}, NewError(KindTimeout, "rate limiter wait", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       w.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, NewError(KindProtocol, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		w.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, NewError(KindFatal, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, NewError(KindUnavailable, "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, classifyStatus(resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, NewError(KindProtocol, "decode response", err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, NewError(KindProtocol, "response has no choices", nil)
	}

	choice := parsed.Choices[0]
	model := parsed.Model
	if model == "" {
		model = w.model
	}
	return Response{
		Text:      choice.Message.Content,
		Model:     model,
		Truncated: choice.FinishReason == "length",
	}, nil
}

// classifyStatus maps HTTP status codes onto the worker error taxonomy.
// Auth and bad-request errors are fatal; rate limits and server errors are
// transient.
func classifyStatus(status int, raw []byte) *Error {
	msg := fmt.Sprintf("status %d", status)
	var ae apiError
	if json.Unmarshal(raw, &ae) == nil && ae.Error.Message != "" {
		msg = fmt.Sprintf("status %d: %s", status, ae.Error.Message)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(KindFatal, msg, nil)
	case status == http.StatusTooManyRequests:
		return NewError(KindUnavailable, msg, nil)
	case status >= 500:
		return NewError(KindUnavailable, msg, nil)
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		return NewError(KindFatal, msg, nil)
	default:
		return NewError(KindProtocol, msg, nil)
	}
}

func classifyTransportError(err error) *Error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewError(KindTimeout, "request timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, "request timed out", err)
	}
	return NewError(KindUnavailable, "request failed", err)
}
