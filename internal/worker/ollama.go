package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ollamaWorker talks to a local Ollama server's /api/chat endpoint.
// Used for local runs and development against small instruct models.
type ollamaWorker struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOllama creates a worker backed by a local Ollama server.
func NewOllama(cfg Config) (Worker, error) {
	if cfg.Model == "" {
		return nil, NewError(KindFatal, "ollama worker: model required", nil)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &ollamaWorker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		// Local server, but still serialize bursts: generation is
		// CPU/GPU bound and queueing beyond a few requests only adds
		// timeouts.
		limiter: rate.NewLimiter(rate.Limit(2), 2),
	}, nil
}

func (w *ollamaWorker) Model() string { return w.model }

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model      string      `json:"model"`
	Message    chatMessage `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason"`
	Error      string      `json:"error,omitempty"`
}

// Generate implements Worker.
func (w *ollamaWorker) Generate(ctx context.Context, req Request) (Response, error) {
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

	body := ollamaRequest{
		Model:    w.model,
		Messages: messages,
		Stream:   false,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": maxTokens,
		},
	}
	if req.JSONMode {
		body.Format = "json"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, NewError(KindProtocol, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		w.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return Response{}, NewError(KindFatal, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var parsed ollamaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, NewError(KindProtocol, "decode response", err)
	}
	if parsed.Error != "" {
		return Response{}, NewError(KindProtocol, fmt.Sprintf("server error: %s", parsed.Error), nil)
	}

	model := parsed.Model
	if model == "" {
		model = w.model
	}
	// Ollama reports a length-stopped generation with done=true and
	// done_reason="length", so done alone does not signal completeness.
	return Response{
		Text:      parsed.Message.Content,
		Model:     model,
		Truncated: !parsed.Done || parsed.DoneReason == "length",
	}, nil
}
