package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const (
	defaultOllamaBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.1:8b"
)

// Ollama talks to a local Ollama server over /api/chat. It implements
// domain.Generator and domain.StreamingGenerator.
type Ollama struct {
	apiBase      string
	defaultModel string
	client       *http.Client
	logger       *slog.Logger
}

type OllamaConfig struct {
	APIBase      string
	DefaultModel string
	Timeout      time.Duration
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	return NewOllamaWithClient(cfg, SharedHTTPClient(cfg.Timeout))
}

func NewOllamaWithClient(cfg OllamaConfig, client *http.Client) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultOllamaBase
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ollamaDefaultModel
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Ollama{
		apiBase:      strings.TrimRight(cfg.APIBase, "/"),
		defaultModel: cfg.DefaultModel,
		client:       client,
		logger:       cfg.Logger,
	}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health probe got status %d", resp.StatusCode)
	}
	return nil
}

// ollamaMsg matches one message in the Ollama /api/chat schema.
type ollamaMsg struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
}

func (o *Ollama) buildMessages(req domain.GenerateRequest) []ollamaMsg {
	msgs := make([]ollamaMsg, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, ollamaMsg{Role: "system", Content: req.System})
	}
	for _, h := range req.History {
		msgs = append(msgs, ollamaMsg{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, ollamaMsg{Role: "user", Content: req.Prompt, Images: req.Images})
	return msgs
}

// Complete runs one non-streaming generation. Transient failures are
// retried with backoff.
func (o *Ollama) Complete(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}
	body := ollamaChatRequest{Model: model, Messages: o.buildMessages(req), Stream: false}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	metrics.GenerationRequests.Inc()
	start := time.Now()

	resp, err := DoWithRetry(ctx, o.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/api/chat", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama answered %d: %s", resp.StatusCode, string(respBody))
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	elapsed := time.Since(start)
	metrics.GenerationLatency.Observe(elapsed.Seconds())
	return &domain.GenerateResponse{
		Content:   out.Message.Content,
		LatencyMs: elapsed.Milliseconds(),
	}, nil
}

// Stream runs one streaming generation, writing each NDJSON chunk to out as
// a fragment. out is closed before returning. A stream that ends without
// the done marker is reported as an error so the caller can fail the turn.
func (o *Ollama) Stream(ctx context.Context, req domain.GenerateRequest, out chan<- domain.Fragment) error {
	defer close(out)

	model := req.Model
	if model == "" {
		model = o.defaultModel
	}
	body := ollamaChatRequest{Model: model, Messages: o.buildMessages(req), Stream: true}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	metrics.GenerationRequests.Inc()
	start := time.Now()

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(respBody))
	}

	decoder := json.NewDecoder(resp.Body)
	for decoder.More() {
		var chunk ollamaChatResponse
		if err := decoder.Decode(&chunk); err != nil {
			return fmt.Errorf("stream decode: %w", err)
		}

		if chunk.Message.Content != "" {
			select {
			case out <- domain.Fragment{Text: chunk.Message.Content}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if chunk.Done {
			metrics.GenerationLatency.Observe(time.Since(start).Seconds())
			select {
			case out <- domain.Fragment{Done: true}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}
	}

	return fmt.Errorf("ollama stream ended without completion")
}
