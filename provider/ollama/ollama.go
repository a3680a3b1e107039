// Package ollama adapts a local Ollama instance to the provider contract over
// its plain HTTP chat API. Local inference on modest hardware is slow, so the
// timeout is far above the hosted-backend default. Tool calling is not
// supported; the orchestrator falls back to in-band environment blocks.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hupe1980/meshbridge/core"
	"github.com/hupe1980/meshbridge/provider"
)

// Options configures the Ollama adapter.
type Options struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxMessages int
	HTTPClient  *http.Client
}

// Provider talks to an Ollama instance's /api/chat endpoint.
type Provider struct {
	client  *http.Client
	baseURL string
	opts    Options
}

var _ provider.Provider = (*Provider)(nil)

// New creates an Ollama provider.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		BaseURL:     "http://localhost:11434",
		Model:       "llama3.2:1b",
		Timeout:     300 * time.Second,
		MaxMessages: 30,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Provider{client: client, baseURL: opts.BaseURL, opts: opts}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "ollama" }

// SupportsTools implements provider.Provider.
func (p *Provider) SupportsTools() bool { return false }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

// GetResponse implements provider.Provider.
func (p *Provider) GetResponse(ctx context.Context, req provider.Request) (*provider.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	messages := p.buildMessages(req)
	body, err := json.Marshal(chatRequest{Model: p.opts.Model, Messages: messages})
	if err != nil {
		return nil, p.fail(0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, p.fail(0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.fail(0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.fail(resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, p.fail(resp.StatusCode, fmt.Errorf("ollama returned %d: %.200s", resp.StatusCode, data))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, p.fail(resp.StatusCode, fmt.Errorf("decode ollama response: %w", err))
	}
	if out.Error != "" {
		return nil, p.fail(resp.StatusCode, fmt.Errorf("ollama error: %s", out.Error))
	}
	return &provider.Response{Text: out.Message.Content}, nil
}

// buildMessages flattens the normalized turns into role/content pairs,
// folding the system prompt in front and trimming to the most recent window.
// Small local models lose coherence (and latency explodes) on long contexts.
func (p *Provider) buildMessages(req provider.Request) []chatMessage {
	var messages []chatMessage
	for _, m := range req.Messages {
		if m.Text == "" {
			continue
		}
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Text})
	}
	if p.opts.MaxMessages > 0 && len(messages) > p.opts.MaxMessages {
		messages = messages[len(messages)-p.opts.MaxMessages:]
	}
	if req.System != "" {
		messages = append([]chatMessage{{Role: "system", Content: req.System}}, messages...)
	}
	return messages
}

func (p *Provider) fail(status int, err error) error {
	return &core.ProviderError{
		Provider: "ollama",
		Kind:     core.ClassifyStatus(status),
		Status:   status,
		Err:      err,
	}
}
