// Package gemini adapts the Google Gemini API to the provider contract,
// including native function calling.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/genai"

	"github.com/hupe1980/meshbridge/core"
	"github.com/hupe1980/meshbridge/provider"
)

// Options configures the Gemini adapter.
type Options struct {
	Model           string
	MaxOutputTokens int32
	APIKey          string
	Timeout         time.Duration
}

// Provider wraps the Gemini API behind the provider.Provider interface.
type Provider struct {
	client *genai.Client
	opts   Options
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Gemini provider using the official client.
func New(ctx context.Context, optFns ...func(o *Options)) (*Provider, error) {
	opts := Options{
		Model:           "gemini-2.5-flash",
		MaxOutputTokens: 1024,
		Timeout:         30 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, classify(err)
	}
	return &Provider{client: client, opts: opts}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "gemini" }

// SupportsTools implements provider.Provider.
func (p *Provider) SupportsTools() bool { return true }

// GetResponse implements provider.Provider.
func (p *Provider) GetResponse(ctx context.Context, req provider.Request) (*provider.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: p.opts.MaxOutputTokens,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, def := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 def.Name,
				Description:          def.Description,
				ParametersJsonSchema: def.Parameters,
			}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.opts.Model, buildContents(req.Messages), cfg)
	if err != nil {
		return nil, classify(err)
	}

	out := &provider.Response{Text: resp.Text()}
	for _, fc := range resp.FunctionCalls() {
		args, merr := json.Marshal(fc.Args)
		if merr != nil {
			args = nil
		}
		out.ToolCalls = append(out.ToolCalls, core.ToolCallRequest{
			ID:        fc.ID,
			Name:      fc.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// buildContents converts normalized turns to Gemini contents. Function calls
// ride in model turns, function responses in the following user turn.
func buildContents(msgs []provider.Message) []*genai.Content {
	var contents []*genai.Content
	for _, m := range msgs {
		role := genai.RoleUser
		if m.Role == core.RoleAssistant {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		if m.Text != "" {
			parts = append(parts, genai.NewPartFromText(m.Text))
		}
		for _, c := range m.ToolCalls {
			args := map[string]any{}
			if len(c.Arguments) > 0 {
				// Best effort; an unparsable payload becomes an empty arg map.
				_ = json.Unmarshal(c.Arguments, &args)
			}
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   c.ID,
				Name: c.Name,
				Args: args,
			}})
		}
		for _, r := range m.ToolResults {
			key := "output"
			if r.IsError {
				key = "error"
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       r.ID,
				Name:     r.Name,
				Response: map[string]any{key: r.Content},
			}})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func classify(err error) error {
	status := 0
	var apierr genai.APIError
	if errors.As(err, &apierr) {
		status = apierr.Code
	}
	return &core.ProviderError{
		Provider: "gemini",
		Kind:     core.ClassifyStatus(status),
		Status:   status,
		Err:      err,
	}
}
