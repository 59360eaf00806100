// Package openai implements provider.Provider for OpenAI-compatible Chat
// Completions backends using github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/codeact/pkg/debug"
	"github.com/rhuss/codeact/pkg/provider"
	goopenai "github.com/sashabaranov/go-openai"
)

// Config configures the adapter.
type Config struct {
	// BaseURL is the API root including the version segment,
	// e.g. "http://localhost:8000/v1". Empty means api.openai.com.
	BaseURL string

	APIKey string

	// Timeout bounds a single completion request. Default 120s.
	Timeout time.Duration

	// Name overrides the provider identifier reported in metrics.
	Name string
}

// Provider talks to an OpenAI-compatible backend.
type Provider struct {
	client *goopenai.Client
	http   *http.Client
	name   string
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Provider.
func New(cfg Config) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}

	hc := &http.Client{Timeout: cfg.Timeout}
	oc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = hc

	return &Provider{
		client: goopenai.NewClientWithConfig(oc),
		http:   hc,
		name:   cfg.Name,
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return p.name }

// Complete performs a non-streaming chat completion.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	chatReq, err := toChatRequest(req)
	if err != nil {
		return nil, err
	}

	debug.Log("provider", "chat completion",
		"model", chatReq.Model,
		"messages", len(chatReq.Messages),
		"tools", len(chatReq.Tools),
	)
	if debug.TraceIsEnabled("provider") {
		body, _ := json.MarshalIndent(chatReq, "", "  ")
		debug.Raw("provider", string(body))
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		debug.Log("provider", "chat completion failed", "error", err)
		return nil, mapError(err)
	}
	debug.Trace("provider", "chat completion received",
		"id", resp.ID,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return fromChatResponse(&resp), nil
}

// ListModels queries the backend's /models endpoint.
func (p *Provider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	models := make([]provider.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, provider.ModelInfo{ID: m.ID, Object: m.Object, OwnedBy: m.OwnedBy})
	}
	return models, nil
}

// Close releases idle connections.
func (p *Provider) Close() error {
	p.http.CloseIdleConnections()
	return nil
}

func toChatRequest(req *provider.Request) (goopenai.ChatCompletionRequest, error) {
	out := goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)),
		User:     req.User,
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}

	for i, m := range req.Messages {
		msg, err := toChatMessage(m)
		if err != nil {
			return out, fmt.Errorf("message %d: %w", i, err)
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		var params any
		if len(t.Function.Parameters) > 0 {
			params = t.Function.Parameters
		}
		out.Tools = append(out.Tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func toChatMessage(m provider.Message) (goopenai.ChatCompletionMessage, error) {
	msg := goopenai.ChatCompletionMessage{
		Role:       m.Role,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}

	switch c := m.Content.(type) {
	case nil:
	case string:
		msg.Content = c
	case []provider.ContentPart:
		for _, part := range c {
			msg.MultiContent = append(msg.MultiContent, toChatPart(part))
		}
	default:
		return msg, fmt.Errorf("unsupported content type %T", m.Content)
	}

	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
			ID:   tc.ID,
			Type: goopenai.ToolTypeFunction,
			Function: goopenai.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return msg, nil
}

func toChatPart(p provider.ContentPart) goopenai.ChatMessagePart {
	if p.Type == string(goopenai.ChatMessagePartTypeImageURL) {
		return goopenai.ChatMessagePart{
			Type:     goopenai.ChatMessagePartTypeImageURL,
			ImageURL: &goopenai.ChatMessageImageURL{URL: p.ImageURL},
		}
	}
	return goopenai.ChatMessagePart{Type: goopenai.ChatMessagePartTypeText, Text: p.Text}
}

func fromChatResponse(resp *goopenai.ChatCompletionResponse) *provider.Response {
	out := &provider.Response{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, ch := range resp.Choices {
		msg := provider.Message{
			Role:    ch.Message.Role,
			Content: fromChatContent(ch.Message),
		}
		for _, tc := range ch.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, provider.ToolCall{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: provider.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out.Choices = append(out.Choices, provider.Choice{
			Index:        ch.Index,
			Message:      msg,
			FinishReason: string(ch.FinishReason),
		})
	}
	return out
}

// fromChatContent returns structured parts when the backend sent them and
// the plain string otherwise.
func fromChatContent(m goopenai.ChatCompletionMessage) any {
	if len(m.MultiContent) == 0 {
		return m.Content
	}
	parts := make([]provider.ContentPart, 0, len(m.MultiContent))
	for _, p := range m.MultiContent {
		part := provider.ContentPart{Type: string(p.Type), Text: p.Text}
		if p.ImageURL != nil {
			part.ImageURL = p.ImageURL.URL
		}
		parts = append(parts, part)
	}
	return parts
}
