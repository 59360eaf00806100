package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rhuss/codeact/pkg/debug"
	"github.com/rhuss/codeact/pkg/observability"
	"github.com/rhuss/codeact/pkg/provider"
	"github.com/rhuss/codeact/pkg/tools"
)

// errNoChoices is the cause reported when the model returns nothing.
var errNoChoices = errors.New("model returned no choices")

// Orchestrator assembles the prompt context and drives model invocation.
// It holds no per-conversation state and is safe for concurrent use.
type Orchestrator struct {
	provider provider.Provider
	cfg      Config
}

// New creates an Orchestrator. The provider must not be nil.
func New(p provider.Provider, cfg Config) (*Orchestrator, error) {
	if p == nil {
		return nil, fmt.Errorf("agent: provider must not be nil")
	}
	if cfg.StreamDelay == 0 {
		cfg.StreamDelay = DefaultStreamDelay
	}
	return &Orchestrator{provider: p, cfg: cfg}, nil
}

// History returns the message list sent to the model for c: the system
// instruction followed by c.Turns in their original order.
func History(c Context) []provider.Message {
	msgs := make([]provider.Message, 0, len(c.Turns)+1)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: SystemPrompt})
	for _, t := range c.Turns {
		msgs = append(msgs, provider.Message{Role: string(t.Role), Content: t.Content})
	}
	return msgs
}

// Run invokes the model and returns its reply. Any model fault is logged
// with full detail and returned as an *OrchestrationError.
func (o *Orchestrator) Run(ctx context.Context, c Context) (*Response, error) {
	resp, err := o.run(ctx, c)
	if err != nil {
		oe := &OrchestrationError{Op: OpRun, ConversationID: c.ConversationID, Err: err}
		slog.Error("agent run failed",
			"conversation_id", c.ConversationID,
			"user_id", c.UserID,
			"provider", o.provider.Name(),
			"model", o.cfg.Model,
			"error", err,
		)
		return nil, oe
	}
	return resp, nil
}

func (o *Orchestrator) run(ctx context.Context, c Context) (*Response, error) {
	req := &provider.Request{
		Model:       o.cfg.Model,
		Messages:    History(c),
		Temperature: o.cfg.Temperature,
		User:        c.UserID,
	}
	if o.cfg.MaxTokens > 0 {
		maxTokens := o.cfg.MaxTokens
		req.MaxTokens = &maxTokens
	}

	debug.Log("agent", "run",
		"conversation_id", c.ConversationID,
		"turns", len(c.Turns),
		"tool_loop", o.cfg.toolLoop(),
	)

	if !o.cfg.toolLoop() {
		msg, err := o.complete(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Response{Content: Content(msg.Content), Finished: true}, nil
	}
	return o.loop(ctx, req)
}

// loop re-invokes the model with tool results until it answers without
// calling a tool or MaxToolTurns rounds of tool calls have been made.
func (o *Orchestrator) loop(ctx context.Context, req *provider.Request) (*Response, error) {
	req.Tools = o.offeredTools()

	var records []ToolCallRecord
	for turn := 0; ; turn++ {
		msg, err := o.complete(ctx, req)
		if err != nil {
			return nil, err
		}

		if len(msg.ToolCalls) == 0 {
			return &Response{Content: Content(msg.Content), ToolCalls: records, Finished: true}, nil
		}
		if turn >= o.cfg.MaxToolTurns {
			slog.Warn("agent tool loop exhausted", "turns", turn, "pending_calls", len(msg.ToolCalls))
			return &Response{Content: Content(msg.Content), ToolCalls: records, Finished: false}, nil
		}

		issued := uniqueCallIDs(msg.ToolCalls)
		calls := make([]tools.ToolCall, len(issued))
		for i, tc := range issued {
			calls[i] = tools.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		}

		filtered := tools.FilterAllowedTools(calls, o.cfg.AllowedTools)
		results := o.execute(ctx, filtered.Allowed)
		results = append(results, filtered.Rejected...)

		byID := make(map[string]tools.ToolResult, len(results))
		for _, r := range results {
			byID[r.CallID] = r
		}

		req.Messages = append(req.Messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   msg.Content,
			ToolCalls: issued,
		})
		for _, call := range calls {
			r := byID[call.ID]
			req.Messages = append(req.Messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    r.Output,
				ToolCallID: call.ID,
			})
			records = append(records, ToolCallRecord{
				ID:        call.ID,
				Name:      call.Name,
				Arguments: call.Arguments,
				Output:    r.Output,
				IsError:   r.IsError,
			})
		}
	}
}

// uniqueCallIDs returns a copy of calls in which every call has an ID that
// no other call of the batch shares. Some OpenAI-compatible servers send
// empty or repeated IDs; results are paired with calls by ID.
func uniqueCallIDs(calls []provider.ToolCall) []provider.ToolCall {
	out := slices.Clone(calls)
	seen := make(map[string]bool, len(out))
	for i := range out {
		if out[i].ID == "" || seen[out[i].ID] {
			out[i].ID = "call_" + uuid.NewString()
		}
		seen[out[i].ID] = true
	}
	return out
}

// execute runs calls one after another in the order the model issued them.
func (o *Orchestrator) execute(ctx context.Context, calls []tools.ToolCall) []tools.ToolResult {
	results := make([]tools.ToolResult, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			results = append(results, tools.ToolResult{CallID: call.ID, Output: "context cancelled", IsError: true})
			continue
		}
		res, err := o.cfg.Tools.Execute(ctx, call)
		if err != nil {
			slog.Warn("tool execution error", "tool", call.Name, "call_id", call.ID, "error", err)
			res = &tools.ToolResult{CallID: call.ID, Output: err.Error(), IsError: true}
		}
		debug.Log("agent", "tool call", "tool", call.Name, "call_id", call.ID, "is_error", res.IsError)
		results = append(results, *res)
	}
	return results
}

// offeredTools returns the catalog entries the model may call.
func (o *Orchestrator) offeredTools() []provider.Tool {
	var out []provider.Tool
	for _, d := range o.cfg.Tools.Definitions() {
		if len(o.cfg.AllowedTools) > 0 && !slices.Contains(o.cfg.AllowedTools, d.Name) {
			continue
		}
		out = append(out, provider.FunctionTool(d.Name, d.Description, d.Parameters))
	}
	return out
}

// complete invokes the model once, records metrics and returns the first
// choice's message.
func (o *Orchestrator) complete(ctx context.Context, req *provider.Request) (*provider.Message, error) {
	provName := o.provider.Name()
	start := time.Now()
	resp, err := o.provider.Complete(ctx, req)
	duration := time.Since(start)

	observability.ProviderLatency.WithLabelValues(provName, req.Model).Observe(duration.Seconds())
	if err != nil {
		observability.ProviderRequestsTotal.WithLabelValues(provName, req.Model, "error").Inc()
		return nil, err
	}
	observability.ProviderRequestsTotal.WithLabelValues(provName, req.Model, "success").Inc()
	observability.ProviderTokensTotal.WithLabelValues(provName, req.Model, "input").Add(float64(resp.Usage.PromptTokens))
	observability.ProviderTokensTotal.WithLabelValues(provName, req.Model, "output").Add(float64(resp.Usage.CompletionTokens))

	if len(resp.Choices) == 0 {
		return nil, errNoChoices
	}
	return &resp.Choices[0].Message, nil
}

// Content normalizes model message content to text. Strings pass through,
// nil becomes "" and anything else is rendered as JSON.
func Content(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
