// Command mock-backend runs a deterministic Chat Completions server for
// end-to-end testing of the agent loop. Replies are chosen from the last
// message:
//
//   - a tool result produces a short summary of that result
//   - a user message mentioning code or python, with tools offered,
//     produces an execute_code call
//   - a user message mentioning search, with tools offered, produces a
//     web_search call
//   - anything else produces a fixed greeting
//
// Configuration:
//
//	MOCK_PORT - Listen port (default: 9090)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

const mockModel = "mock-model"

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// --- Request types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role       string `json:"role"`
	Content    any    `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

// --- Response types ---

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      chatMsg `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatMsg struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	Index    *int     `json:"index,omitempty"`
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function funcCall `json:"function"`
}

type funcCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// reply is the scripted outcome for one request.
type reply struct {
	text string
	call *funcCall
}

// --- Handler ---

func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"invalid request","type":"invalid_request_error"}}`))
		return
	}

	model := req.Model
	if model == "" {
		model = mockModel
	}
	rep := classify(&req)

	if req.Stream {
		handleStreaming(w, model, rep)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(makeResponse(model, rep))
}

func classify(req *chatRequest) reply {
	if len(req.Messages) == 0 {
		return reply{text: "Hello, how can I help?"}
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Role == "tool" {
		return reply{text: "The tool returned: " + truncate(contentText(last.Content), 200)}
	}

	prompt := strings.ToLower(lastUserMessage(req))
	switch {
	case offers(req, "execute_code") && (strings.Contains(prompt, "python") || strings.Contains(prompt, "code")):
		args, _ := json.Marshal(map[string]any{
			"code":     "print(sum(range(1, 11)))",
			"language": "python",
		})
		return reply{call: &funcCall{Name: "execute_code", Arguments: string(args)}}
	case offers(req, "web_search") && strings.Contains(prompt, "search"):
		args, _ := json.Marshal(map[string]any{"query": prompt, "num_results": 3})
		return reply{call: &funcCall{Name: "web_search", Arguments: string(args)}}
	case strings.Contains(prompt, "count from 1 to 5"):
		return reply{text: "1, 2, 3, 4, 5"}
	}
	return reply{text: "Hello, nice day!"}
}

func makeResponse(model string, rep reply) chatResponse {
	msg := chatMsg{Role: "assistant"}
	finish := "stop"
	if rep.call != nil {
		finish = "tool_calls"
		msg.ToolCalls = []toolCall{{ID: "call_mock_1", Type: "function", Function: *rep.call}}
	} else {
		text := rep.text
		msg.Content = &text
	}

	return chatResponse{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoice{{Index: 0, Message: msg, FinishReason: finish}},
		Usage:   chatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// --- Streaming ---

func handleStreaming(w http.ResponseWriter, model string, rep reply) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(delta map[string]any, finish any) {
		chunk := map[string]any{
			"id":      "chatcmpl-mock-stream",
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []any{map[string]any{
				"index":         0,
				"delta":         delta,
				"finish_reason": finish,
			}},
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		rc.Flush()
	}

	send(map[string]any{"role": "assistant"}, nil)

	if rep.call != nil {
		idx := 0
		send(map[string]any{"tool_calls": []toolCall{{
			Index:    &idx,
			ID:       "call_mock_1",
			Type:     "function",
			Function: *rep.call,
		}}}, nil)
		send(map[string]any{}, "tool_calls")
	} else {
		for _, token := range strings.SplitAfter(rep.text, " ") {
			send(map[string]any{"content": token}, nil)
		}
		send(map[string]any{}, "stop")
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	rc.Flush()
}

// --- Models endpoint ---

func handleModels(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": mockModel, "object": "model", "owned_by": "codeact-mock"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Helpers ---

func offers(req *chatRequest, name string) bool {
	for _, t := range req.Tools {
		if t.Function.Name == name {
			return true
		}
	}
	return false
}

func lastUserMessage(req *chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return contentText(req.Messages[i].Content)
		}
	}
	return ""
}

func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		for _, part := range v {
			if m, ok := part.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					return text
				}
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
