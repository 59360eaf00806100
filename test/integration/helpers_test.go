// Package integration provides integration tests for the codeact API.
//
// Tests run against a real codeact HTTP server backed by a mock model
// backend and the in-memory sandbox, both started in-process using
// net/http/httptest.
package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/rhuss/codeact/pkg/agent"
	"github.com/rhuss/codeact/pkg/api"
	"github.com/rhuss/codeact/pkg/auth"
	"github.com/rhuss/codeact/pkg/auth/noop"
	"github.com/rhuss/codeact/pkg/chat"
	"github.com/rhuss/codeact/pkg/observability"
	"github.com/rhuss/codeact/pkg/provider/openai"
	"github.com/rhuss/codeact/pkg/sandbox"
	"github.com/rhuss/codeact/pkg/sandbox/mock"
	"github.com/rhuss/codeact/pkg/storage/memory"
	"github.com/rhuss/codeact/pkg/tools/builtins"
	transporthttp "github.com/rhuss/codeact/pkg/transport/http"
)

// testUser is the subject every request runs as.
const testUser = "local"

// testEnv holds the shared servers for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the codeact server and mock backend for testing.
type TestEnvironment struct {
	Server      *httptest.Server
	MockBackend *httptest.Server
	Tools       *builtins.Set
}

// TestMain starts the mock backend and codeact server before running tests.
func TestMain(m *testing.M) {
	testEnv = setupTestEnvironment()
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

// setupTestEnvironment wires the production components to a mock model
// backend and the in-memory sandbox.
func setupTestEnvironment() *TestEnvironment {
	mockBackend := startMockBackend()

	prov := openai.New(openai.Config{BaseURL: mockBackend.URL + "/v1"})

	sb := sandbox.New(mock.New(mock.Config{}), sandbox.Config{})
	set, err := builtins.New(sb, builtins.Config{})
	if err != nil {
		panic(fmt.Sprintf("building tools: %v", err))
	}

	orch, err := agent.New(prov, agent.Config{
		Model:        "mock-model",
		StreamDelay:  -1,
		Tools:        set.Catalog,
		MaxToolTurns: 3,
	})
	if err != nil {
		panic(fmt.Sprintf("creating orchestrator: %v", err))
	}

	svc, err := chat.New(memory.New(), orch, set.Catalog, chat.Config{
		Validation: api.DefaultValidationConfig(),
		OwnerID:    testUser,
	})
	if err != nil {
		panic(fmt.Sprintf("creating chat service: %v", err))
	}

	chain := &auth.AuthChain{
		Authenticators:  []auth.Authenticator{&noop.Authenticator{Subject: testUser}},
		DefaultDecision: auth.Yes,
	}

	srv := transporthttp.NewServer(svc,
		transporthttp.WithRoute("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok\n"))
		})),
		transporthttp.WithMiddleware(
			auth.Middleware(chain, auth.Options{Bypass: auth.DefaultBypassEndpoints, Users: svc}),
			observability.MetricsMiddleware,
		),
	)

	return &TestEnvironment{
		Server:      httptest.NewServer(srv.Handler()),
		MockBackend: mockBackend,
		Tools:       set,
	}
}

// Teardown stops both servers.
func (env *TestEnvironment) Teardown() {
	if env.Server != nil {
		env.Server.Close()
	}
	if env.MockBackend != nil {
		env.MockBackend.Close()
	}
	if env.Tools != nil {
		env.Tools.Close()
	}
}

// BaseURL returns the codeact server base URL.
func (env *TestEnvironment) BaseURL() string {
	return env.Server.URL
}

// --- HTTP helpers ---

// postJSON sends a POST request with JSON body and returns the response.
func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

// getURL sends a GET request and returns the response.
func getURL(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return string(body)
}

// decodeJSON reads the response body and decodes it into the target.
func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decoding JSON: %v", err)
	}
}

// expectStatus fails the test with the response body when the status differs.
func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, readBody(t, resp))
	}
}

// createConversation creates a conversation and returns it.
func createConversation(t *testing.T, title string) *api.Conversation {
	t.Helper()
	resp := postJSON(t, testEnv.BaseURL()+"/v1/conversations", api.CreateConversationRequest{Title: title})
	expectStatus(t, resp, http.StatusCreated)
	var conv api.Conversation
	decodeJSON(t, resp, &conv)
	return &conv
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Name string
	Data string
}

// readSSE parses an event stream until it ends.
func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	defer resp.Body.Close()

	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.Data != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			cur.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	return events
}

// --- Mock backend ---

// startMockBackend creates an httptest server that mimics a Chat Completions API.
func startMockBackend() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat/completions", handleMockChatCompletions)
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "mock-model", "object": "model", "owned_by": "test"},
			},
		})
	})

	return httptest.NewServer(mux)
}

type mockRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
	Tools []any `json:"tools"`
}

// handleMockChatCompletions handles chat completion requests with
// deterministic responses. A user message containing "python" triggers an
// execute_code call; "fail" triggers a backend error.
func handleMockChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req mockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid request","type":"invalid_request_error"}}`, http.StatusBadRequest)
		return
	}

	last := req.Messages[len(req.Messages)-1]
	lastUser := ""
	for _, msg := range req.Messages {
		if s, ok := msg.Content.(string); ok && msg.Role == "user" {
			lastUser = strings.ToLower(s)
		}
	}

	switch {
	case strings.Contains(lastUser, "fail"):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"backend exploded","type":"server_error"}}`))
		return
	case last.Role == "tool":
		out, _ := last.Content.(string)
		writeMockText(w, "The code printed: "+out)
		return
	case strings.Contains(lastUser, "python") && len(req.Tools) > 0:
		writeMockToolCall(w, "execute_code", `{"code":"print(6*7)","language":"python"}`)
		return
	case strings.Contains(lastUser, "count"):
		writeMockText(w, "1, 2, 3, 4, 5")
		return
	}
	writeMockText(w, "Hello from mock!")
}

func writeMockText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-mock",
		"object": "chat.completion",
		"model":  "mock-model",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": text},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15,
		},
	})
}

func writeMockToolCall(w http.ResponseWriter, name, args string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-mock-tool",
		"object": "chat.completion",
		"model":  "mock-model",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": nil,
					"tool_calls": []map[string]any{
						{
							"id":   "call_mock_1",
							"type": "function",
							"function": map[string]any{
								"name":      name,
								"arguments": args,
							},
						},
					},
				},
				"finish_reason": "tool_calls",
			},
		},
		"usage": map[string]any{
			"prompt_tokens": 20, "completion_tokens": 15, "total_tokens": 35,
		},
	})
}
