// Package provider defines the model invocation boundary. A Provider turns
// a chat-style message history into a completion. The types in this package
// mirror the Chat Completions wire format so adapters stay thin.
//
// Adapters for concrete backends live in subpackages:
//
//   - openai: any OpenAI-compatible Chat Completions endpoint (OpenAI,
//     vLLM, LiteLLM, Ollama), built on github.com/sashabaranov/go-openai.
package provider
