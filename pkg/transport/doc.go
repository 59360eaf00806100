// Package transport defines the service contract and the HTTP middleware
// chain shared by the codeact HTTP adapter.
//
// The Service interface is what the adapter in transport/http dispatches
// to; *chat.Service implements it. Errors crossing the boundary are
// converted to *api.APIError with ErrorFrom and written in the
// {"error": {...}} envelope.
//
// # Middleware
//
// Middleware wraps http.Handler. Built-in middleware provides panic
// recovery, request ID assignment (X-Request-ID), and structured logging
// via log/slog. HTTP serving uses net/http with Go 1.22+ ServeMux routing
// patterns. SSE flushing uses http.NewResponseController.
package transport
