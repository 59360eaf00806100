// Package mcp exposes the tool catalog as a Model Context Protocol server.
// Each catalog entry becomes an MCP tool with the same name, description
// and input schema; calls are dispatched through the catalog, so argument
// validation, panic recovery and metrics apply unchanged.
//
// The server is served over the streamable HTTP transport of the official
// MCP Go SDK (github.com/modelcontextprotocol/go-sdk).
package mcp
