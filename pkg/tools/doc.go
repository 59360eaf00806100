// Package tools defines the capability surface the agent can invoke: tool
// descriptors with a JSON Schema for their arguments, the call and result
// types exchanged with the model, and allowed-tools filtering.
//
// Concrete tools live under builtins/ and are collected into a fixed,
// read-only catalog by the registry package.
package tools
