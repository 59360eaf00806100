// Package agent drives one round of model invocation per user message.
//
// The Orchestrator prepends a fixed system instruction to the caller's
// history, invokes the model and returns the first choice's content as
// final text. Stream replays that text as a lazy sequence of
// whitespace-delimited chunks.
//
// A bounded tool loop can be enabled through Config.MaxToolTurns: tool
// calls in the model's reply are dispatched through the tool catalog and
// their results fed back as tool turns until the model answers without
// calling a tool. It is disabled by default.
package agent
