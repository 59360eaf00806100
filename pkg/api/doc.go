// Package api defines the wire types shared by the codeact gateway:
// users, conversations, messages, tasks and artifacts, the streaming
// event envelope, structured API errors, and ID generation.
//
// The package has no external dependencies and performs no I/O.
//
// Core types:
//   - [Conversation]: A chat thread owned by a single user
//   - [Message]: One persisted turn (user, assistant or system)
//   - [Task]: A recorded tool invocation with its lifecycle status
//   - [Artifact]: A file or result produced while serving a conversation
//   - [StreamEvent]: Server-sent event for streamed assistant replies
//   - [APIError]: Structured error with type, code, param, and message
package api
