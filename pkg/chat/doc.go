// Package chat implements the conversation flows behind the HTTP API:
// creating and listing conversations, sending messages through the agent
// orchestrator, and recording direct tool invocations as tasks and
// artifacts.
//
// Every operation is scoped to a user. A conversation, task or artifact
// owned by someone else is reported as not found.
package chat
