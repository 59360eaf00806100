// Package sandbox runs untrusted code in a resource-bounded, crash-isolated
// execution context.
//
// A [Sandbox] validates requests and drives a pluggable [Backend]. Every
// backend fault is converted into a [Failure] result, so callers never see a
// raised error or panic from code execution. Backends live in sub-packages:
//
//   - process: local subprocess per instance with a private working directory
//   - remote: HTTP client for a sandbox server, optionally acquired via Kubernetes
//   - mock: in-memory test double with fixed delays and canned output
//
// A [Session] keeps one backend instance alive across calls and exposes the
// package installer and the sandbox-private filesystem.
package sandbox
