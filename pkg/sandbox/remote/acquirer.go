package remote

import "context"

// Acquirer abstracts sandbox server acquisition. Implementations exist for
// a fixed URL and for SandboxClaim-managed pods (see the kubernetes package).
type Acquirer interface {
	// Acquire returns the base URL of a sandbox server. The release
	// function must be called once the caller is done with it.
	Acquire(ctx context.Context) (sandboxURL string, release func(), err error)
}

// StaticURL is an Acquirer that always returns the same server.
type StaticURL string

var _ Acquirer = StaticURL("")

// Acquire returns the URL and a no-op release.
func (u StaticURL) Acquire(ctx context.Context) (string, func(), error) {
	return string(u), func() {}, nil
}
