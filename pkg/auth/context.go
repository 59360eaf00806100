package auth

import "context"

type identityKey struct{}

// SetIdentity returns a copy of ctx carrying id.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by Middleware, or nil
// for requests that skipped authentication.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// UserID returns the user the request acts for. The identity subject is
// the user ID. ok is false when no authenticated identity is present.
func UserID(ctx context.Context) (id string, ok bool) {
	ident := IdentityFromContext(ctx)
	if ident == nil || ident.Subject == "" {
		return "", false
	}
	return ident.Subject, true
}
