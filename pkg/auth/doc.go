// Package auth provides pluggable authentication for the codeact API.
//
// Authentication uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). A configurable default voter decides
// when all authenticators abstain.
//
// Auth is implemented as HTTP middleware. Besides placing the identity in
// the request context it records the caller as a user, so every
// authenticated subject has a stored profile.
package auth
