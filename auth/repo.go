package auth

import (
	"context"

	"github.com/jrsteele09/go-provider-session/session"
)

// PrimaryChannel exchanges a provider credential for an application session in one call.
type PrimaryChannel interface {
	Exchange(ctx context.Context, appToken string, cred session.Credential) (*session.Session, error)
}

// FallbackChannel asks the provider directly who the currently bound credential belongs to.
type FallbackChannel interface {
	Authenticated(ctx context.Context) (session.Principal, error)
}

// CredentialBinder is the handle every provider-facing client reads its credential from.
// Only the Orchestrator mutates it.
type CredentialBinder interface {
	Bind(cred session.Credential)
	Unbind()
	Current() (session.Credential, bool)
}

// Deps holds all collaborator dependencies for the Orchestrator
type Deps struct {
	Primary  PrimaryChannel   // Aggregated session exchange
	Fallback FallbackChannel  // Direct provider "who am I"
	Binder   CredentialBinder // Provider client credential handle
	Store    session.Store    // Persisted session
}
