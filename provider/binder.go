// Package provider holds the provider-facing side of the session: the Binder that every outbound
// provider call reads its credential from, and the fallback channels that ask the provider
// directly who the bound token belongs to.
package provider

import (
	"errors"
	"net/http"
	"sync"

	"github.com/jrsteele09/go-provider-session/session"
	"golang.org/x/oauth2"
)

// ErrUnbound is returned by Token when no credential is bound.
var ErrUnbound = errors.New("provider client is not bound to a credential")

var _ oauth2.TokenSource = (*Binder)(nil)

// Binder is the stateful handle for the provider API client. All provider calls made through
// Client pick up the credential that is bound at the moment they are sent.
type Binder struct {
	mu      sync.RWMutex
	cred    session.Credential
	bound   bool
	changes uint64
	base    http.RoundTripper
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithBaseTransport sets the transport the oauth2 layer wraps.
func WithBaseTransport(rt http.RoundTripper) BinderOption {
	return func(b *Binder) {
		b.base = rt
	}
}

// NewBinder creates an unbound Binder.
func NewBinder(options ...BinderOption) *Binder {
	b := &Binder{}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Bind attaches cred, replacing any previous credential. Binding an empty token unbinds.
func (b *Binder) Bind(cred session.Credential) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.changes++
	if cred.IsZero() {
		b.cred = session.Credential{}
		b.bound = false
		return
	}
	b.cred = cred.Clone()
	b.bound = true
}

// Unbind detaches the credential. Calls issued after Unbind returns carry no token.
func (b *Binder) Unbind() {
	b.Bind(session.Credential{})
}

// Current returns the bound credential.
func (b *Binder) Current() (session.Credential, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cred.Clone(), b.bound
}

// Changes counts Bind and Unbind calls.
func (b *Binder) Changes() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.changes
}

// Token implements oauth2.TokenSource.
func (b *Binder) Token() (*oauth2.Token, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.bound {
		return nil, ErrUnbound
	}
	return b.cred.OAuth2Token(), nil
}

// Client returns an http.Client that authorizes each request with the bound credential.
func (b *Binder) Client() *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: b,
			Base:   b.base,
		},
	}
}
