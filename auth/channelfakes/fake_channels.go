// Package channelfakes provides scriptable authentication channels for tests.
package channelfakes

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-provider-session/auth"
	"github.com/jrsteele09/go-provider-session/session"
)

var (
	_ auth.PrimaryChannel  = (*FakePrimary)(nil)
	_ auth.FallbackChannel = (*FakeFallback)(nil)
)

// Result is a scripted channel outcome.
type Result struct {
	Session   *session.Session
	Principal session.Principal
	Err       error
	// Gate, when set, holds the call until it is closed or the call's context is done
	Gate chan struct{}
	// IgnoreContext makes a gated call keep waiting on the gate after its context is done
	IgnoreContext bool
}

// Call is one recorded invocation.
type Call struct {
	AppToken string
	Token    string
}

// FakePrimary answers Exchange by provider token.
type FakePrimary struct {
	results map[string]Result
	calls   []Call
	lock    sync.RWMutex
}

func NewFakePrimary() *FakePrimary {
	return &FakePrimary{
		results: make(map[string]Result),
	}
}

// On scripts the result for providerToken.
func (fp *FakePrimary) On(providerToken string, r Result) *FakePrimary {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fp.results[providerToken] = r
	return fp
}

func (fp *FakePrimary) Exchange(ctx context.Context, appToken string, cred session.Credential) (*session.Session, error) {
	fp.lock.Lock()
	fp.calls = append(fp.calls, Call{AppToken: appToken, Token: cred.ProviderToken})
	r, ok := fp.results[cred.ProviderToken]
	fp.lock.Unlock()

	if !ok {
		return nil, context.DeadlineExceeded
	}
	if err := wait(ctx, r); err != nil {
		return nil, err
	}
	return r.Session.Clone(), r.Err
}

// Calls returns the recorded invocations.
func (fp *FakePrimary) Calls() []Call {
	fp.lock.RLock()
	defer fp.lock.RUnlock()
	return append([]Call(nil), fp.calls...)
}

// FakeFallback answers by the token bound on the binder at call time.
type FakeFallback struct {
	binder  auth.CredentialBinder
	results map[string]Result
	calls   []Call
	lock    sync.RWMutex
}

func NewFakeFallback(binder auth.CredentialBinder) *FakeFallback {
	return &FakeFallback{
		binder:  binder,
		results: make(map[string]Result),
	}
}

// On scripts the result for the bound providerToken.
func (ff *FakeFallback) On(providerToken string, r Result) *FakeFallback {
	ff.lock.Lock()
	defer ff.lock.Unlock()
	ff.results[providerToken] = r
	return ff
}

func (ff *FakeFallback) Authenticated(ctx context.Context) (session.Principal, error) {
	cred, _ := ff.binder.Current()

	ff.lock.Lock()
	ff.calls = append(ff.calls, Call{Token: cred.ProviderToken})
	r, ok := ff.results[cred.ProviderToken]
	ff.lock.Unlock()

	if !ok {
		return session.Principal{}, context.DeadlineExceeded
	}
	if err := wait(ctx, r); err != nil {
		return session.Principal{}, err
	}
	return r.Principal, r.Err
}

// Calls returns the recorded invocations.
func (ff *FakeFallback) Calls() []Call {
	ff.lock.RLock()
	defer ff.lock.RUnlock()
	return append([]Call(nil), ff.calls...)
}

func wait(ctx context.Context, r Result) error {
	if r.Gate == nil {
		return nil
	}
	if r.IgnoreContext {
		<-r.Gate
		return nil
	}
	select {
	case <-r.Gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
