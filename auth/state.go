package auth

import (
	"fmt"

	"github.com/jrsteele09/go-provider-session/autherr"
	"github.com/jrsteele09/go-provider-session/session"
)

// Status is the orchestrator's state machine position.
type Status int

const (
	StatusIdle Status = iota
	StatusAuthenticating
	StatusAuthenticated
	StatusUnauthenticated
)

var statusNames = map[Status]string{
	StatusIdle:            "idle",
	StatusAuthenticating:  "authenticating",
	StatusAuthenticated:   "authenticated",
	StatusUnauthenticated: "unauthenticated",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is the read-only projection of the session that consumers render from.
type State struct {
	Status        Status
	Loading       bool
	Session       *session.Session // nil unless Authenticated
	LastError     error
	LastErrorKind autherr.Kind
	Generation    uint64
}

// Authenticated reports whether a session is live.
func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Session != nil
}

// LoginEvent is an explicit sign-in.
type LoginEvent struct {
	AppToken          string
	ProviderToken     string
	ProviderScope     []string
	ProviderTokenType string
}

func (e LoginEvent) credential() session.Credential {
	return session.NewCredential(e.ProviderToken, e.ProviderTokenType, e.ProviderScope)
}

// RestoreEvent carries the persisted fields loaded at process start.
type RestoreEvent struct {
	AppToken          string
	ProviderToken     string
	ProviderScope     []string
	ProviderTokenType string
}

// RestoreEventFrom builds the restore event for a persisted session.
func RestoreEventFrom(s *session.Session) RestoreEvent {
	if s == nil {
		return RestoreEvent{}
	}
	return RestoreEvent{
		AppToken:          s.AppToken,
		ProviderToken:     s.Credential.ProviderToken,
		ProviderScope:     s.Credential.Scope,
		ProviderTokenType: s.Credential.TokenType,
	}
}

// Failure is a provider-facing call failure observed by a collaborator.
type Failure struct {
	Source string // Who observed it, for logs
	Token  string // Provider token the failed call carried; empty means "the bound one"
	Err    error
}
