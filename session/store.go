package session

import (
	"context"
	"errors"
)

var (
	// ErrNoSession is returned by Store.Read when nothing has been persisted.
	ErrNoSession = errors.New("no persisted session")
	// ErrNilSession is returned by Store.Write when given a nil session.
	ErrNilSession = errors.New("session is required")
)

// Store persists the single live session so it survives a process restart.
type Store interface {
	// Read returns the last written session, or ErrNoSession
	Read(ctx context.Context) (*Session, error)

	// Write replaces the persisted session
	Write(ctx context.Context, s *Session) error

	// Clear removes the persisted session. Clearing an empty store is not an error
	Clear(ctx context.Context) error
}
