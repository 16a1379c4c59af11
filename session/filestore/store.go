// Package filestore persists the live session in a local file. When a seal key is configured the
// document is encrypted with NaCl secretbox, since it carries the provider token.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/go-provider-session/session"
	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

var _ session.Store = (*Store)(nil)

const (
	keySize   = 32
	nonceSize = 24
	fileMode  = 0o600
)

var (
	ErrInvalidSealKey = errors.New("seal key must be 64 hex characters")
	ErrUnsealFailed   = errors.New("persisted session could not be unsealed")
)

// Store keeps the session as a JSON document at path.
type Store struct {
	path string
	key  *[keySize]byte
	lock sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithSealKey encrypts the document with key.
func WithSealKey(key *[keySize]byte) Option {
	return func(s *Store) {
		s.key = key
	}
}

// ParseSealKey decodes a 64 character hex key.
func ParseSealKey(h string) (*[keySize]byte, error) {
	raw, err := hex.DecodeString(h)
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidSealKey
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}

// New creates a Store at path. The parent directory is created on first write.
func New(path string, options ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("[filestore.New] path is required")
	}
	s := &Store{path: path}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *Store) Read(_ context.Context) (*session.Session, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, session.ErrNoSession
	}
	if err != nil {
		return nil, errors.Wrap(err, "[filestore.Read] os.ReadFile")
	}

	if s.key != nil {
		if raw, err = s.open(raw); err != nil {
			return nil, err
		}
	}

	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, errors.Wrap(err, "[filestore.Read] json.Unmarshal")
	}
	return &sess, nil
}

func (s *Store) Write(_ context.Context, sess *session.Session) error {
	if sess == nil {
		return session.ErrNilSession
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "[filestore.Write] json.Marshal")
	}
	if s.key != nil {
		if raw, err = s.seal(raw); err != nil {
			return err
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	return s.replace(raw)
}

func (s *Store) Clear(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "[filestore.Clear] os.Remove")
	}
	return nil
}

// replace writes to a temp file in the same directory and renames it over path.
func (s *Store) replace(raw []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "[filestore.Write] os.MkdirAll")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "[filestore.Write] os.CreateTemp")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[filestore.Write] Chmod")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[filestore.Write] Write")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[filestore.Write] Sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[filestore.Write] Close")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Wrap(err, "[filestore.Write] os.Rename")
	}
	return nil
}

// seal prefixes the box with its random nonce.
func (s *Store) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "[filestore.seal] rand")
	}
	return secretbox.Seal(nonce[:], plain, &nonce, s.key), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrUnsealFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, s.key)
	if !ok {
		return nil, ErrUnsealFailed
	}
	return plain, nil
}
