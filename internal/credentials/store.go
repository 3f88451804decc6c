// Package credentials stores the scan service bearer credential in the
// host's key/value storage and fans out change notifications.
package credentials

import (
	"context"
	"sync"

	"websentry/internal/host"

	"github.com/rs/zerolog"
)

// TokenStorageKey is the host storage key holding the bearer credential.
// External surfaces (the login UI) write it directly, so watchers match on
// this key to observe sign-in and sign-out.
const TokenStorageKey = "auth.token"

const (
	tokenKey = TokenStorageKey
	userKey  = "auth.user"
)

// Store wraps the host KeyValueStore for credential access.
type Store struct {
	storage  host.KeyValueStore
	logger   zerolog.Logger
	mu       sync.Mutex
	onChange []func(authenticated bool)
}

// NewStore creates a credential store over the host storage.
func NewStore(storage host.KeyValueStore, logger zerolog.Logger) *Store {
	return &Store{
		storage: storage,
		logger:  logger.With().Str("component", "CredentialStore").Logger(),
	}
}

// Token returns the stored bearer token, or "" when logged out.
func (s *Store) Token(ctx context.Context) string {
	token, _, err := s.storage.Get(ctx, tokenKey)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read credential from host storage")
		return ""
	}
	return token
}

// User returns the stored account identifier, or "" when logged out.
func (s *Store) User(ctx context.Context) string {
	user, _, err := s.storage.Get(ctx, userKey)
	if err != nil {
		return ""
	}
	return user
}

// SetToken stores a credential and notifies subscribers.
func (s *Store) SetToken(ctx context.Context, token, user string) error {
	if err := s.storage.Set(ctx, tokenKey, token); err != nil {
		return err
	}
	if err := s.storage.Set(ctx, userKey, user); err != nil {
		return err
	}
	s.notify(token != "")
	return nil
}

// ClearAll purges the stored credential. Called on logout and whenever the
// scan service rejects the token.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.storage.Remove(ctx, tokenKey); err != nil {
		return err
	}
	if err := s.storage.Remove(ctx, userKey); err != nil {
		return err
	}
	s.logger.Info().Msg("Stored credential purged")
	s.notify(false)
	return nil
}

// Authenticated reports whether a credential is present.
func (s *Store) Authenticated(ctx context.Context) bool {
	return s.Token(ctx) != ""
}

// OnChange registers a callback invoked after every credential change.
func (s *Store) OnChange(fn func(authenticated bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *Store) notify(authenticated bool) {
	s.mu.Lock()
	callbacks := append([]func(bool){}, s.onChange...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(authenticated)
	}
}
