package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/kvstore"
)

// TokenKey is the storage key for the persisted auth token.
const TokenKey = "auth_token"

// PersistentStore is a MemoryStore whose token is mirrored to storage so a
// signed-in session survives a restart.
type PersistentStore struct {
	*MemoryStore
	storage kvstore.Storage
	log     zerolog.Logger
}

// LoadPersistentStore reads any saved token from storage.
func LoadPersistentStore(ctx context.Context, storage kvstore.Storage, log zerolog.Logger) (*PersistentStore, error) {
	token, err := storage.Read(ctx, TokenKey)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("LoadPersistentStore: read token: %w", err)
	}
	return &PersistentStore{
		MemoryStore: NewMemoryStore(token),
		storage:     storage,
		log:         log,
	}, nil
}

// SetToken stores token in memory and in storage.
func (s *PersistentStore) SetToken(ctx context.Context, token string) error {
	if err := s.storage.Write(ctx, TokenKey, token); err != nil {
		return fmt.Errorf("SetToken: persist: %w", err)
	}
	s.MemoryStore.SetToken(token)
	return nil
}

// MarkUnauthorized clears the persisted token before notifying listeners.
// A failed write is logged; the in-memory token is cleared regardless.
func (s *PersistentStore) MarkUnauthorized() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.storage.Write(ctx, TokenKey, ""); err != nil {
		s.log.Error().Err(err).Msg("Failed to clear persisted auth token")
	}
	s.log.Warn().Msg("Session rejected by backend, token cleared")
	s.MemoryStore.MarkUnauthorized()
}

var _ Store = (*PersistentStore)(nil)
