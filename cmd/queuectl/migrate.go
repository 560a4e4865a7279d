package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/kvstore"
	"github.com/dvloznov/paysync/internal/queue"
	"github.com/dvloznov/paysync/internal/session"
)

// migratedKeys are copied between backends, queue first.
var migratedKeys = []string{queue.DefaultKey, session.TokenKey}

// migrateStorage copies the queue and session token from src to dst. The
// daemon must be stopped. A non-empty destination queue is only overwritten
// when force is set.
func migrateStorage(ctx context.Context, src, dst kvstore.Storage, force bool, log zerolog.Logger) (int, error) {
	pending, err := queue.New(src).List(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrate: read source queue: %w", err)
	}

	existing, err := queue.New(dst).List(ctx)
	if err != nil && !force {
		return 0, fmt.Errorf("migrate: read destination queue: %w", err)
	}
	if len(existing) > 0 && !force {
		return 0, fmt.Errorf("migrate: destination already holds %d queued transactions", len(existing))
	}

	for _, key := range migratedKeys {
		value, err := src.Read(ctx, key)
		if errors.Is(err, kvstore.ErrNotFound) {
			log.Info().Str("key", key).Msg("Nothing to copy")
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("migrate: read %s: %w", key, err)
		}
		if err := dst.Write(ctx, key, value); err != nil {
			return 0, fmt.Errorf("migrate: write %s: %w", key, err)
		}
		log.Info().Str("key", key).Int("bytes", len(value)).Msg("Copied")
	}

	return len(pending), nil
}
