package kvstore

import (
	"context"
	"fmt"

	"github.com/dvloznov/paysync/internal/config"
)

// Open builds the Storage selected by cfg.Storage. The returned close
// function releases backend clients and is never nil.
func Open(ctx context.Context, cfg config.Config) (Storage, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Storage {
	case config.StorageMemory:
		return NewMemoryStore(), noop, nil
	case config.StorageFile:
		s, err := NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case config.StorageGCS:
		s, err := NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case config.StoragePostgres:
		s, err := OpenPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("kvstore.Open: unknown storage backend %q", cfg.Storage)
	}
}
