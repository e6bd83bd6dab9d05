// Package history keeps the durable log of Job and Task run outcomes.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/synctab/synctab/internal/model"
)

// Store appends run records and reads them back per entity, in run order.
type Store interface {
	Append(ctx context.Context, rec model.RunRecord) error
	History(ctx context.Context, entityID string) ([]model.RunRecord, error)
	Close() error
}

// Open returns the store for a backend, "file" or "sqlite".
func Open(backend, path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	switch backend {
	case "", model.HistoryFile:
		return NewFileStore(path), nil
	case model.HistorySQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}
