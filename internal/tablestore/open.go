package tablestore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dmeRoutePlanner/internal/db"
)

// Open returns the store for backend ("sqlite", "xlsx" or "memory") and a
// close function that releases it.
func Open(ctx context.Context, backend, path string, log *zap.Logger) (Store, func() error, error) {
	noop := func() error { return nil }
	switch backend {
	case "memory":
		return NewMemoryStore(), noop, nil
	case "xlsx":
		if path == "" {
			return nil, nil, fmt.Errorf("xlsx store needs a workbook path")
		}
		return NewXLSXStore(path), noop, nil
	case "sqlite", "":
		d, err := db.Open(ctx, path, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		return NewSQLStore(d), d.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
