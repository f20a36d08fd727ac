package ledger

import (
	"context"
	"fmt"

	"demoreel/internal/config"
)

// Open returns the store selected by cfg.Driver and a function releasing it.
func Open(ctx context.Context, cfg config.LedgerConfig) (Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), func() {}, nil
	case "file":
		fs, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open file ledger: %w", err)
		}
		return fs, func() {}, nil
	case "postgres":
		ps, err := NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return ps, ps.Close, nil
	case "redis":
		rs, err := NewRedisStore(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis ledger: %w", err)
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}
