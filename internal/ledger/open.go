package ledger

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/fyrsmithlabs/quoted/internal/logging"
)

// Open returns the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.LedgerConfig, logger *logging.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "", "sqlite":
		s, err := OpenSQLite(ctx, cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := OpenPostgres(ctx, cfg.DSN.Value(), logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}
