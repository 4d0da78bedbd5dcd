package daemon

import (
	"context"
	"fmt"

	"github.com/harun/toolgate/internal/config"
	"github.com/harun/toolgate/pkg/credits"
)

// openLedger opens the configured credit ledger. The returned func
// releases its connections.
func openLedger(ctx context.Context, cfg config.CreditsConfig) (credits.Ledger, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverMemory, "":
		return credits.NewMemoryLedger(nil), noop, nil

	case config.DriverSQLite:
		l, err := credits.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil

	case config.DriverPostgres:
		l, err := credits.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return l, func() error { l.Close(); return nil }, nil

	case config.DriverHTTP:
		var opts []credits.HTTPOption
		if cfg.Token != "" {
			opts = append(opts, credits.WithToken(cfg.Token))
		}
		return credits.NewHTTPLedger(cfg.URL, opts...), noop, nil
	}

	return nil, nil, fmt.Errorf("unknown credits driver %q", cfg.Driver)
}
