// Package app assembles the shared dependencies of the api and scheduler binaries.
package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/SirClappington/valsync/internal/backend"
	"github.com/SirClappington/valsync/internal/config"
	"github.com/SirClappington/valsync/internal/ledger"
	"github.com/SirClappington/valsync/internal/operations"
	"github.com/SirClappington/valsync/internal/queue"
	"github.com/SirClappington/valsync/internal/statuscache"
	"github.com/SirClappington/valsync/internal/storage"
)

type App struct {
	DB       *pgxpool.Pool
	Redis    *r.Client
	Store    *storage.Store
	Jobs     ledger.Ledger
	Queue    *queue.RedisQ
	Registry *operations.Registry
}

// Build connects to Postgres (when configured) and Redis and wires the
// operation registry. Runs started through the registry live on ctx.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{}

	var domains operations.DomainSource = operations.StaticDomains(cfg.StaticDomains)
	if cfg.PostgresDSN != "" {
		db, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, errors.Wrap(err, "connect postgres")
		}
		a.DB = db
		a.Store = storage.New(db, log)
		domains = a.Store
	}

	switch cfg.LedgerBackend {
	case "postgres":
		if a.Store == nil {
			a.Close()
			return nil, errors.New("LEDGER_BACKEND=postgres needs POSTGRES_DSN")
		}
		a.Jobs = a.Store
	case "memory", "":
		a.Jobs = ledger.NewMemory()
	default:
		a.Close()
		return nil, errors.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
	}

	a.Redis = r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	a.Queue = queue.New(a.Redis)
	cache := statuscache.New(a.Redis, cfg.StatusTTLDuration())

	inv := backend.New(cfg.BackendURL, cfg.BackendTimeoutDuration())
	a.Registry = operations.New(ctx, operations.Catalog, inv, a.Jobs, cache, domains, log)
	return a, nil
}

func (a *App) Close() error {
	var err error
	if a.Redis != nil {
		err = multierr.Append(err, a.Redis.Close())
	}
	if a.DB != nil {
		a.DB.Close()
	}
	return err
}
