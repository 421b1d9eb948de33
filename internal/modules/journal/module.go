package journal

import (
	"context"

	"arb_bot/internal/modules/config"
	"arb_bot/internal/modules/journal/service"
	"arb_bot/pkg/db"
	"arb_bot/pkg/logger"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("journal",
		fx.Provide(func(lc fx.Lifecycle, cfg *config.Config) *service.Journal {
			if cfg.DB == "" {
				logger.Info("journal disabled: no database dsn configured")
				return service.Disabled()
			}

			pool, err := db.NewPool(context.Background(), db.PoolConfig{DSN: cfg.DB})
			if err != nil {
				logger.Error("journal disabled: %v", err)
				return service.Disabled()
			}

			tm := db.NewPgTxManager(pool)
			j := service.NewJournal(tm)

			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					j.Migrate(ctx)
					return nil
				},
				OnStop: func(ctx context.Context) error {
					tm.Close()
					return nil
				},
			})
			return j
		}),
	)
}
