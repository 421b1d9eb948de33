package positions

import (
	"arb_bot/internal/modules/config"
	"arb_bot/internal/modules/positions/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("positions",
		fx.Provide(
			func(cfg *config.Config) *service.Keeper {
				return service.NewKeeper(cfg.Accounts)
			},
		),
	)
}
