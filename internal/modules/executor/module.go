package executor

import (
	"arb_bot/internal/exchange"
	"arb_bot/internal/modules/executor/service"
	possvc "arb_bot/internal/modules/positions/service"
	reconsvc "arb_bot/internal/modules/reconcile/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("executor",
		fx.Provide(func(ex *exchange.Client, rec *reconsvc.Reconciler, keeper *possvc.Keeper) *service.Pipeline {
			return service.NewPipeline(ex, rec, keeper)
		}),
	)
}
