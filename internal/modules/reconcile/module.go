package reconcile

import (
	"arb_bot/internal/modules/reconcile/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("reconcile",
		fx.Provide(
			service.NewReconciler,
		),
	)
}
