package monitor

import (
	"context"

	"arb_bot/internal/modules/monitor/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("monitor",
		fx.Provide(service.NewMonitor),
		fx.Invoke(func(lc fx.Lifecycle, m *service.Monitor) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					m.Start()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					m.Stop()
					return nil
				},
			})
		}),
	)
}
