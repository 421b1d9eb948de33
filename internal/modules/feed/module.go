package feed

import (
	"context"

	"arb_bot/internal/exchange"
	"arb_bot/internal/modules/config"
	"arb_bot/internal/modules/feed/service"
	possvc "arb_bot/internal/modules/positions/service"
	"arb_bot/pkg/logger"

	"go.uber.org/fx"
)

// Manager держит по одному фид-клиенту на аккаунт.
type Manager struct {
	clients map[string]*service.Client
}

func NewManager(cfg *config.Config, keeper *possvc.Keeper, ex *exchange.Client) *Manager {
	m := &Manager{clients: make(map[string]*service.Client)}
	for name, acc := range cfg.Accounts {
		store, _ := keeper.ForAccount(name)
		m.clients[name] = service.NewClient(acc, store, ex)
	}
	return m
}

func (m *Manager) StartAll() {
	for name, c := range m.clients {
		logger.Info("starting feed client for %s", name)
		c.Start()
	}
}

func (m *Manager) StopAll() {
	for _, c := range m.clients {
		c.Stop()
	}
}

func Module() fx.Option {
	return fx.Module("feed",
		fx.Provide(NewManager),
		fx.Invoke(func(lc fx.Lifecycle, m *Manager) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					m.StartAll()
					return nil
				},
				OnStop: func(_ context.Context) error {
					m.StopAll()
					return nil
				},
			})
		}),
	)
}
