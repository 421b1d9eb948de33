package service

import (
	"context"
	"sync"
	"time"

	"arb_bot/internal/exchange"
	"arb_bot/internal/helper"
	"arb_bot/internal/models"
	"arb_bot/internal/modules/config"
	possvc "arb_bot/internal/modules/positions/service"
	reconsvc "arb_bot/internal/modules/reconcile/service"
	"arb_bot/internal/notify"
	"arb_bot/pkg/logger"
)

const (
	errBackoff  = 10 * time.Second
	joinTimeout = 5 * time.Second
)

// Monitor — фоновый цикл: авто-шорт при позиции на лимите и периодическая
// сверка репо-статусов с REST.
type Monitor struct {
	cfg    *config.Config
	keeper *possvc.Keeper
	rec    *reconsvc.Reconciler
	ex     *exchange.Client
	notify notify.Notifier

	mu        sync.Mutex
	lastShort map[string]time.Time // account|symbol -> время последнего авто-шорта

	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(
	cfg *config.Config,
	keeper *possvc.Keeper,
	rec *reconsvc.Reconciler,
	ex *exchange.Client,
	notifier notify.Notifier,
) *Monitor {
	return &Monitor{
		cfg:       cfg,
		keeper:    keeper,
		rec:       rec,
		ex:        ex,
		notify:    notifier,
		lastShort: make(map[string]time.Time),
	}
}

func (m *Monitor) Start() {
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx)
}

func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	select {
	case <-m.done:
	case <-time.After(joinTimeout):
		logger.Warn("monitor did not stop within %s", joinTimeout)
	}
	m.cancel = nil
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	logger.Info("position monitor started, interval %s", m.cfg.MonitorInterval)

	cycle := 0
	for {
		interval := m.cfg.MonitorInterval
		cycle++

		if err := m.iterate(ctx, cycle); err != nil {
			logger.Error("monitor iteration failed: %v", err)
			interval = errBackoff
		}

		select {
		case <-ctx.Done():
			logger.Info("position monitor stopped")
			return
		case <-time.After(interval):
		}
	}
}

func (m *Monitor) iterate(ctx context.Context, cycle int) error {
	var firstErr error
	verifyRepos := m.cfg.RepoCheckEvery > 0 && cycle%m.cfg.RepoCheckEvery == 0

	for _, name := range m.keeper.Accounts() {
		store, ok := m.keeper.ForAccount(name)
		if !ok {
			continue
		}
		acc := store.Account()

		if err := m.rec.RefreshPositions(ctx, acc); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if acc.Trading.AutoShort.Enabled {
			for _, symbol := range acc.TradingPairs {
				m.checkAutoShort(ctx, acc, store, symbol)
			}
		}

		// сверка репо дешёвая относительно интервала, гоняем реже
		if verifyRepos {
			m.rec.VerifyAllRepos(ctx, acc)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return firstErr
}

// checkAutoShort шортит на объём auto_short_quantity, когда позиция упёрлась
// в strict limit и кулдаун по паре истёк.
func (m *Monitor) checkAutoShort(ctx context.Context, acc *models.Account, store *possvc.Store, symbol string) {
	cs := acc.Currency(helper.BaseCurrency(symbol))
	if cs.AutoShortQuantity.Sign() <= 0 {
		return
	}

	position := store.TruncatedQuantity(symbol)
	if position.LessThan(cs.StrictLimit) {
		return
	}

	price := store.LastPrice(symbol)
	if price.Sign() <= 0 {
		logger.Warn("[%s] auto-short skipped for %s: no last price yet", acc.Name, symbol)
		return
	}

	key := acc.Name + "|" + symbol
	now := time.Now()

	m.mu.Lock()
	last, seen := m.lastShort[key]
	if seen && now.Sub(last) < acc.Trading.AutoShort.Cooldown {
		m.mu.Unlock()
		return
	}
	m.lastShort[key] = now
	m.mu.Unlock()

	adjusted := price.Mul(acc.Trading.AutoShort.PriceAdjustment)
	logger.Warn("[%s] position %s at limit %s, auto-shorting %s %s @ %s",
		acc.Name, position, cs.StrictLimit, cs.AutoShortQuantity, symbol, adjusted)

	if _, err := m.ex.PlaceOrder(ctx, acc, symbol, models.SideAsk, adjusted, cs.AutoShortQuantity); err != nil {
		logger.Error("[%s] auto-short failed for %s: %v", acc.Name, symbol, err)
		m.notify.Sendf("[%s] auto-short %s FAILED: %v", acc.Name, symbol, err)
		return
	}

	m.notify.Sendf("[%s] auto-short %s %s @ %s (position %s, limit %s)",
		acc.Name, cs.AutoShortQuantity, symbol, adjusted, position, cs.StrictLimit)
}
