package service

import (
	"sync"
	"time"

	"arb_bot/internal/helper"
	"arb_bot/internal/models"
	"arb_bot/internal/modules/config"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicate — точное повторение последнего принятого сигнала, без ограничения по времени.
	ErrDuplicate = errors.New("duplicate signal")
	// ErrThrottled — сигнал с тем же ключом symbol:message:timeframe был внутри минимального окна.
	ErrThrottled = errors.New("signal throttled")
)

// Payload — сырое тело вебхука. Ticker — алиас Symbol, TradingView шлёт и так и так.
type Payload struct {
	Symbol    string          `json:"symbol"`
	Ticker    string          `json:"ticker"`
	Message   string          `json:"message"`
	Price     decimal.Decimal `json:"price"`
	Timeframe string          `json:"timeframe"`
}

type record struct {
	message   string
	timeframe string
}

// Gate валидирует сигналы и отсекает дубли и слишком частые повторы.
// Дубль — точное повторение последнего принятого сигнала по аккаунту+символу,
// окно на него не влияет. Троттлинг — по полному ключу аккаунт+символ+сообщение+таймфрейм.
// Учёт только по принятым сигналам.
type Gate struct {
	cfg *config.Config

	mu   sync.Mutex
	last map[string]record
	seen map[string]time.Time
}

func NewGate(cfg *config.Config) *Gate {
	return &Gate{
		cfg:  cfg,
		last: make(map[string]record),
		seen: make(map[string]time.Time),
	}
}

// Admit проверяет сигнал и возвращает его вместе с аккаунтом-исполнителем.
// Дубли и троттлинг различимы через errors.Is(err, ErrDuplicate/ErrThrottled).
func (g *Gate) Admit(p Payload) (*models.Signal, *models.Account, error) {
	symbol := p.Symbol
	if symbol == "" {
		symbol = p.Ticker
	}
	if symbol == "" {
		return nil, nil, errors.New("missing symbol")
	}
	if p.Message == "" {
		return nil, nil, errors.New("missing message")
	}
	if p.Price.Sign() <= 0 {
		return nil, nil, errors.Errorf("invalid price %s", p.Price)
	}
	if !contains(g.cfg.ValidMessages, p.Message) {
		return nil, nil, errors.Errorf("unknown message %q", p.Message)
	}
	if !g.cfg.KnownPair(symbol) {
		return nil, nil, errors.Errorf("unknown symbol %q", symbol)
	}

	tf := helper.NormTF(p.Timeframe)
	if tf == "" {
		tf = g.cfg.DefaultTimeframe
	}
	if !contains(g.cfg.ValidTimeframes, tf) {
		return nil, nil, errors.Errorf("unknown timeframe %q", p.Timeframe)
	}

	acc, ok := g.cfg.AccountForTimeframe(tf)
	if !ok || acc == nil {
		return nil, nil, errors.Errorf("no account routed for timeframe %q", tf)
	}
	if !acc.HasPair(symbol) {
		return nil, nil, errors.Errorf("account %s does not trade %s", acc.Name, symbol)
	}

	now := time.Now()
	key := acc.Name + "|" + symbol
	full := key + "|" + p.Message + "|" + tf

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.last[key]; ok && prev.message == p.Message && prev.timeframe == tf {
		return nil, nil, errors.Wrapf(ErrDuplicate, "%s %s %s", symbol, p.Message, tf)
	}
	if at, ok := g.seen[full]; ok && now.Sub(at) < g.cfg.MinSignalWindow {
		return nil, nil, errors.Wrapf(ErrThrottled, "%s received %s ago", full, now.Sub(at).Round(time.Millisecond))
	}
	g.last[key] = record{message: p.Message, timeframe: tf}
	g.seen[full] = now

	return &models.Signal{
		Symbol:     symbol,
		Message:    p.Message,
		Price:      p.Price,
		Timeframe:  tf,
		Account:    acc.Name,
		ReceivedAt: now,
	}, acc, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
