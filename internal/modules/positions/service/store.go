package service

import (
	"sort"
	"sync"
	"time"

	"arb_bot/internal/helper"
	"arb_bot/internal/models"
	"arb_bot/pkg/logger"

	"github.com/shopspring/decimal"
)

// Store — партиция позиций одного аккаунта. Делится между горутиной фида,
// таймером реконсиляции и обработчиками вебхука, поэтому все обращения
// идут под одним мьютексом.
type Store struct {
	account *models.Account

	mu        sync.RWMutex
	positions map[string]models.Position // symbol -> позиция
	repos     map[string]bool            // base symbol (BTC/USDC) -> открыт ли репо
	prices    map[string]decimal.Decimal // symbol -> последняя цена из тикера
	connected bool
}

func NewStore(acc *models.Account) *Store {
	return &Store{
		account:   acc,
		positions: make(map[string]models.Position),
		repos:     make(map[string]bool),
		prices:    make(map[string]decimal.Decimal),
	}
}

func (s *Store) Account() *models.Account { return s.account }

func (s *Store) Get(symbol string) models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[symbol]
}

func (s *Store) Set(symbol string, p models.Position) {
	s.mu.Lock()
	s.positions[symbol] = p
	s.mu.Unlock()
}

// TruncatedQuantity режет количество К НУЛЮ до точности валюты.
// Усечение никогда не увеличивает позицию: если по какой-то причине
// |truncated| > |raw|, возвращается сырое значение.
func (s *Store) TruncatedQuantity(symbol string) decimal.Decimal {
	raw := s.Get(symbol).Quantity
	cs := s.account.Currency(helper.BaseCurrency(symbol))

	truncated := raw.Truncate(cs.TruncateDecimals)
	if truncated.Abs().GreaterThan(raw.Abs()) {
		logger.Warn("[%s] truncation of %s produced %s > raw %s, falling back to raw",
			s.account.Name, symbol, truncated, raw)
		return raw
	}
	return truncated
}

func (s *Store) GetRepoStatus(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repos[helper.SpotSymbol(symbol)]
}

func (s *Store) SetRepoStatus(symbol string, has bool) {
	s.mu.Lock()
	s.repos[helper.SpotSymbol(symbol)] = has
	s.mu.Unlock()
}

// ResetRepos чистит кэш репо-флагов. Вызывается при (ре)старте фида:
// статус не переживает реконнект, его восстановит push или реконсиляция.
func (s *Store) ResetRepos() {
	s.mu.Lock()
	s.repos = make(map[string]bool)
	s.mu.Unlock()
}

func (s *Store) SetLastPrice(symbol string, px decimal.Decimal) {
	s.mu.Lock()
	s.prices[symbol] = px
	s.mu.Unlock()
}

func (s *Store) LastPrice(symbol string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prices[symbol]
}

func (s *Store) SetConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// BalanceUpdate — одно обновление баланса, из push-фида или из REST.
type BalanceUpdate struct {
	Symbol   string
	Quantity decimal.Decimal
	Pending  decimal.Decimal
}

// ApplyBalances вливает пачку балансов. Репо-символы дополнительно
// взводят флаг репо для своей базовой пары.
func (s *Store) ApplyBalances(updates []BalanceUpdate) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		if helper.IsRepoSymbol(u.Symbol) {
			s.repos[helper.SpotSymbol(u.Symbol)] = true
		}
		s.positions[u.Symbol] = models.Position{
			Quantity:   u.Quantity,
			Pending:    u.Pending,
			LastUpdate: now,
		}
	}
}

func (s *Store) Snapshot() map[string]models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Position, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out
}

// Keeper раздаёт партиции сторов по имени аккаунта.
type Keeper struct {
	stores map[string]*Store
}

func NewKeeper(accounts map[string]*models.Account) *Keeper {
	k := &Keeper{stores: make(map[string]*Store, len(accounts))}
	for name, acc := range accounts {
		k.stores[name] = NewStore(acc)
	}
	return k
}

func (k *Keeper) ForAccount(name string) (*Store, bool) {
	s, ok := k.stores[name]
	return s, ok
}

// Accounts возвращает имена аккаунтов в стабильном порядке.
func (k *Keeper) Accounts() []string {
	names := make([]string, 0, len(k.stores))
	for name := range k.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
