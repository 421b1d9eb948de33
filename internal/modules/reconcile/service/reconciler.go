package service

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"arb_bot/internal/exchange"
	"arb_bot/internal/helper"
	"arb_bot/internal/models"
	possvc "arb_bot/internal/modules/positions/service"
	"arb_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const minRefreshInterval = time.Second

// Reconciler сверяет стор с pull-API: балансы и статусы репо.
// Push-фид и REST иногда расходятся; здесь расхождение лечится
// согласно политике аккаунта.
type Reconciler struct {
	ex     *exchange.Client
	keeper *possvc.Keeper
	http   *http.Client

	mu          sync.Mutex
	lastRefresh map[string]time.Time // account -> время последнего pull
}

func NewReconciler(ex *exchange.Client, keeper *possvc.Keeper) *Reconciler {
	return &Reconciler{
		ex:          ex,
		keeper:      keeper,
		http:        &http.Client{Timeout: 10 * time.Second},
		lastRefresh: make(map[string]time.Time),
	}
}

// RefreshPositions подтягивает балансы по REST и вливает их в стор так же,
// как push-обновление. Не чаще раза в секунду на аккаунт.
func (r *Reconciler) RefreshPositions(ctx context.Context, acc *models.Account) error {
	r.mu.Lock()
	if time.Since(r.lastRefresh[acc.Name]) < minRefreshInterval {
		r.mu.Unlock()
		logger.Debug("[%s] skipping refresh due to rate limiting", acc.Name)
		return nil
	}
	r.lastRefresh[acc.Name] = time.Now()
	r.mu.Unlock()

	store, ok := r.keeper.ForAccount(acc.Name)
	if !ok {
		return errors.Errorf("no position store for account %s", acc.Name)
	}

	token, err := r.ex.Login(ctx, acc)
	if err != nil {
		return errors.Wrap(err, "refresh positions")
	}

	base := strings.TrimSuffix(acc.Credentials.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/rest/balances", nil)
	if err != nil {
		return errors.Wrap(err, "refresh positions: new request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "refresh positions: do")
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("refresh positions: http %d: %s", resp.StatusCode, string(rb))
	}

	var out struct {
		Content []struct {
			Symbol    string          `json:"symbol"`
			Available decimal.Decimal `json:"available"`
			Pending   decimal.Decimal `json:"pending"`
		} `json:"content"`
	}
	if err := sonic.Unmarshal(rb, &out); err != nil {
		return errors.Wrap(err, "refresh positions: decode")
	}

	updates := make([]possvc.BalanceUpdate, 0, len(out.Content))
	for _, b := range out.Content {
		if !strings.Contains(b.Symbol, "/") {
			continue
		}
		updates = append(updates, possvc.BalanceUpdate{
			Symbol:   b.Symbol,
			Quantity: b.Available,
			Pending:  b.Pending,
		})
	}
	store.ApplyBalances(updates)

	logger.Debug("[%s] positions refreshed from API (%d symbols)", acc.Name, len(updates))
	return nil
}

// VerifyRepoStatus сверяет кэшированный репо-флаг с REST.
// При удачном запросе и расхождении применяется политика аккаунта
// (api_wins перезаписывает кэш), при неудачном — возвращается кэш как есть.
func (r *Reconciler) VerifyRepoStatus(ctx context.Context, acc *models.Account, symbol string) bool {
	store, ok := r.keeper.ForAccount(acc.Name)
	if !ok {
		return false
	}

	cached := store.GetRepoStatus(symbol)
	repoSymbol := helper.RepoSymbol(symbol)

	contract, err := r.ex.RepoDetails(ctx, acc, repoSymbol)
	if err != nil {
		logger.Debug("[%s] repo status check failed for %s, using cached=%v: %v", acc.Name, symbol, cached, err)
		return cached
	}

	apiHas := contract != nil
	if apiHas == cached {
		return cached
	}

	logger.Warn("[%s] repo status mismatch for %s: cached=%v api=%v (policy %s)",
		acc.Name, symbol, cached, apiHas, acc.Trading.RepoPolicy)

	if acc.Trading.RepoPolicy == models.RepoPolicyPushWins {
		return cached
	}

	store.SetRepoStatus(symbol, apiHas)
	return apiHas
}

// VerifyAllRepos гоняет проверку по всем парам аккаунта. Запускается
// монитором каждый N-й цикл для самовосстановления дрейфа.
func (r *Reconciler) VerifyAllRepos(ctx context.Context, acc *models.Account) {
	for _, symbol := range acc.TradingPairs {
		r.VerifyRepoStatus(ctx, acc, symbol)
	}
}
