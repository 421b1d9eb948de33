package service

import (
	"context"
	"time"

	"arb_bot/internal/exchange"
	"arb_bot/internal/helper"
	"arb_bot/internal/models"
	possvc "arb_bot/internal/modules/positions/service"
	"arb_bot/pkg/logger"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrLimitBreached — преф-лайт отклонил последовательность: симуляция шагов
// упирается в strict limit ещё до размещения заявок.
var ErrLimitBreached = errors.New("position limit breached")

// OrderAPI — то, что пайплайну нужно от ордерного клиента.
type OrderAPI interface {
	PlaceOrder(ctx context.Context, acc *models.Account, symbol string, side models.Side, price, qty decimal.Decimal) (*exchange.OrderResponse, error)
	PlaceRepo(ctx context.Context, acc *models.Account, det models.RepoDetails) (*exchange.RepoResult, error)
	CloseRepo(ctx context.Context, acc *models.Account, repoSymbol string) error
}

// Verifier — реконсиляция, от которой пайплайн берёт свежие позиции
// и проверку статуса репо.
type Verifier interface {
	RefreshPositions(ctx context.Context, acc *models.Account) error
	VerifyRepoStatus(ctx context.Context, acc *models.Account, symbol string) bool
}

// Result — итог выполнения последовательности.
type Result struct {
	Steps         []models.StepResult
	FinalPosition decimal.Decimal
}

// Pipeline выполняет TradeSequence шаг за шагом, строго по порядку.
type Pipeline struct {
	orders OrderAPI
	ver    Verifier
	keeper *possvc.Keeper

	// пауза после мутирующего шага, чтобы площадка успела отразить сделку
	settleDelay time.Duration
}

func NewPipeline(orders OrderAPI, ver Verifier, keeper *possvc.Keeper) *Pipeline {
	return &Pipeline{
		orders:      orders,
		ver:         ver,
		keeper:      keeper,
		settleDelay: time.Second,
	}
}

// WithSettleDelay переопределяет паузу между шагами.
func (p *Pipeline) WithSettleDelay(d time.Duration) *Pipeline {
	p.settleDelay = d
	return p
}

func (p *Pipeline) Run(
	ctx context.Context,
	acc *models.Account,
	symbol string,
	price decimal.Decimal,
	seq models.TradeSequence,
) (*Result, error) {
	store, ok := p.keeper.ForAccount(acc.Name)
	if !ok {
		return nil, errors.Errorf("no position store for account %s", acc.Name)
	}

	cs := acc.Currency(helper.BaseCurrency(symbol))
	strict := cs.StrictLimit

	// преф-лайт: прикидываем конечную позицию по всем лонг/шорт шагам
	if err := p.preflight(store, symbol, strict, seq); err != nil {
		return nil, err
	}

	res := &Result{}
	// репо-операции, уже отработанные в этом запросе, по базовой валюте
	repoOps := make(map[string]string)

	for i, step := range seq.Steps {
		logger.Info("[%s] executing step %d/%d: %s", acc.Name, i+1, len(seq.Steps), step.Kind)

		var stop bool
		var err error
		switch step.Kind {
		case models.StepOpenLong:
			stop, err = p.placeSide(ctx, acc, store, symbol, models.SideBid, price, step.Quantity, strict, seq, i, res)
		case models.StepOpenShort:
			stop, err = p.placeSide(ctx, acc, store, symbol, models.SideAsk, price, step.Quantity, strict, seq, i, res)
		case models.StepOpenRepo:
			err = p.openRepo(ctx, acc, symbol, seq, repoOps, res)
		case models.StepCloseRepo:
			err = p.closeRepo(ctx, acc, symbol, step, seq, repoOps, res)
		default:
			err = errors.Errorf("unknown step kind %q", step.Kind)
		}

		if err != nil {
			if seq.Sequential {
				return res, errors.Wrapf(err, "step %s failed, aborting remaining steps", step.Kind)
			}
			res.Steps = append(res.Steps, models.StepResult{Step: step.Kind, Error: err.Error()})
			continue
		}
		if stop {
			break
		}
	}

	p.settle(ctx)
	_ = p.ver.RefreshPositions(ctx, acc)
	res.FinalPosition = store.TruncatedQuantity(symbol)
	return res, nil
}

func (p *Pipeline) preflight(store *possvc.Store, symbol string, strict decimal.Decimal, seq models.TradeSequence) error {
	estimate := store.TruncatedQuantity(symbol)
	for _, step := range seq.Steps {
		switch step.Kind {
		case models.StepOpenLong:
			estimate = estimate.Add(step.Quantity)
		case models.StepOpenShort:
			estimate = estimate.Sub(step.Quantity)
		}
	}
	if estimate.GreaterThanOrEqual(strict) {
		return errors.Wrapf(ErrLimitBreached,
			"planned operations would result in position %s, exceeding limit %s", estimate, strict)
	}
	return nil
}

// placeSide размещает лонг/шорт и перепроверяет лимит по свежей позиции.
// stop=true — лимит достигнут, оставшиеся последовательные шаги пропускаем
// (это штатная ранняя остановка, не ошибка).
func (p *Pipeline) placeSide(
	ctx context.Context,
	acc *models.Account,
	store *possvc.Store,
	symbol string,
	side models.Side,
	price, qty, strict decimal.Decimal,
	seq models.TradeSequence,
	idx int,
	res *Result,
) (bool, error) {
	if _, err := p.orders.PlaceOrder(ctx, acc, symbol, side, price, qty); err != nil {
		return false, err
	}

	kind := models.StepOpenLong
	if side == models.SideAsk {
		kind = models.StepOpenShort
	}
	res.Steps = append(res.Steps, models.StepResult{Step: kind})

	p.settle(ctx)
	_ = p.ver.RefreshPositions(ctx, acc)

	current := store.TruncatedQuantity(symbol)
	if current.GreaterThanOrEqual(strict) {
		logger.Warn("[%s] position limit reached after %s: %s >= %s", acc.Name, kind, current, strict)
		if seq.Sequential && idx < len(seq.Steps)-1 {
			logger.Warn("[%s] skipping remaining steps to avoid exceeding position limits", acc.Name)
			return true, nil
		}
	}
	return false, nil
}

// openRepo защищён тремя слоями от дублей: карта запроса, сверка статуса,
// серверная проверка внутри PlaceRepo. Любой слой даёт skipped, не ошибку.
func (p *Pipeline) openRepo(
	ctx context.Context,
	acc *models.Account,
	symbol string,
	seq models.TradeSequence,
	repoOps map[string]string,
	res *Result,
) error {
	if seq.Repo == nil {
		return errors.New("missing repo details for open_repo step")
	}
	base := helper.BaseCurrency(seq.Repo.Symbol)

	if _, done := repoOps[base]; done {
		logger.Warn("[%s] already processed repo for %s in this request, skipping duplicate", acc.Name, base)
		res.Steps = append(res.Steps, models.StepResult{
			Step: models.StepOpenRepo, Skipped: true,
			Reason: "repo already processed for " + base + " in this request",
		})
		return nil
	}

	if p.ver.VerifyRepoStatus(ctx, acc, symbol) {
		logger.Warn("[%s] skipping repo open - repo already exists for %s", acc.Name, symbol)
		repoOps[base] = "skipped"
		res.Steps = append(res.Steps, models.StepResult{
			Step: models.StepOpenRepo, Skipped: true, Reason: "repo already exists",
		})
		return nil
	}

	result, err := p.orders.PlaceRepo(ctx, acc, *seq.Repo)
	repoOps[base] = "processed"
	if err != nil {
		return err
	}

	if result.Skipped {
		res.Steps = append(res.Steps, models.StepResult{
			Step: models.StepOpenRepo, Skipped: true, Reason: "repo already exists (API verification)",
		})
	} else {
		res.Steps = append(res.Steps, models.StepResult{Step: models.StepOpenRepo})
	}

	p.settle(ctx)
	_ = p.ver.RefreshPositions(ctx, acc)
	return nil
}

// closeRepo: закрытие несуществующего репо — успех, не ошибка.
func (p *Pipeline) closeRepo(
	ctx context.Context,
	acc *models.Account,
	symbol string,
	step models.TradeStep,
	seq models.TradeSequence,
	repoOps map[string]string,
	res *Result,
) error {
	repoSymbol := step.RepoSymbol
	if repoSymbol == "" && seq.Repo != nil {
		repoSymbol = seq.Repo.Symbol
	}
	if repoSymbol == "" {
		repoSymbol = helper.RepoSymbol(symbol)
	}
	base := helper.BaseCurrency(repoSymbol)

	if prev, done := repoOps[base]; done {
		logger.Warn("[%s] repo for %s already %s in this request, proceeding with caution", acc.Name, base, prev)
	}

	if !p.ver.VerifyRepoStatus(ctx, acc, symbol) {
		logger.Warn("[%s] no repo exists for %s, skipping close_repo", acc.Name, symbol)
		res.Steps = append(res.Steps, models.StepResult{
			Step: models.StepCloseRepo, Skipped: true, Reason: "no repo exists to close",
		})
		return nil
	}

	if err := p.orders.CloseRepo(ctx, acc, repoSymbol); err != nil {
		return err
	}
	repoOps[base] = "closed"
	res.Steps = append(res.Steps, models.StepResult{Step: models.StepCloseRepo})

	p.settle(ctx)
	_ = p.ver.RefreshPositions(ctx, acc)
	return nil
}

func (p *Pipeline) settle(ctx context.Context) {
	if p.settleDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(p.settleDelay):
	}
}
