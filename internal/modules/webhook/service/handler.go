package service

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"arb_bot/internal/exchange"
	"arb_bot/internal/helper"
	"arb_bot/internal/models"
	"arb_bot/internal/modules/config"
	enginesvc "arb_bot/internal/modules/engine/service"
	execsvc "arb_bot/internal/modules/executor/service"
	gatesvc "arb_bot/internal/modules/gate/service"
	journalsvc "arb_bot/internal/modules/journal/service"
	possvc "arb_bot/internal/modules/positions/service"
	reconsvc "arb_bot/internal/modules/reconcile/service"
	"arb_bot/internal/notify"
	"arb_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Handler обслуживает вебхук и сервисные ручки.
// busy гарантирует один торговый запрос за раз: второй получает 429, не очередь.
type Handler struct {
	cfg     *config.Config
	gate    *gatesvc.Gate
	keeper  *possvc.Keeper
	rec     *reconsvc.Reconciler
	pipe    *execsvc.Pipeline
	ex      *exchange.Client
	journal *journalsvc.Journal
	notify  notify.Notifier
	tracer  opentracing.Tracer

	busy sync.Mutex
}

func NewHandler(
	cfg *config.Config,
	gate *gatesvc.Gate,
	keeper *possvc.Keeper,
	rec *reconsvc.Reconciler,
	pipe *execsvc.Pipeline,
	ex *exchange.Client,
	journal *journalsvc.Journal,
	notifier notify.Notifier,
	tracer opentracing.Tracer,
) *Handler {
	return &Handler{
		cfg:     cfg,
		gate:    gate,
		keeper:  keeper,
		rec:     rec,
		pipe:    pipe,
		ex:      ex,
		journal: journal,
		notify:  notifier,
		tracer:  tracer,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	data, err := sonic.Marshal(v)
	if err != nil {
		logger.Error("webhook: marshal response: %v", err)
		return
	}
	_, _ = w.Write(data)
}

func errResponse(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

// Webhook — POST /webhook, единственная торгующая ручка.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !h.busy.TryLock() {
		errResponse(w, http.StatusTooManyRequests, "another signal is being processed")
		return
	}
	defer h.busy.Unlock()

	span := h.tracer.StartSpan("webhook_signal")
	defer span.Finish()
	ctx := opentracing.ContextWithSpan(r.Context(), span)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		errResponse(w, http.StatusBadRequest, "cannot read body")
		return
	}

	var payload gatesvc.Payload
	if err := sonic.Unmarshal(body, &payload); err != nil {
		errResponse(w, http.StatusBadRequest, "invalid json")
		return
	}

	sig, acc, err := h.gate.Admit(payload)
	if err != nil {
		if errors.Is(err, gatesvc.ErrDuplicate) || errors.Is(err, gatesvc.ErrThrottled) {
			logger.Info("signal rejected: %v", err)
		} else {
			logger.Warn("signal rejected: %v", err)
		}
		errResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	span.SetTag("account", acc.Name)
	span.SetTag("symbol", sig.Symbol)
	span.SetTag("message", sig.Message)

	store, ok := h.keeper.ForAccount(acc.Name)
	if !ok {
		errResponse(w, http.StatusInternalServerError, "no position store for account")
		return
	}

	if err := h.rec.RefreshPositions(ctx, acc); err != nil {
		logger.Warn("[%s] refresh before decision failed: %v", acc.Name, err)
	}

	cs := acc.Currency(helper.BaseCurrency(sig.Symbol))
	position := store.TruncatedQuantity(sig.Symbol)
	hasRepo := h.rec.VerifyRepoStatus(ctx, acc, sig.Symbol)

	logger.Info("[%s] %s %s: position=%s repo=%v", acc.Name, sig.Symbol, sig.Message, position, hasRepo)

	seq := enginesvc.Decide(sig.Side(), position, hasRepo, cs.MinQuantity, cs.StrictLimit)
	if seq.Empty() {
		msg := seq.Message
		if msg == "" {
			msg = "no action required"
		}
		h.record(sig, nil, position, nil)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":          true,
			"account":          acc.Name,
			"message":          msg,
			"current_position": position,
		})
		return
	}

	seq.Repo = &models.RepoDetails{
		Symbol:       helper.RepoSymbol(sig.Symbol),
		Quantity:     cs.RepoQuantity,
		InterestRate: acc.Trading.RepoInterestRate,
	}

	res, err := h.pipe.Run(ctx, acc, sig.Symbol, sig.Price, seq)
	if err != nil {
		if errors.Is(err, execsvc.ErrLimitBreached) {
			h.record(sig, nil, position, err)
			errResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		span.SetTag("error", true)
		var steps []models.StepResult
		final := position
		if res != nil {
			steps = res.Steps
			final = store.TruncatedQuantity(sig.Symbol)
		}
		h.notify.Sendf("[%s] %s %s: FAILED: %v", acc.Name, sig.Symbol, sig.Message, err)
		h.record(sig, steps, final, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"account": acc.Name,
			"error":   err.Error(),
			"orders":  steps,
		})
		return
	}

	h.notify.Sendf("[%s] %s %s: %d step(s) done, position %s",
		acc.Name, sig.Symbol, sig.Message, len(res.Steps), res.FinalPosition)
	h.record(sig, res.Steps, res.FinalPosition, nil)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"account":        acc.Name,
		"orders":         res.Steps,
		"message":        seq.Message,
		"final_position": res.FinalPosition,
	})
}

// record пишет в журнал вне контекста запроса, чтобы ответ не ждал базу.
func (h *Handler) record(sig *models.Signal, steps []models.StepResult, final decimal.Decimal, execErr error) {
	if !h.journal.Enabled() {
		return
	}
	go h.journal.Record(context.Background(), sig, steps, final, execErr)
}

// Positions — GET /positions, снапшот по всем аккаунтам.
func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any)
	for _, name := range h.keeper.Accounts() {
		store, ok := h.keeper.ForAccount(name)
		if !ok {
			continue
		}
		positions := make(map[string]any)
		repos := make(map[string]bool)
		for symbol, pos := range store.Snapshot() {
			positions[symbol] = map[string]any{
				"quantity":  pos.Quantity,
				"truncated": store.TruncatedQuantity(symbol),
				"pending":   pos.Pending,
			}
			repos[symbol] = store.GetRepoStatus(symbol)
		}
		out[name] = map[string]any{
			"feed_connected": store.Connected(),
			"positions":      positions,
			"repos":          repos,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Health — GET /health: связность фидов, репо-флаги и статус лимитов по парам.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	accounts := make(map[string]any)
	for _, name := range h.keeper.Accounts() {
		store, ok := h.keeper.ForAccount(name)
		if !ok {
			continue
		}
		acc := store.Account()
		pairs := make(map[string]any)
		for _, symbol := range acc.TradingPairs {
			cs := acc.Currency(helper.BaseCurrency(symbol))
			pos := store.TruncatedQuantity(symbol)
			pairs[symbol] = map[string]any{
				"position":     pos,
				"repo":         store.GetRepoStatus(symbol),
				"within_limit": pos.LessThan(cs.StrictLimit),
			}
		}
		accounts[name] = map[string]any{
			"feed_connected": store.Connected(),
			"auto_short":     acc.Trading.AutoShort.Enabled,
			"pairs":          pairs,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"accounts":  accounts,
	})
}

type autoShortRequest struct {
	Account  string          `json:"account"`
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
}

// AutoShort — POST /auto-short, ручной шорт на объём auto_short_quantity
// по последней цене из фида.
func (h *Handler) AutoShort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req autoShortRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		errResponse(w, http.StatusBadRequest, "invalid json")
		return
	}

	acc, ok := h.cfg.Account(req.Account)
	if !ok {
		errResponse(w, http.StatusBadRequest, "unknown account")
		return
	}
	if !acc.HasPair(req.Symbol) {
		errResponse(w, http.StatusBadRequest, "account does not trade this symbol")
		return
	}

	store, _ := h.keeper.ForAccount(acc.Name)
	price := store.LastPrice(req.Symbol)
	if price.Sign() <= 0 {
		errResponse(w, http.StatusConflict, "no last price for symbol yet")
		return
	}

	cs := acc.Currency(helper.BaseCurrency(req.Symbol))
	qty := req.Quantity
	if qty.Sign() <= 0 {
		qty = cs.AutoShortQuantity
	}
	if qty.Sign() <= 0 {
		errResponse(w, http.StatusBadRequest, "auto_short_quantity not configured")
		return
	}

	adjusted := price.Mul(acc.Trading.AutoShort.PriceAdjustment)
	if _, err := h.ex.PlaceOrder(r.Context(), acc, req.Symbol, models.SideAsk, adjusted, qty); err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.notify.Sendf("[%s] manual auto-short %s %s @ %s", acc.Name, qty, req.Symbol, adjusted)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "account": acc.Name, "symbol": req.Symbol, "quantity": qty,
	})
}
