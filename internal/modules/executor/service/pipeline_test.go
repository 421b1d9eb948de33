package service

import (
	"context"
	"testing"

	"arb_bot/internal/exchange"
	"arb_bot/internal/models"
	possvc "arb_bot/internal/modules/positions/service"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeOrders struct {
	placedSides []models.Side
	repoPlaced  int
	repoSkip    bool
	repoClosed  int
	orderErr    error
}

func (f *fakeOrders) PlaceOrder(_ context.Context, _ *models.Account, _ string, side models.Side, _, _ decimal.Decimal) (*exchange.OrderResponse, error) {
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.placedSides = append(f.placedSides, side)
	return &exchange.OrderResponse{}, nil
}

func (f *fakeOrders) PlaceRepo(_ context.Context, _ *models.Account, _ models.RepoDetails) (*exchange.RepoResult, error) {
	f.repoPlaced++
	return &exchange.RepoResult{Skipped: f.repoSkip}, nil
}

func (f *fakeOrders) CloseRepo(_ context.Context, _ *models.Account, _ string) error {
	f.repoClosed++
	return nil
}

type fakeVerifier struct {
	hasRepo   bool
	refreshes int
	// позиция, которую refresh принудительно кладёт в стор
	refreshTo *decimal.Decimal
	store     *possvc.Store
}

func (f *fakeVerifier) RefreshPositions(_ context.Context, _ *models.Account) error {
	f.refreshes++
	if f.refreshTo != nil && f.store != nil {
		f.store.Set("BTC/USDC", models.Position{Quantity: *f.refreshTo})
	}
	return nil
}

func (f *fakeVerifier) VerifyRepoStatus(_ context.Context, _ *models.Account, _ string) bool {
	return f.hasRepo
}

func pipelineFixture(position, strict string) (*Pipeline, *fakeOrders, *fakeVerifier, *models.Account) {
	acc := &models.Account{
		Name:         "test",
		TradingPairs: []string{"BTC/USDC"},
		Currencies: map[string]models.CurrencySettings{
			"BTC": {
				MinQuantity:      d("0.001"),
				StrictLimit:      d(strict),
				RepoQuantity:     d("0.001"),
				TruncateDecimals: 3,
			},
		},
	}
	keeper := possvc.NewKeeper(map[string]*models.Account{"test": acc})
	store, _ := keeper.ForAccount("test")
	store.Set("BTC/USDC", models.Position{Quantity: d(position)})

	orders := &fakeOrders{}
	ver := &fakeVerifier{store: store}
	p := NewPipeline(orders, ver, keeper)
	p.settleDelay = 0
	return p, orders, ver, acc
}

func step(kind models.StepKind) models.TradeStep {
	return models.TradeStep{Kind: kind, Quantity: d("0.001")}
}

func repoDetails() *models.RepoDetails {
	return &models.RepoDetails{Symbol: "BTC/USDC110", Quantity: d("0.001"), InterestRate: d("10")}
}

func TestPipelinePreflightAbortsOnLimit(t *testing.T) {
	p, orders, _, acc := pipelineFixture("0", "0.002")

	seq := models.TradeSequence{
		Steps:      []models.TradeStep{step(models.StepOpenLong), step(models.StepOpenLong)},
		Sequential: true,
	}
	_, err := p.Run(context.Background(), acc, "BTC/USDC", d("100"), seq)
	if !errors.Is(err, ErrLimitBreached) {
		t.Fatalf("err = %v, want ErrLimitBreached", err)
	}
	if len(orders.placedSides) != 0 {
		t.Fatalf("orders placed before preflight abort: %v", orders.placedSides)
	}
}

func TestPipelineSequentialAbortOnFailure(t *testing.T) {
	p, orders, _, acc := pipelineFixture("0", "0.1")
	orders.orderErr = errors.New("venue rejected")

	seq := models.TradeSequence{
		Steps:      []models.TradeStep{step(models.StepOpenShort), step(models.StepOpenRepo)},
		Sequential: true,
		Repo:       repoDetails(),
	}
	res, err := p.Run(context.Background(), acc, "BTC/USDC", d("100"), seq)
	if err == nil {
		t.Fatal("expected error from failed sequential step")
	}
	if orders.repoPlaced != 0 {
		t.Fatal("repo step executed after a failed sequential step")
	}
	if res == nil {
		t.Fatal("partial result expected even on failure")
	}
}

func TestPipelineRepoDedupWithinRequest(t *testing.T) {
	p, orders, _, acc := pipelineFixture("0", "0.1")

	seq := models.TradeSequence{
		Steps:      []models.TradeStep{step(models.StepOpenRepo), step(models.StepOpenRepo)},
		Sequential: true,
		Repo:       repoDetails(),
	}
	res, err := p.Run(context.Background(), acc, "BTC/USDC", d("100"), seq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orders.repoPlaced != 1 {
		t.Fatalf("repoPlaced = %d, want 1", orders.repoPlaced)
	}
	if len(res.Steps) != 2 || res.Steps[0].Skipped || !res.Steps[1].Skipped {
		t.Fatalf("unexpected step results: %+v", res.Steps)
	}
}

func TestPipelineRepoSkippedWhenAlreadyOpen(t *testing.T) {
	p, orders, ver, acc := pipelineFixture("0", "0.1")
	ver.hasRepo = true

	seq := models.TradeSequence{
		Steps: []models.TradeStep{step(models.StepOpenRepo)},
		Repo:  repoDetails(),
	}
	res, err := p.Run(context.Background(), acc, "BTC/USDC", d("100"), seq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orders.repoPlaced != 0 {
		t.Fatal("repo placed despite existing repo")
	}
	if len(res.Steps) != 1 || !res.Steps[0].Skipped {
		t.Fatalf("unexpected step results: %+v", res.Steps)
	}
}

func TestPipelineCloseRepoNoopWhenAbsent(t *testing.T) {
	p, orders, _, acc := pipelineFixture("0", "0.1")

	seq := models.TradeSequence{
		Steps: []models.TradeStep{{Kind: models.StepCloseRepo}},
		Repo:  repoDetails(),
	}
	res, err := p.Run(context.Background(), acc, "BTC/USDC", d("100"), seq)
	if err != nil {
		t.Fatalf("closing an absent repo must succeed, got %v", err)
	}
	if orders.repoClosed != 0 {
		t.Fatal("close sent for a repo that does not exist")
	}
	if len(res.Steps) != 1 || !res.Steps[0].Skipped {
		t.Fatalf("unexpected step results: %+v", res.Steps)
	}
}

func TestPipelineStopsEarlyWhenLimitReached(t *testing.T) {
	p, orders, ver, acc := pipelineFixture("0", "0.005")
	atLimit := d("0.005")
	ver.refreshTo = &atLimit

	seq := models.TradeSequence{
		Steps:      []models.TradeStep{step(models.StepOpenLong), step(models.StepOpenLong)},
		Sequential: true,
	}
	res, err := p.Run(context.Background(), acc, "BTC/USDC", d("100"), seq)
	if err != nil {
		t.Fatalf("early stop is not an error, got %v", err)
	}
	if len(orders.placedSides) != 1 {
		t.Fatalf("placed %d orders, want 1 (stop after limit reached)", len(orders.placedSides))
	}
	if len(res.Steps) != 1 {
		t.Fatalf("res.Steps = %+v, want single executed step", res.Steps)
	}
}

func TestPipelineExecutesFullSellSequence(t *testing.T) {
	p, orders, _, acc := pipelineFixture("0.001", "0.1")

	seq := models.TradeSequence{
		Steps: []models.TradeStep{
			step(models.StepOpenShort),
			step(models.StepOpenRepo),
			step(models.StepOpenShort),
		},
		Sequential: true,
		Repo:       repoDetails(),
	}
	res, err := p.Run(context.Background(), acc, "BTC/USDC", d("100"), seq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Steps) != 3 {
		t.Fatalf("executed %d steps, want 3", len(res.Steps))
	}
	if len(orders.placedSides) != 2 || orders.placedSides[0] != models.SideAsk || orders.placedSides[1] != models.SideAsk {
		t.Fatalf("placed sides = %v", orders.placedSides)
	}
	if orders.repoPlaced != 1 {
		t.Fatalf("repoPlaced = %d, want 1", orders.repoPlaced)
	}
}
