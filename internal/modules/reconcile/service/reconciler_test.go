package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"arb_bot/internal/exchange"
	"arb_bot/internal/models"
	possvc "arb_bot/internal/modules/positions/service"

	"github.com/shopspring/decimal"
)

type venue struct {
	balanceBody  string
	repoBody     string
	repoFail     bool
	balanceCalls atomic.Int32
}

// стенд: sso-логин, балансы и репо-контракты
func (v *venue) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/sso/api/login":
			w.Header().Set("Authorization", "Bearer test-token")
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/rest/balances":
			v.balanceCalls.Add(1)
			if r.Header.Get("Authorization") != "Bearer test-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(v.balanceBody))
		case r.URL.Path == "/rest/repocontract":
			if v.repoFail {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(v.repoBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func reconcilerFixture(t *testing.T, v *venue, policy models.RepoPolicy) (*Reconciler, *possvc.Store, *models.Account, func()) {
	t.Helper()
	srv := v.server()

	acc := &models.Account{
		Name: "test",
		Credentials: models.Credentials{
			APIKey:    "key",
			APISecret: "secret",
			Username:  "user",
			Password:  "pass",
			BaseURL:   srv.URL,
			WSURL:     "wss://unused",
		},
		TradingPairs: []string{"BTC/USDC"},
		Currencies: map[string]models.CurrencySettings{
			"BTC": {TruncateDecimals: 3},
		},
		Trading: models.TradingSettings{RepoPolicy: policy},
	}
	keeper := possvc.NewKeeper(map[string]*models.Account{"test": acc})
	store, _ := keeper.ForAccount("test")

	return NewReconciler(exchange.NewClient(), keeper), store, acc, srv.Close
}

func TestRefreshPositionsAppliesBalances(t *testing.T) {
	v := &venue{
		balanceBody: `{"content":[
			{"symbol":"USDC","available":"1000","pending":"0"},
			{"symbol":"BTC/USDC","available":"0.0015","pending":"0.0001"},
			{"symbol":"BTC/USDC110","available":"0.001","pending":"0"}
		]}`,
	}
	rec, store, acc, done := reconcilerFixture(t, v, models.RepoPolicyAPIWins)
	defer done()

	if err := rec.RefreshPositions(context.Background(), acc); err != nil {
		t.Fatalf("RefreshPositions: %v", err)
	}

	pos := store.Get("BTC/USDC")
	if !pos.Quantity.Equal(decimal.RequireFromString("0.0015")) {
		t.Fatalf("quantity = %s, want 0.0015", pos.Quantity)
	}
	if !pos.Pending.Equal(decimal.RequireFromString("0.0001")) {
		t.Fatalf("pending = %s, want 0.0001", pos.Pending)
	}
	if !store.GetRepoStatus("BTC/USDC") {
		t.Fatal("repo balance in REST response did not set repo flag")
	}
	if _, ok := store.Snapshot()["USDC"]; ok {
		t.Fatal("bare currency leaked into the store")
	}
}

func TestRefreshPositionsRateLimited(t *testing.T) {
	v := &venue{balanceBody: `{"content":[]}`}
	rec, _, acc, done := reconcilerFixture(t, v, models.RepoPolicyAPIWins)
	defer done()

	if err := rec.RefreshPositions(context.Background(), acc); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	// второй вызов внутри секунды не должен дойти до площадки
	if err := rec.RefreshPositions(context.Background(), acc); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if got := v.balanceCalls.Load(); got != 1 {
		t.Fatalf("balance calls = %d, want 1", got)
	}
}

func TestVerifyRepoStatusAPIWins(t *testing.T) {
	v := &venue{repoBody: `{"content":[{"id":42,"eventId":"e1"}]}`}
	rec, store, acc, done := reconcilerFixture(t, v, models.RepoPolicyAPIWins)
	defer done()

	// кэш говорит "нет", площадка говорит "есть": api_wins перезаписывает кэш
	if !rec.VerifyRepoStatus(context.Background(), acc, "BTC/USDC") {
		t.Fatal("expected repo=true from API")
	}
	if !store.GetRepoStatus("BTC/USDC") {
		t.Fatal("cache not updated under api_wins")
	}
}

func TestVerifyRepoStatusPushWins(t *testing.T) {
	v := &venue{repoBody: `{"content":[{"id":42,"eventId":"e1"}]}`}
	rec, store, acc, done := reconcilerFixture(t, v, models.RepoPolicyPushWins)
	defer done()

	if rec.VerifyRepoStatus(context.Background(), acc, "BTC/USDC") {
		t.Fatal("push_wins must keep the cached value")
	}
	if store.GetRepoStatus("BTC/USDC") {
		t.Fatal("cache overwritten under push_wins")
	}
}

func TestVerifyRepoStatusFallsBackToCacheOnError(t *testing.T) {
	v := &venue{repoFail: true}
	rec, store, acc, done := reconcilerFixture(t, v, models.RepoPolicyAPIWins)
	defer done()

	store.SetRepoStatus("BTC/USDC", true)
	if !rec.VerifyRepoStatus(context.Background(), acc, "BTC/USDC") {
		t.Fatal("expected cached value when API check fails")
	}
}

func TestVerifyRepoStatusAgreement(t *testing.T) {
	v := &venue{repoBody: `{"content":[]}`}
	rec, store, acc, done := reconcilerFixture(t, v, models.RepoPolicyAPIWins)
	defer done()

	if rec.VerifyRepoStatus(context.Background(), acc, "BTC/USDC") {
		t.Fatal("no contracts on venue, expected false")
	}
	if store.GetRepoStatus("BTC/USDC") {
		t.Fatal("cache flipped without mismatch")
	}
}
