package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"arb_bot/internal/exchange"
	"arb_bot/internal/models"
	"arb_bot/internal/modules/config"
	possvc "arb_bot/internal/modules/positions/service"
	reconsvc "arb_bot/internal/modules/reconcile/service"
	"arb_bot/internal/notify"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func monitorFixture(t *testing.T, apiURL string) (*Monitor, *possvc.Store, *models.Account) {
	t.Helper()
	acc := &models.Account{
		Name: "test",
		Credentials: models.Credentials{
			APIKey:    "key",
			APISecret: "secret",
			APIURL:    apiURL,
			BaseURL:   apiURL,
		},
		TradingPairs: []string{"BTC/USDC"},
		Currencies: map[string]models.CurrencySettings{
			"BTC": {
				MinQuantity:       d("0.001"),
				StrictLimit:       d("0.002"),
				AutoShortQuantity: d("0.001"),
				PriceDecimals:     2,
				TruncateDecimals:  3,
			},
		},
		Trading: models.TradingSettings{
			TIF:           "GTC",
			MaxRetries:    1,
			RetryDelay:    time.Millisecond,
			BidAdjustment: d("1.05"),
			AskAdjustment: d("0.95"),
			AutoShort: models.AutoShortSettings{
				Enabled:         true,
				Cooldown:        5 * time.Minute,
				PriceAdjustment: d("0.95"),
			},
		},
	}

	cfg := &config.Config{
		MonitorInterval: 30 * time.Second,
		RepoCheckEvery:  5,
		Accounts:        map[string]*models.Account{"test": acc},
	}
	keeper := possvc.NewKeeper(cfg.Accounts)
	store, _ := keeper.ForAccount("test")
	ex := exchange.NewClient()
	m := NewMonitor(cfg, keeper, reconsvc.NewReconciler(ex, keeper), ex, notify.NewStdout())
	return m, store, acc
}

func TestAutoShortPlacedAtLimit(t *testing.T) {
	var orders atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/orders" {
			orders.Add(1)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	m, store, acc := monitorFixture(t, srv.URL)
	store.Set("BTC/USDC", models.Position{Quantity: d("0.002")})
	store.SetLastPrice("BTC/USDC", d("50000"))

	m.checkAutoShort(context.Background(), acc, store, "BTC/USDC")
	if orders.Load() != 1 {
		t.Fatalf("orders = %d, want 1", orders.Load())
	}

	// повтор внутри кулдауна молчит
	m.checkAutoShort(context.Background(), acc, store, "BTC/USDC")
	if orders.Load() != 1 {
		t.Fatalf("orders = %d after cooldown hit, want 1", orders.Load())
	}
}

func TestAutoShortBelowLimitDoesNothing(t *testing.T) {
	var orders atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orders.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	m, store, acc := monitorFixture(t, srv.URL)
	store.Set("BTC/USDC", models.Position{Quantity: d("0.001")})
	store.SetLastPrice("BTC/USDC", d("50000"))

	m.checkAutoShort(context.Background(), acc, store, "BTC/USDC")
	if orders.Load() != 0 {
		t.Fatalf("orders = %d, want 0 below limit", orders.Load())
	}
}

func TestAutoShortWithoutPriceSkips(t *testing.T) {
	var orders atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orders.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	m, store, acc := monitorFixture(t, srv.URL)
	store.Set("BTC/USDC", models.Position{Quantity: d("0.002")})

	m.checkAutoShort(context.Background(), acc, store, "BTC/USDC")
	if orders.Load() != 0 {
		t.Fatalf("orders = %d, want 0 without last price", orders.Load())
	}
}

func TestMonitorStartStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sso/api/login" {
			w.Header().Set("Authorization", "Bearer t")
		}
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	m, _, _ := monitorFixture(t, srv.URL)
	m.Start()
	m.Start() // повторный старт — no-op
	time.Sleep(10 * time.Millisecond)
	m.Stop()
	m.Stop() // повторный стоп — no-op
}
