package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"arb_bot/internal/models"

	"github.com/shopspring/decimal"
)

func testOrderAccount(apiURL string) *models.Account {
	return &models.Account{
		Name: "test",
		Credentials: models.Credentials{
			APIKey:      "key",
			APISecret:   "secret",
			APIURL:      apiURL,
			CustodianID: "cust-1",
		},
		TradingPairs: []string{"BTC/USDC"},
		Currencies: map[string]models.CurrencySettings{
			"BTC": {PriceDecimals: 2, TruncateDecimals: 3},
		},
		Trading: models.TradingSettings{
			TIF:           "GTC",
			MaxRetries:    3,
			RetryDelay:    time.Millisecond,
			BidAdjustment: decimal.RequireFromString("1.05"),
			AskAdjustment: decimal.RequireFromString("0.95"),
		},
	}
}

func TestPlaceOrderRetriesRetriableErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("No liquidity"))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient()
	resp, err := c.PlaceOrder(context.Background(), testOrderAccount(srv.URL), "BTC/USDC",
		models.SideBid, decimal.RequireFromString("50000"), decimal.RequireFromString("0.001"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	if resp.ClOrdID == "" {
		t.Fatal("response without clOrdId")
	}
}

func TestPlaceOrderStopsOnNonRetriableError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid symbol"}`))
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.PlaceOrder(context.Background(), testOrderAccount(srv.URL), "BTC/USDC",
		models.SideBid, decimal.RequireFromString("50000"), decimal.RequireFromString("0.001"))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on validation error)", calls.Load())
	}
}

func TestPlaceOrderWithoutRetryLimitStillPlaces(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	acc := testOrderAccount(srv.URL)
	acc.Trading.MaxRetries = 0

	c := NewClient()
	resp, err := c.PlaceOrder(context.Background(), acc, "BTC/USDC",
		models.SideBid, decimal.RequireFromString("50000"), decimal.RequireFromString("0.001"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil {
		t.Fatal("nil response without error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestPlaceOrderSendsSignedHeaders(t *testing.T) {
	var gotKey, gotSign string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		gotSign = r.Header.Get("api-sign")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.PlaceOrder(context.Background(), testOrderAccount(srv.URL), "BTC/USDC",
		models.SideAsk, decimal.RequireFromString("50000"), decimal.RequireFromString("0.001"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "key" {
		t.Fatalf("api-key = %q", gotKey)
	}
	if gotSign == "" {
		t.Fatal("api-sign header missing")
	}
}

func TestPlaceOrderRejectsNonPositivePrice(t *testing.T) {
	c := NewClient()
	_, err := c.PlaceOrder(context.Background(), testOrderAccount("http://127.0.0.1:0"), "BTC/USDC",
		models.SideBid, decimal.Zero, decimal.RequireFromString("0.001"))
	if err == nil {
		t.Fatal("expected error for zero price")
	}
}

func TestAdjustPrice(t *testing.T) {
	acc := testOrderAccount("")
	px := decimal.RequireFromString("50000")

	bid := AdjustPrice(px, models.SideBid, acc, "BTC/USDC")
	if !bid.Equal(decimal.RequireFromString("52500")) {
		t.Fatalf("bid adjusted = %s, want 52500", bid)
	}

	ask := AdjustPrice(px, models.SideAsk, acc, "BTC/USDC")
	if !ask.Equal(decimal.RequireFromString("47500")) {
		t.Fatalf("ask adjusted = %s, want 47500", ask)
	}

	// точность цены валюты соблюдается
	odd := AdjustPrice(decimal.RequireFromString("0.333333"), models.SideBid, acc, "BTC/USDC")
	if odd.Exponent() < -2 {
		t.Fatalf("adjusted price %s has more than 2 decimals", odd)
	}
}
