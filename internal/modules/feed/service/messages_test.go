package service

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDecodePush(t *testing.T) {
	raw := []byte(`{"type":"balance","content":[{"symbol":"BTC/USDC","available":"0.0015","pending":"0"}]}`)
	pm, err := decodePush(raw)
	if err != nil {
		t.Fatalf("decodePush: %v", err)
	}
	if pm.Type != "balance" {
		t.Fatalf("type = %q", pm.Type)
	}

	updates, err := parseBalances(pm.Content)
	if err != nil {
		t.Fatalf("parseBalances: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	if !updates[0].Quantity.Equal(decimal.RequireFromString("0.0015")) {
		t.Fatalf("quantity = %s", updates[0].Quantity)
	}
}

func TestParseBalancesSkipsBareCurrencies(t *testing.T) {
	raw := []byte(`[
		{"symbol":"USDC","available":"1000","pending":"0"},
		{"symbol":"BTC/USDC","available":"0.001","pending":"0"},
		{"symbol":"BTC/USDC110","available":"0.001","pending":"0"}
	]`)
	updates, err := parseBalances(raw)
	if err != nil {
		t.Fatalf("parseBalances: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2 (bare USDC skipped)", len(updates))
	}
	for _, u := range updates {
		if u.Symbol == "USDC" {
			t.Fatal("bare currency not skipped")
		}
	}
}

func TestParseBalancesNumericQuantities(t *testing.T) {
	// площадка шлёт числа как json-числа и как строки вперемешку
	raw := []byte(`[{"symbol":"ETH/USDC","available":0.05,"pending":0.01}]`)
	updates, err := parseBalances(raw)
	if err != nil {
		t.Fatalf("parseBalances: %v", err)
	}
	if !updates[0].Quantity.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("quantity = %s", updates[0].Quantity)
	}
	if !updates[0].Pending.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("pending = %s", updates[0].Pending)
	}
}

func TestParseOrderAndRepoStatuses(t *testing.T) {
	e, err := parseOrder([]byte(`{"symbol":"BTC/USDC110","ordStatus":"FILLED"}`))
	if err != nil {
		t.Fatalf("parseOrder: %v", err)
	}
	if e.Symbol != "BTC/USDC110" || !repoActivated(e.OrdStatus) {
		t.Fatalf("entry = %+v", e)
	}

	for _, st := range []string{"CANCELLED", "REJECTED", "EXPIRED"} {
		if !repoClosed(st) {
			t.Fatalf("%s not treated as closing status", st)
		}
	}
	for _, st := range []string{"FILLED", "NEW", "PARTIALLY_FILLED"} {
		if repoClosed(st) {
			t.Fatalf("%s wrongly treated as closing status", st)
		}
	}
	if repoActivated("NEW") {
		t.Fatal("NEW wrongly treated as activation")
	}
}

func TestParseTicker(t *testing.T) {
	e, err := parseTicker([]byte(`{"symbol":"BTC/USDC","last":"51234.5"}`))
	if err != nil {
		t.Fatalf("parseTicker: %v", err)
	}
	if e.Symbol != "BTC/USDC" || !e.Last.Equal(decimal.RequireFromString("51234.5")) {
		t.Fatalf("entry = %+v", e)
	}
}

func TestDecodePushRejectsGarbage(t *testing.T) {
	if _, err := decodePush([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed push")
	}
}
