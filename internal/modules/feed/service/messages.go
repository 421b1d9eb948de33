package service

import (
	"encoding/json"
	"strings"

	possvc "arb_bot/internal/modules/positions/service"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

type pushMessage struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

type balanceEntry struct {
	Symbol    string          `json:"symbol"`
	Available decimal.Decimal `json:"available"`
	Pending   decimal.Decimal `json:"pending"`
}

type orderEntry struct {
	Symbol    string `json:"symbol"`
	OrdStatus string `json:"ordStatus"`
}

type tickerEntry struct {
	Symbol string          `json:"symbol"`
	Last   decimal.Decimal `json:"last"`
}

func decodePush(msg []byte) (pushMessage, error) {
	var pm pushMessage
	err := sonic.Unmarshal(msg, &pm)
	return pm, err
}

// parseBalances переводит контент balance-пуша в обновления стора.
// Балансы без пары (голые валюты) пропускаются.
func parseBalances(content json.RawMessage) ([]possvc.BalanceUpdate, error) {
	var entries []balanceEntry
	if err := sonic.Unmarshal(content, &entries); err != nil {
		return nil, err
	}

	updates := make([]possvc.BalanceUpdate, 0, len(entries))
	for _, e := range entries {
		if !strings.Contains(e.Symbol, "/") {
			continue
		}
		updates = append(updates, possvc.BalanceUpdate{
			Symbol:   e.Symbol,
			Quantity: e.Available,
			Pending:  e.Pending,
		})
	}
	return updates, nil
}

func parseOrder(content json.RawMessage) (orderEntry, error) {
	var e orderEntry
	err := sonic.Unmarshal(content, &e)
	return e, err
}

func parseTicker(content json.RawMessage) (tickerEntry, error) {
	var e tickerEntry
	err := sonic.Unmarshal(content, &e)
	return e, err
}

// repoActivated/repoClosed — терминальные статусы репо-заявки в пуше.
func repoActivated(status string) bool { return status == "FILLED" }

func repoClosed(status string) bool {
	switch status {
	case "CANCELLED", "REJECTED", "EXPIRED":
		return true
	}
	return false
}
