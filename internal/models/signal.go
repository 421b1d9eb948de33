package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side — сторона заявки на бирже.
type Side string

const (
	SideBid Side = "BID" // покупка
	SideAsk Side = "ASK" // продажа
)

const (
	MessageBuy  = "Trend Buy!"
	MessageSell = "Trend Sell!"
)

// Signal — провалидированный входящий сигнал. Живёт один webhook-запрос.
type Signal struct {
	Symbol     string
	Message    string
	Price      decimal.Decimal
	Timeframe  string
	Account    string // проставляется при роутинге по таймфрейму
	ReceivedAt time.Time
}

func (s Signal) Side() Side {
	if s.Message == MessageBuy {
		return SideBid
	}
	return SideAsk
}
