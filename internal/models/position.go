package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position — позиция по символу на одном аккаунте.
// Мутируется только фидом (push) и реконсиляцией (pull).
type Position struct {
	Quantity   decimal.Decimal
	Pending    decimal.Decimal
	LastUpdate time.Time
}
