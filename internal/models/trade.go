package models

import "github.com/shopspring/decimal"

type StepKind string

const (
	StepOpenLong  StepKind = "open_long"
	StepOpenShort StepKind = "open_short"
	StepOpenRepo  StepKind = "open_repo"
	StepCloseRepo StepKind = "close_repo"
)

// TradeStep — один шаг торговой последовательности.
// Для CloseRepo количество не используется, важен RepoSymbol.
type TradeStep struct {
	Kind       StepKind
	Quantity   decimal.Decimal
	RepoSymbol string
}

type RepoDetails struct {
	Symbol       string
	Quantity     decimal.Decimal
	InterestRate decimal.Decimal
}

// TradeSequence — результат решения движка.
// Sequential=true: падение любого шага отменяет остальные.
type TradeSequence struct {
	Steps      []TradeStep
	Sequential bool
	Repo       *RepoDetails
	Message    string
}

func (s TradeSequence) Empty() bool { return len(s.Steps) == 0 }

// Результат выполнения одного шага.
type StepResult struct {
	Step    StepKind `json:"step"`
	Skipped bool     `json:"skipped,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Error   string   `json:"error,omitempty"`
}
