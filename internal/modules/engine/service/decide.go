package service

import (
	"fmt"

	"arb_bot/internal/models"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// Decide — чистая функция решения: по стороне сигнала, усечённой позиции,
// статусу репо и лимитам строит последовательность шагов. Никакого I/O;
// вызывающий обязан освежить позицию перед вызовом.
//
// Все пороговые сравнения — через ≥: границу считаем нарушением,
// запас прочности важнее лишней сделки.
func Decide(
	side models.Side,
	position decimal.Decimal,
	hasRepo bool,
	minQty decimal.Decimal,
	strictLimit decimal.Decimal,
) models.TradeSequence {
	if side == models.SideAsk {
		return decideSell(position, minQty, strictLimit)
	}
	return decideBuy(position, hasRepo, minQty, strictLimit)
}

func decideSell(position, minQty, strictLimit decimal.Decimal) models.TradeSequence {
	if position.Sign() < 0 {
		// при наших инвариантах сюда не попасть
		return models.TradeSequence{
			Message: fmt.Sprintf("unexpected negative position %s for sell signal", position),
		}
	}

	var steps []models.TradeStep
	var estimate decimal.Decimal

	if position.LessThan(minQty) {
		// нет позиции: занять и зашортить
		steps = []models.TradeStep{
			{Kind: models.StepOpenRepo, Quantity: minQty},
			{Kind: models.StepOpenShort, Quantity: minQty},
		}
		estimate = position.Sub(minQty).Abs()
	} else {
		// лонг: продать, занять, продать ещё раз
		steps = []models.TradeStep{
			{Kind: models.StepOpenShort, Quantity: minQty},
			{Kind: models.StepOpenRepo, Quantity: minQty},
			{Kind: models.StepOpenShort, Quantity: minQty},
		}
		estimate = position.Sub(minQty.Mul(two)).Abs()
	}

	if estimate.GreaterThanOrEqual(strictLimit) {
		steps = append(steps, models.TradeStep{Kind: models.StepOpenShort, Quantity: minQty})
	}

	return models.TradeSequence{Steps: steps, Sequential: true}
}

func decideBuy(position decimal.Decimal, hasRepo bool, minQty, strictLimit decimal.Decimal) models.TradeSequence {
	if position.GreaterThanOrEqual(strictLimit) {
		return models.TradeSequence{
			Message: fmt.Sprintf("Buy skipped: position %s exceeds limit %s", position, strictLimit),
		}
	}
	if position.Add(minQty).GreaterThanOrEqual(strictLimit) {
		return models.TradeSequence{
			Message: fmt.Sprintf("Buy skipped: would exceed strict limit of %s", strictLimit),
		}
	}

	pairThreshold := minQty.Mul(two)

	if !hasRepo {
		steps := []models.TradeStep{{Kind: models.StepOpenLong, Quantity: minQty}}
		if position.Add(minQty).GreaterThanOrEqual(pairThreshold) {
			steps = append(steps, models.TradeStep{Kind: models.StepOpenShort, Quantity: minQty})
			return models.TradeSequence{Steps: steps, Sequential: true}
		}
		return models.TradeSequence{Steps: steps}
	}

	// репо открыт: в идеале две покупки и закрытие репо
	doubled := position.Add(pairThreshold)
	if doubled.LessThan(strictLimit) {
		steps := []models.TradeStep{
			{Kind: models.StepOpenLong, Quantity: minQty},
			{Kind: models.StepOpenLong, Quantity: minQty},
			{Kind: models.StepCloseRepo},
		}
		if doubled.GreaterThanOrEqual(pairThreshold) {
			steps = append(steps, models.TradeStep{Kind: models.StepOpenShort, Quantity: minQty})
		}
		return models.TradeSequence{Steps: steps, Sequential: true}
	}

	// сдвоенная покупка пробивает лимит: деградируем
	if position.Add(minQty).LessThan(strictLimit) {
		return models.TradeSequence{
			Steps: []models.TradeStep{
				{Kind: models.StepOpenLong, Quantity: minQty},
				{Kind: models.StepCloseRepo},
			},
			Sequential: true,
		}
	}

	return models.TradeSequence{
		Steps: []models.TradeStep{{Kind: models.StepCloseRepo}},
	}
}
