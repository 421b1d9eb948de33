package service

import (
	"context"
	"time"

	"arb_bot/internal/models"
	"arb_bot/pkg/db"
	"arb_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS trade_journal (
	id             BIGSERIAL PRIMARY KEY,
	received_at    TIMESTAMPTZ NOT NULL,
	account        TEXT        NOT NULL,
	symbol         TEXT        NOT NULL,
	message        TEXT        NOT NULL,
	timeframe      TEXT        NOT NULL,
	price          NUMERIC     NOT NULL,
	steps          JSONB       NOT NULL,
	final_position NUMERIC     NOT NULL,
	ok             BOOLEAN     NOT NULL,
	error          TEXT        NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertSQL = `
INSERT INTO trade_journal
	(received_at, account, symbol, message, timeframe, price, steps, final_position, ok, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Journal пишет исполненные последовательности в postgres.
// Без DSN работает как no-op, ошибки записи не мешают торговле.
type Journal struct {
	tx db.TxManager
}

func NewJournal(tx db.TxManager) *Journal {
	return &Journal{tx: tx}
}

// Disabled создаёт журнал-заглушку для конфигурации без базы.
func Disabled() *Journal {
	return &Journal{}
}

func (j *Journal) Enabled() bool {
	return j != nil && j.tx != nil
}

// Migrate гарантирует таблицу. Ошибка не фатальна: журнал просто отключается от записи.
func (j *Journal) Migrate(ctx context.Context) {
	if !j.Enabled() {
		return
	}
	err := j.tx.Run(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, createTableSQL)
		return err
	})
	if err != nil {
		logger.Error("journal migrate failed: %v", err)
	}
}

// Record сохраняет результат обработки сигнала. Строго best-effort.
func (j *Journal) Record(
	ctx context.Context,
	sig *models.Signal,
	steps []models.StepResult,
	finalPos decimal.Decimal,
	execErr error,
) {
	if !j.Enabled() || sig == nil {
		return
	}

	stepsJSON, err := sonic.Marshal(steps)
	if err != nil {
		logger.Error("journal: marshal steps: %v", err)
		stepsJSON = []byte("[]")
	}

	errText := ""
	if execErr != nil {
		errText = execErr.Error()
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err = j.tx.Run(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, insertSQL,
			sig.ReceivedAt, sig.Account, sig.Symbol, sig.Message, sig.Timeframe,
			sig.Price, stepsJSON, finalPos, execErr == nil, errText,
		)
		return err
	})
	if err != nil {
		logger.Error("journal: insert failed: %v", err)
	}
}
