package exchange

import (
	"strings"

	"github.com/pkg/errors"
)

// Подстроки ответа площадки, после которых есть смысл повторить заявку.
// Список живёт только здесь, наружу уходит типизированная классификация.
var retriableFragments = []string{
	"No custodian isos",
	"No liquidity",
	"IOC expired",
	"Insufficient funds",
}

// OrderError — ошибка размещения заявки с признаком повторяемости.
type OrderError struct {
	Msg       string
	Retriable bool
}

func (e *OrderError) Error() string { return e.Msg }

func newOrderError(msg string, retriable bool) *OrderError {
	return &OrderError{Msg: msg, Retriable: retriable}
}

// ClassifyVenueError переводит текст ответа площадки в типизированную ошибку.
func ClassifyVenueError(status int, body string) *OrderError {
	for _, frag := range retriableFragments {
		if strings.Contains(body, frag) {
			return newOrderError(body, true)
		}
	}
	return newOrderError(body, false)
}

// IsRetriable — true для сетевых ошибок и повторяемых ошибок площадки.
func IsRetriable(err error) bool {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Retriable
	}
	return false
}
