package exchange

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"arb_bot/internal/helper"
	"arb_bot/internal/models"
	"arb_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const ordersPath = "/rest/orders"

type orderBody struct {
	Side        string  `json:"side"`
	Price       float64 `json:"price"`
	CustodianID string  `json:"custodianId"`
	Symbol      string  `json:"symbol"`
	Currency    string  `json:"currency,omitempty"`
	Currency2   string  `json:"currency2,omitempty"`
	OrderQty    float64 `json:"orderQty"`
	ClOrdID     string  `json:"clOrdId"`
	OrderType   string  `json:"orderType"`
	TIF         string  `json:"tif"`
	Dark        bool    `json:"dark"`
	IsAvgPrice  bool    `json:"isAvgPrice"`
	Venue       string  `json:"venue"`
}

type OrderResponse struct {
	ClOrdID string
	Raw     map[string]interface{}
}

// AdjustPrice сдвигает цену в агрессивную сторону и режет до точности валюты.
func AdjustPrice(price decimal.Decimal, side models.Side, acc *models.Account, symbol string) decimal.Decimal {
	cs := acc.Currency(helper.BaseCurrency(symbol))
	adj := acc.Trading.BidAdjustment
	if side == models.SideAsk {
		adj = acc.Trading.AskAdjustment
	}
	return price.Mul(adj).Round(cs.PriceDecimals)
}

// PlaceOrder размещает лимитную заявку с повторами только по повторяемым ошибкам.
// Бэкофф линейный: retryDelay × номер попытки.
func (c *Client) PlaceOrder(
	ctx context.Context,
	acc *models.Account,
	symbol string,
	side models.Side,
	price decimal.Decimal,
	qty decimal.Decimal,
) (*OrderResponse, error) {
	if price.Sign() <= 0 {
		return nil, errors.Errorf("invalid price %s", price)
	}

	adjusted := AdjustPrice(price, side, acc, symbol)
	clOrdID := NewClOrdID()

	ob := orderBody{
		Side:        string(side),
		Price:       adjusted.InexactFloat64(),
		CustodianID: acc.Credentials.CustodianID,
		Symbol:      symbol,
		OrderQty:    qty.InexactFloat64(),
		ClOrdID:     clOrdID,
		OrderType:   "LIMIT",
		TIF:         acc.Trading.TIF,
		Dark:        false,
		IsAvgPrice:  false,
		Venue:       "LIT",
	}
	if base := helper.BaseCurrency(symbol); base != symbol {
		ob.Currency = base
		ob.Currency2 = symbol[len(base)+1:]
	}

	body, _ := sonic.Marshal(ob)
	logger.Info("placing order: %s %s qty=%s px=%s clOrdId=%s", symbol, side, qty, adjusted, clOrdID)

	// хотя бы одна попытка, даже если лимит повторов не задан
	attempts := acc.Trading.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.postSigned(ctx, acc, ordersPath, body)
		if err == nil {
			return &OrderResponse{ClOrdID: clOrdID, Raw: resp}, nil
		}
		lastErr = err
		if !IsRetriable(err) || attempt == attempts {
			break
		}
		logger.Warn("order attempt %d/%d failed, retrying: %v", attempt, attempts, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acc.Trading.RetryDelay * time.Duration(attempt)):
		}
	}

	return nil, errors.Wrapf(lastErr, "place order %s %s", symbol, side)
}

// postSigned шлёт подписанный body-hash методом POST на ордерный REST.
func (c *Client) postSigned(ctx context.Context, acc *models.Account, path string, body []byte) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, acc.Credentials.APIURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, newOrderError(err.Error(), false)
	}
	req.Header.Set("api-key", acc.Credentials.APIKey)
	req.Header.Set("api-sign", SignBody(acc.Credentials.APISecret, http.MethodPost, path, body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// сетевые ошибки считаем повторяемыми
		return nil, newOrderError(err.Error(), true)
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, ClassifyVenueError(resp.StatusCode, string(rb))
	}

	out := map[string]interface{}{}
	if len(rb) > 0 {
		if err := sonic.Unmarshal(rb, &out); err != nil {
			logger.Debug("order response is not json: %s", string(rb))
		}
	}
	return out, nil
}
