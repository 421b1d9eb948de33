package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"arb_bot/internal/helper"
	"arb_bot/internal/models"
	"arb_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// RepoContract — открытый репо-контракт на площадке.
type RepoContract struct {
	ID      int64  `json:"id"`
	EventID string `json:"eventId"`
}

// RepoResult — исход попытки открыть репо.
type RepoResult struct {
	Skipped    bool
	Reason     string
	ExistingID int64
	Raw        map[string]interface{}
}

// RepoDetails запрашивает первый открытый BORROW-контракт по репо-символу.
// (nil, nil) означает "контрактов нет"; ошибка — запрос не удался и
// о состоянии ничего сказать нельзя.
func (c *Client) RepoDetails(ctx context.Context, acc *models.Account, repoSymbol string) (*RepoContract, error) {
	token, err := c.Login(ctx, acc)
	if err != nil {
		return nil, err
	}
	return c.repoDetailsWithToken(ctx, acc, token, repoSymbol)
}

func (c *Client) repoDetailsWithToken(ctx context.Context, acc *models.Account, token, repoSymbol string) (*RepoContract, error) {
	base := strings.TrimSuffix(acc.Credentials.BaseURL, "/")
	url := fmt.Sprintf("%s/rest/repocontract?sortBy=id&sortDirection=DESC&status=OPEN&repoSymbol=%s", base, repoSymbol)

	payload, _ := sonic.Marshal(map[string]string{
		"userId":       acc.Credentials.Username,
		"contractType": "BORROW",
		"eventId":      fmt.Sprintf("event%d", time.Now().Unix()),
		"repoSymbol":   repoSymbol,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "repo details: new request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "repo details: do")
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("repo details: http %d: %s", resp.StatusCode, string(rb))
	}

	var out struct {
		Content []RepoContract `json:"content"`
	}
	if err := sonic.Unmarshal(rb, &out); err != nil {
		return nil, errors.Wrap(err, "repo details: decode")
	}
	if len(out.Content) == 0 {
		return nil, nil
	}
	return &out.Content[0], nil
}

// PlaceRepo открывает BORROW-репо. Перед размещением проверяет площадку:
// существующий контракт — это Skipped, а не дубль и не ошибка.
func (c *Client) PlaceRepo(ctx context.Context, acc *models.Account, det models.RepoDetails) (*RepoResult, error) {
	existing, err := c.RepoDetails(ctx, acc, det.Symbol)
	if err != nil {
		logger.Warn("[%s] repo pre-check failed, placing anyway: %v", acc.Name, err)
	} else if existing != nil {
		logger.Warn("[%s] repo already exists for %s (id=%d), skipping", acc.Name, det.Symbol, existing.ID)
		return &RepoResult{Skipped: true, Reason: "repo_exists", ExistingID: existing.ID}, nil
	}

	base := helper.BaseCurrency(det.Symbol)
	ob := orderBody{
		Side:        string(models.SideBid),
		Price:       det.InterestRate.InexactFloat64(),
		CustodianID: acc.Credentials.CustodianID,
		Symbol:      det.Symbol,
		Currency:    base,
		Currency2:   helper.RepoMarker,
		OrderQty:    det.Quantity.InexactFloat64(),
		ClOrdID:     NewRepoClOrdID(),
		OrderType:   "LIMIT",
		TIF:         "GTC",
		Venue:       "LIT",
	}
	body, _ := sonic.Marshal(ob)

	logger.Info("[%s] placing repo order %s qty=%s rate=%s%%", acc.Name, det.Symbol, det.Quantity, det.InterestRate)

	raw, err := c.postSigned(ctx, acc, ordersPath, body)
	if err != nil {
		return nil, errors.Wrapf(err, "place repo %s", det.Symbol)
	}
	return &RepoResult{Raw: raw}, nil
}

// CloseRepo закрывает открытый контракт. Отсутствие контракта — успех:
// закрывать нечего.
func (c *Client) CloseRepo(ctx context.Context, acc *models.Account, repoSymbol string) error {
	token, err := c.Login(ctx, acc)
	if err != nil {
		return err
	}

	contract, err := c.repoDetailsWithToken(ctx, acc, token, repoSymbol)
	if err != nil {
		return errors.Wrapf(err, "close repo %s", repoSymbol)
	}
	if contract == nil {
		logger.Warn("[%s] no open repo for %s, nothing to close", acc.Name, repoSymbol)
		return nil
	}

	base := strings.TrimSuffix(acc.Credentials.BaseURL, "/")
	url := fmt.Sprintf("%s/rest/repocontract/close?repoContractId=%d&eventId=closeEvent%d",
		base, contract.ID, time.Now().Unix())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "close repo: new request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "close repo: do")
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("close repo: http %d: %s", resp.StatusCode, string(rb))
	}

	logger.Info("[%s] closed repo %s (id=%d)", acc.Name, repoSymbol, contract.ID)
	return nil
}
