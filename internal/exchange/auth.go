package exchange

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"arb_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

type loginPayload struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Code       string `json:"code"`
	RedirectTo string `json:"redirectTo"`
}

// Login получает короткоживущий bearer-токен через sso.
// Префикс "Bearer " срезается: в таком виде токен уходит и в REST, и в ws-сабпротокол.
func (c *Client) Login(ctx context.Context, acc *models.Account) (string, error) {
	base := strings.TrimSuffix(acc.Credentials.BaseURL, "/")
	body, _ := sonic.Marshal(loginPayload{
		Username:   acc.Credentials.Username,
		Password:   acc.Credentials.Password,
		Code:       acc.Credentials.Code,
		RedirectTo: base + "/trader",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/sso/api/login", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "login: new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Origin", base)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "login: do")
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return "", errors.Errorf("login: http %d: %s", resp.StatusCode, string(rb))
	}

	token := resp.Header.Get("Authorization")
	if token == "" {
		return "", errors.New("login: no authorization header in response")
	}
	return strings.TrimPrefix(token, "Bearer "), nil
}
