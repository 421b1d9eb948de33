package exchange

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client — REST-клиент площадки. Все методы принимают аккаунт явно:
// никакого переключения через глобальное состояние.
type Client struct {
	http *http.Client
}

func NewClient() *Client {
	return &Client{
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewClOrdID: "ORD_20060102_150405_A1B2C3".
func NewClOrdID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return "ORD_" + time.Now().Format("20060102_150405") + "_" + suffix
}

// NewRepoClOrdID: "WEB:a1b2c3d4e5f6-20060102150405".
func NewRepoClOrdID() string {
	suffix := strings.ToLower(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	return "WEB:" + suffix + "-" + time.Now().Format("20060102150405")
}
