package service

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"arb_bot/internal/exchange"
	"arb_bot/internal/helper"
	"arb_bot/internal/models"
	possvc "arb_bot/internal/modules/positions/service"
	"arb_bot/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	readTimeout       = 5 * time.Second
	heartbeatInterval = 30 * time.Second
	reconnectInterval = 5 * time.Second
	joinTimeout       = 5 * time.Second
)

var subscriptions = []string{
	"lmorder.subscribe",
	"balance.subscribe",
	"order.subscribe",
	"ticker.subscribe",
}

// Client — ws-клиент push-фида одного аккаунта: авторизация, подписки,
// сердцебиение, автопереподключение. Все данные валятся в стор аккаунта.
type Client struct {
	acc    *models.Account
	store  *possvc.Store
	ex     *exchange.Client
	dialer *websocket.Dialer

	autoReconnect bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewClient(acc *models.Account, store *possvc.Store, ex *exchange.Client) *Client {
	return &Client{
		acc:           acc,
		store:         store,
		ex:            ex,
		dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		autoReconnect: true,
	}
}

// Start идемпотентен: повторный вызов на работающем клиенте — no-op.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		logger.Warn("[%s] feed client already running", c.acc.Name)
		return
	}

	// репо-кэш не переживает рестарт клиента
	c.store.ResetRepos()
	logger.Info("[%s] repo status cache cleared on feed start", c.acc.Name)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.run(ctx)
}

// Stop взводит флаг останова и ждёт воркер не дольше joinTimeout.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
		logger.Info("[%s] feed client stopped", c.acc.Name)
	case <-time.After(joinTimeout):
		logger.Warn("[%s] feed worker did not terminate within %s", c.acc.Name, joinTimeout)
	}
	c.store.SetConnected(false)
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			return
		}

		token, err := c.ex.Login(ctx, c.acc)
		if err != nil {
			logger.Error("[%s] feed login failed: %v", c.acc.Name, err)
			if !c.sleepOrDone(ctx) {
				return
			}
			continue
		}

		c.connectAndServe(ctx, token)

		if !c.autoReconnect || ctx.Err() != nil {
			return
		}
		logger.Info("[%s] reconnecting feed in %s", c.acc.Name, reconnectInterval)
		if !c.sleepOrDone(ctx) {
			return
		}
	}
}

func (c *Client) sleepOrDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(reconnectInterval):
		return true
	}
}

func (c *Client) connectAndServe(ctx context.Context, token string) {
	header := http.Header{}
	header.Set("Origin", c.acc.Credentials.BaseURL)
	header.Set("User-Agent", "Mozilla/5.0")

	// подписанные заголовки хендшейка в дополнение к токену-сабпротоколу
	if u, err := url.Parse(c.acc.Credentials.WSURL); err == nil {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		header.Set("api-key", c.acc.Credentials.APIKey)
		header.Set("api-timestamp", ts)
		header.Set("api-sign", exchange.SignTimestamp(c.acc.Credentials.APISecret, http.MethodGet, u.Path, ts))
	}

	dialer := *c.dialer
	dialer.Subprotocols = []string{token}

	conn, _, err := dialer.DialContext(ctx, c.acc.Credentials.WSURL, header)
	if err != nil {
		logger.Error("[%s] feed dial failed: %v", c.acc.Name, err)
		return
	}
	defer conn.Close()

	logger.Info("[%s] feed connected to %s", c.acc.Name, c.acc.Credentials.WSURL)
	c.store.SetConnected(true)
	defer c.store.SetConnected(false)

	if err := c.subscribe(conn); err != nil {
		logger.Error("[%s] subscribe failed: %v", c.acc.Name, err)
		return
	}

	lastHeartbeat := time.Now()
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if time.Since(lastHeartbeat) > heartbeatInterval {
					if perr := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); perr != nil {
						logger.Warn("[%s] heartbeat ping failed: %v", c.acc.Name, perr)
						return
					}
					lastHeartbeat = time.Now()
				}
				continue
			}
			logger.Warn("[%s] feed connection closed: %v", c.acc.Name, err)
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	for _, sub := range subscriptions {
		if err := conn.WriteJSON(map[string]string{"type": sub}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) handleMessage(msg []byte) {
	if len(msg) == 0 {
		return
	}

	pm, err := decodePush(msg)
	if err != nil {
		// битый json не валит фид
		logger.Warn("[%s] dropping malformed feed message: %v", c.acc.Name, err)
		return
	}

	switch pm.Type {
	case "balance":
		updates, err := parseBalances(pm.Content)
		if err != nil {
			logger.Warn("[%s] bad balance push: %v", c.acc.Name, err)
			return
		}
		c.store.ApplyBalances(updates)

	case "order", "lmorder":
		e, err := parseOrder(pm.Content)
		if err != nil {
			logger.Warn("[%s] bad order push: %v", c.acc.Name, err)
			return
		}
		c.applyOrder(e)

	case "ticker":
		e, err := parseTicker(pm.Content)
		if err == nil && e.Symbol != "" {
			c.store.SetLastPrice(e.Symbol, e.Last)
		}

	default:
		logger.Debug("[%s] feed message type %q ignored", c.acc.Name, pm.Type)
	}
}

func (c *Client) applyOrder(e orderEntry) {
	if !helper.IsRepoSymbol(e.Symbol) {
		return
	}
	switch {
	case repoActivated(e.OrdStatus):
		c.store.SetRepoStatus(e.Symbol, true)
		logger.Info("[%s] repo activated for %s", c.acc.Name, e.Symbol)
	case repoClosed(e.OrdStatus):
		c.store.SetRepoStatus(e.Symbol, false)
		logger.Info("[%s] repo deactivated for %s (%s)", c.acc.Name, e.Symbol, e.OrdStatus)
	}
}
