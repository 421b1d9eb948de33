package notify

import (
	"context"
	"fmt"
	"strings"

	possvc "arb_bot/internal/modules/positions/service"
	"arb_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// Telegram — пассивный нотифайер + обработка одной команды /positions.
// Без токена все методы безопасно молчат.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	keeper *possvc.Keeper
}

func NewTelegram(token string, chatID int64, keeper *possvc.Keeper) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return &Telegram{keeper: keeper}, nil
	}
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID, keeper: keeper}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	_, _ = t.bot.Send(tgbot.NewMessage(t.chatID, msg))
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// /positions — снапшот позиций всех аккаунтов из локального стора.
func (t *Telegram) handlePositions() {
	if t.keeper == nil {
		t.Send("нет данных по позициям")
		return
	}

	var b strings.Builder
	b.WriteString("позиции:\n")
	for _, name := range t.keeper.Accounts() {
		store, ok := t.keeper.ForAccount(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s (feed: %v)\n", name, store.Connected())
		for symbol, pos := range store.Snapshot() {
			repo := ""
			if store.GetRepoStatus(symbol) {
				repo = " [repo]"
			}
			fmt.Fprintf(&b, "  %s: %s (pending %s)%s\n", symbol, pos.Quantity, pos.Pending, repo)
		}
	}
	t.Send(b.String())
}

// Start: long-polling только ради команды /positions.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				if upd.Message == nil || upd.Message.Chat == nil ||
					upd.Message.Chat.ID != t.chatID || !upd.Message.IsCommand() {
					continue
				}
				switch upd.Message.Command() {
				case "positions":
					go t.handlePositions()
				}
			}
		}
	}()
	return nil
}

func (t *Telegram) Stop() {
	if t != nil && t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}

// Stdout — заглушка без Telegram, пишет в лог.
type Stdout struct{}

func NewStdout() *Stdout                           { return &Stdout{} }
func (s *Stdout) Send(msg string)                  { logger.Info("%s", msg) }
func (s *Stdout) Sendf(format string, args ...any) { logger.Info(format, args...) }
