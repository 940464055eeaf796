package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/park285/duel-chess-bot/internal/obslog"
)

// botAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram implements Transport over the Bot API.
type Telegram struct {
	api        botAPI
	maxRetries int
	backoff    time.Duration
}

// NewTelegram authorizes token against the Bot API.
func NewTelegram(token string, debug bool) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = debug
	obslog.L().Info("telegram_authorized", zap.String("username", api.Self.UserName))
	return newTelegram(api), nil
}

func newTelegram(api botAPI) *Telegram {
	return &Telegram{api: api, maxRetries: 3, backoff: time.Second}
}

func (t *Telegram) SendText(ctx context.Context, chatID int64, text string, opts SendOptions) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableNotification = opts.Silent
	msg.DisableWebPagePreview = opts.DisableLinkPreview
	msg.ReplyMarkup = replyMarkup(opts.Markup)
	return t.send(ctx, "text", chatID, msg)
}

func (t *Telegram) SendImage(ctx context.Context, chatID int64, png []byte, caption string, opts SendOptions) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "board.png", Bytes: png})
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeMarkdown
	photo.DisableNotification = opts.Silent
	photo.ReplyMarkup = replyMarkup(opts.Markup)
	return t.send(ctx, "image", chatID, photo)
}

func (t *Telegram) Retract(ctx context.Context, chatID int64, interactionID int) error {
	if interactionID == 0 {
		return nil
	}
	if _, err := t.api.Request(tgbotapi.NewDeleteMessage(chatID, interactionID)); err != nil {
		return fmt.Errorf("delete message %d: %w", interactionID, err)
	}
	return nil
}

func (t *Telegram) Answer(ctx context.Context, callbackID string) error {
	if callbackID == "" {
		return nil
	}
	if _, err := t.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// EscapeMarkdown escapes s for the Markdown parse mode every message is sent with.
func EscapeMarkdown(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

// SetWebhook registers url as the update endpoint.
func (t *Telegram) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}
	if _, err := t.api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// Listen long-polls for updates and hands each event to handle until ctx ends.
func (t *Telegram) Listen(ctx context.Context, handle func(Event)) {
	if _, err := t.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		obslog.L().Warn("telegram_delete_webhook_failed", zap.Error(err))
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.api.GetUpdatesChan(u)
	obslog.L().Info("telegram_polling_started")
	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			if ev, ok := EventFromUpdate(upd); ok {
				handle(ev)
			}
		}
	}
}

func (t *Telegram) send(ctx context.Context, kind string, chatID int64, c tgbotapi.Chattable) error {
	var err error
	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		if _, err = t.api.Send(c); err == nil {
			return nil
		}
		obslog.L().Warn("telegram_send_failed",
			zap.String("kind", kind),
			zap.Int64("chat_id", chatID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		wait, retry := t.retryDelay(err, attempt)
		if !retry || attempt == t.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("send %s to %d: %w", kind, chatID, err)
}

// retryDelay retries flood-control errors after the advertised delay and
// transient network errors with a linear backoff.
func (t *Telegram) retryDelay(err error, attempt int) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.RetryAfter > 0 {
			return time.Duration(apiErr.RetryAfter) * time.Second, true
		}
		return 0, false
	}
	msg := err.Error()
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "network is unreachable") {
		return time.Duration(attempt) * t.backoff, true
	}
	return 0, false
}

func replyMarkup(m Markup) any {
	switch mk := m.(type) {
	case ChoiceKeyboard:
		rows := make([][]tgbotapi.KeyboardButton, 0, len(mk.Options))
		for _, opt := range mk.Options {
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(opt)))
		}
		kb := tgbotapi.NewReplyKeyboard(rows...)
		kb.ResizeKeyboard = true
		return kb
	case RemoveKeyboard:
		return tgbotapi.NewRemoveKeyboard(true)
	case InlineKeyboard:
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(mk.Rows))
		for _, r := range mk.Rows {
			row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
			for _, b := range r {
				if b.Data == "" {
					row = append(row, tgbotapi.NewInlineKeyboardButtonSwitch(b.Text, b.SwitchQuery))
					continue
				}
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
		}
		return tgbotapi.NewInlineKeyboardMarkup(rows...)
	default:
		return nil
	}
}
