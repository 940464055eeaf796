// Package transport delivers bot output to chats and turns inbound updates into events.
package transport

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Transport abstracts outbound delivery.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, opts SendOptions) error
	SendImage(ctx context.Context, chatID int64, png []byte, caption string, opts SendOptions) error
	// Retract removes a message that carried interactive buttons.
	Retract(ctx context.Context, chatID int64, interactionID int) error
	// Answer acknowledges a button press so the client stops its spinner.
	Answer(ctx context.Context, callbackID string) error
}

type SendOptions struct {
	Silent             bool
	Markup             Markup
	DisableLinkPreview bool
}

// Markup is one of ChoiceKeyboard, RemoveKeyboard or InlineKeyboard.
type Markup interface{ isMarkup() }

// ChoiceKeyboard replaces the user's keyboard with one option per row.
type ChoiceKeyboard struct {
	Options []string
}

// RemoveKeyboard restores the default keyboard.
type RemoveKeyboard struct{}

// InlineKeyboard attaches buttons under the message.
type InlineKeyboard struct {
	Rows [][]InlineButton
}

// InlineButton sends Data back as a callback, or opens an inline query with
// SwitchQuery when Data is empty.
type InlineButton struct {
	Text        string
	Data        string
	SwitchQuery string
}

func (ChoiceKeyboard) isMarkup() {}
func (RemoveKeyboard) isMarkup() {}
func (InlineKeyboard) isMarkup() {}

// Event is one inbound interaction of a user.
type Event struct {
	UserID   int64
	ChatID   int64
	Username string
	Text     string
	// InteractionID is the message that carried the pressed button, zero for typed text.
	InteractionID int
	CallbackID    string
}

// EventFromUpdate extracts an Event from a message or callback update.
func EventFromUpdate(u tgbotapi.Update) (Event, bool) {
	switch {
	case u.Message != nil && u.Message.From != nil && u.Message.Chat != nil:
		m := u.Message
		return Event{
			UserID:   m.From.ID,
			ChatID:   m.Chat.ID,
			Username: m.From.UserName,
			Text:     strings.TrimSpace(m.Text),
		}, true
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		q := u.CallbackQuery
		ev := Event{
			UserID:     q.From.ID,
			ChatID:     q.From.ID,
			Username:   q.From.UserName,
			Text:       strings.TrimSpace(q.Data),
			CallbackID: q.ID,
		}
		if q.Message != nil && q.Message.Chat != nil {
			ev.ChatID = q.Message.Chat.ID
			ev.InteractionID = q.Message.MessageID
		}
		return ev, true
	default:
		return Event{}, false
	}
}
