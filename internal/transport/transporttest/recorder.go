// Package transporttest provides a recording Transport for tests.
package transporttest

import (
	"context"
	"strings"
	"sync"

	"github.com/park285/duel-chess-bot/internal/transport"
)

// Message is one recorded outbound delivery.
type Message struct {
	ChatID int64
	Text   string
	Image  []byte
	Opts   transport.SendOptions
}

// IsImage reports whether the message carried an image. Text holds the caption.
func (m Message) IsImage() bool { return m.Image != nil }

type Retraction struct {
	ChatID        int64
	InteractionID int
}

// Recorder implements transport.Transport and keeps everything it was asked to send.
type Recorder struct {
	mu        sync.Mutex
	messages  []Message
	retracted []Retraction
	answered  []string
	// Fail, when set, is returned by every send.
	Fail error
}

var _ transport.Transport = (*Recorder)(nil)

func New() *Recorder { return &Recorder{} }

func (r *Recorder) SendText(ctx context.Context, chatID int64, text string, opts transport.SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{ChatID: chatID, Text: text, Opts: opts})
	return r.Fail
}

func (r *Recorder) SendImage(ctx context.Context, chatID int64, png []byte, caption string, opts transport.SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if png == nil {
		png = []byte{}
	}
	r.messages = append(r.messages, Message{ChatID: chatID, Text: caption, Image: png, Opts: opts})
	return r.Fail
}

func (r *Recorder) Retract(ctx context.Context, chatID int64, interactionID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retracted = append(r.retracted, Retraction{ChatID: chatID, InteractionID: interactionID})
	return nil
}

func (r *Recorder) Answer(ctx context.Context, callbackID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answered = append(r.answered, callbackID)
	return nil
}

// Messages returns everything sent to chatID in order.
func (r *Recorder) Messages(chatID int64) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Texts returns the text messages sent to chatID, skipping images.
func (r *Recorder) Texts(chatID int64) []string {
	var out []string
	for _, m := range r.Messages(chatID) {
		if !m.IsImage() {
			out = append(out, m.Text)
		}
	}
	return out
}

// Images counts images sent to chatID.
func (r *Recorder) Images(chatID int64) int {
	n := 0
	for _, m := range r.Messages(chatID) {
		if m.IsImage() {
			n++
		}
	}
	return n
}

// Saw reports whether any text or caption sent to chatID contains sub.
func (r *Recorder) Saw(chatID int64, sub string) bool {
	for _, m := range r.Messages(chatID) {
		if strings.Contains(m.Text, sub) {
			return true
		}
	}
	return false
}

// Last returns the latest message sent to chatID.
func (r *Recorder) Last(chatID int64) (Message, bool) {
	msgs := r.Messages(chatID)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

func (r *Recorder) Retracted() []Retraction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Retraction(nil), r.retracted...)
}

func (r *Recorder) Answered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.answered...)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
	r.retracted = nil
	r.answered = nil
}
