// Package httpapi serves the Telegram webhook and the maintenance task routes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/duel-chess-bot/internal/obslog"
	"github.com/park285/duel-chess-bot/internal/transport"
)

const (
	respOK   = "OK"
	respFail = "FAIL"
)

// Sweeper runs the maintenance sweeps behind the task routes.
type Sweeper interface {
	SweepUsers(ctx context.Context) (int, error)
	SweepMatches(ctx context.Context) (int, error)
}

// WebhookSetter registers the public webhook address with Telegram.
type WebhookSetter interface {
	SetWebhook(url string) error
}

type Options struct {
	HookPath string
	// WebhookURL is registered by /set_webhook. Empty makes the route fail.
	WebhookURL string
	// Events receives every decoded inbound event.
	Events  func(transport.Event)
	Sweeper Sweeper
	Webhook WebhookSetter
}

type Server struct {
	ctx  context.Context
	opts Options
	srv  *fasthttp.Server
}

// New builds the server. ctx bounds the sweeps started from task routes.
func New(ctx context.Context, opts Options) *Server {
	if opts.HookPath == "" {
		opts.HookPath = "/hook"
	}
	s := &Server{ctx: ctx, opts: opts}
	s.srv = &fasthttp.Server{
		Handler:            s.Handler,
		Name:               "duel-chess-bot",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	return s
}

// Handler routes one request.
func (s *Server) Handler(rc *fasthttp.RequestCtx) {
	path := string(rc.Path())
	switch {
	case path == s.opts.HookPath:
		s.hook(rc)
	case path == "/tasks/maintain_users":
		s.sweep(rc, "users", s.sweepUsers)
	case path == "/tasks/maintain_matches":
		s.sweep(rc, "matches", s.sweepMatches)
	case path == "/set_webhook":
		s.setWebhook(rc)
	case path == "/":
		reply(rc, fasthttp.StatusOK, respOK)
	default:
		rc.Error(fasthttp.StatusMessage(fasthttp.StatusNotFound), fasthttp.StatusNotFound)
	}
}

func (s *Server) hook(rc *fasthttp.RequestCtx) {
	if !rc.IsPost() {
		rc.Error(fasthttp.StatusMessage(fasthttp.StatusMethodNotAllowed), fasthttp.StatusMethodNotAllowed)
		return
	}
	var upd tgbotapi.Update
	if err := json.Unmarshal(rc.PostBody(), &upd); err != nil {
		obslog.L().Warn("http_hook_bad_body", zap.Error(err))
		reply(rc, fasthttp.StatusBadRequest, respFail)
		return
	}
	// Updates the bot does not handle are still acknowledged so Telegram stops resending them.
	if ev, ok := transport.EventFromUpdate(upd); ok && s.opts.Events != nil {
		s.opts.Events(ev)
	}
	reply(rc, fasthttp.StatusOK, respOK)
}

func (s *Server) sweepUsers(ctx context.Context) (int, error) {
	if s.opts.Sweeper == nil {
		return 0, errors.New("no sweeper configured")
	}
	return s.opts.Sweeper.SweepUsers(ctx)
}

func (s *Server) sweepMatches(ctx context.Context) (int, error) {
	if s.opts.Sweeper == nil {
		return 0, errors.New("no sweeper configured")
	}
	return s.opts.Sweeper.SweepMatches(ctx)
}

func (s *Server) sweep(rc *fasthttp.RequestCtx, name string, fn func(context.Context) (int, error)) {
	if !rc.IsGet() && !rc.IsPost() {
		rc.Error(fasthttp.StatusMessage(fasthttp.StatusMethodNotAllowed), fasthttp.StatusMethodNotAllowed)
		return
	}
	obslog.L().Info("http_task_started", zap.String("sweep", name))
	n, err := fn(s.ctx)
	if err != nil {
		obslog.L().Error("http_task_failed", zap.String("sweep", name), zap.Int("expired", n), zap.Error(err))
		reply(rc, fasthttp.StatusInternalServerError, respFail)
		return
	}
	obslog.L().Info("http_task_done", zap.String("sweep", name), zap.Int("expired", n))
	reply(rc, fasthttp.StatusOK, respOK)
}

func (s *Server) setWebhook(rc *fasthttp.RequestCtx) {
	if !rc.IsGet() && !rc.IsPost() {
		rc.Error(fasthttp.StatusMessage(fasthttp.StatusMethodNotAllowed), fasthttp.StatusMethodNotAllowed)
		return
	}
	if s.opts.Webhook == nil || s.opts.WebhookURL == "" {
		obslog.L().Warn("http_set_webhook_unconfigured")
		reply(rc, fasthttp.StatusOK, respFail)
		return
	}
	obslog.L().Info("http_set_webhook", zap.String("url", s.opts.WebhookURL))
	if err := s.opts.Webhook.SetWebhook(s.opts.WebhookURL); err != nil {
		obslog.L().Error("http_set_webhook_failed", zap.Error(err))
		reply(rc, fasthttp.StatusOK, respFail)
		return
	}
	reply(rc, fasthttp.StatusOK, respOK)
}

func reply(rc *fasthttp.RequestCtx, status int, body string) {
	rc.SetStatusCode(status)
	rc.SetContentType("text/plain; charset=utf-8")
	rc.SetBodyString(body)
}

// ListenAndServe blocks serving addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	obslog.L().Info("http_listen", zap.String("addr", addr), zap.String("hook", s.opts.HookPath))
	return s.srv.ListenAndServe(addr)
}

// Shutdown stops accepting connections and waits for open requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}
