// Package command routes inbound events to bot commands.
//
// A command either completes at once or parks the user awaiting one line of
// input; the next event of a parked user goes straight to the parked
// command's continuation. Multi-step flows hop into internal steps, which
// live in their own table and cannot be invoked by name from a chat.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/duel-chess-bot/internal/domain"
	"github.com/park285/duel-chess-bot/internal/match"
	"github.com/park285/duel-chess-bot/internal/obslog"
	"github.com/park285/duel-chess-bot/internal/session"
	"github.com/park285/duel-chess-bot/internal/store"
	"github.com/park285/duel-chess-bot/internal/transport"
)

// Outcome tells the dispatcher whether a handler expects another line of input.
type Outcome int

const (
	Done Outcome = iota
	Await
)

// Request is the event being handled together with the sender's current record.
type Request struct {
	User  *domain.User
	Event transport.Event
	Text  string
}

type Handler func(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error)

// Command is one entry of the command or step table.
type Command struct {
	Name      string
	AdminOnly bool
	// Status is the required user status; domain.StatusAny admits everyone.
	Status   domain.Status
	Run      Handler
	Continue Handler
}

type Deps struct {
	Store     store.Store
	Matches   *match.Manager
	Transport transport.Transport
	AdminPass string
	Now       func() time.Time
}

type Dispatcher struct {
	store     store.Store
	matches   *match.Manager
	tr        transport.Transport
	adminPass string
	now       func() time.Time

	commands map[string]*Command
	steps    map[string]*Command
}

func New(d Deps) *Dispatcher {
	disp := &Dispatcher{
		store:     d.Store,
		matches:   d.Matches,
		tr:        d.Transport,
		adminPass: d.AdminPass,
		now:       d.Now,
		commands:  indexByName(commandTable()),
		steps:     indexByName(stepTable()),
	}
	if disp.now == nil {
		disp.now = time.Now
	}
	return disp
}

func indexByName(cmds []*Command) map[string]*Command {
	out := make(map[string]*Command, len(cmds))
	for _, c := range cmds {
		out[c.Name] = c
	}
	return out
}

// HandleEvent registers the sender and routes the event.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev transport.Event) error {
	if ev.CallbackID != "" {
		if err := d.tr.Answer(ctx, ev.CallbackID); err != nil {
			obslog.L().Warn("command_answer_failed", zap.Int64("user_id", ev.UserID), zap.Error(err))
		}
	}
	if strings.TrimSpace(ev.Username) == "" {
		return d.say(ctx, &domain.User{ID: ev.UserID, ChatID: ev.ChatID}, "error.no_username", nil, nil)
	}
	u, err := d.register(ctx, ev)
	if err != nil {
		return err
	}
	return d.route(ctx, &Request{User: u, Event: ev, Text: strings.TrimSpace(ev.Text)})
}

// register creates the user on first contact, otherwise refreshes activity,
// chat address and username.
func (d *Dispatcher) register(ctx context.Context, ev transport.Event) (*domain.User, error) {
	now := d.now()
	cur, err := d.store.GetUser(ctx, ev.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", ev.UserID, err)
	}
	if cur == nil {
		u := domain.NewUser(ev.UserID, ev.Username, ev.ChatID, now)
		if err := d.store.PutUser(ctx, u); err != nil {
			return nil, fmt.Errorf("create user %d: %w", ev.UserID, err)
		}
		obslog.L().Info("user_created", zap.Int64("user_id", u.ID), zap.String("name", u.Name))
		return u, nil
	}
	u, err := d.store.UpdateUser(ctx, ev.UserID, func(u *domain.User) error {
		u.LastActivityAt = now
		if ev.ChatID != 0 {
			u.ChatID = ev.ChatID
		}
		if u.Name != ev.Username {
			obslog.L().Info("user_renamed", zap.Int64("user_id", u.ID), zap.String("from", u.Name), zap.String("to", ev.Username))
			u.Name = ev.Username
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("touch user %d: %w", ev.UserID, err)
	}
	return u, nil
}

func (d *Dispatcher) route(ctx context.Context, r *Request) error {
	u := r.User
	switch {
	case r.Text == "":
		if u.PendingCommand == "" {
			return nil
		}
		return d.update(ctx, r, session.ClearPending)
	case u.PendingCommand != "":
		return d.resume(ctx, r)
	case strings.HasPrefix(r.Text, "/"):
		return d.invoke(ctx, r, commandName(r.Text))
	case u.Status == domain.StatusPlaying:
		return settle(d.matches.ApplyMove(ctx, u, r.Text, ""))
	default:
		return d.say(ctx, u, "error.bad_input", nil, nil)
	}
}

// resume hands the event to the parked command's continuation.
func (d *Dispatcher) resume(ctx context.Context, r *Request) error {
	name := r.User.PendingCommand
	if err := d.update(ctx, r, session.ClearPending); err != nil {
		return err
	}
	cmd := d.parked(name)
	if cmd == nil || cmd.Continue == nil {
		obslog.L().Warn("command_parked_unknown", zap.Int64("user_id", r.User.ID), zap.String("command", name))
		return d.say(ctx, r.User, "error.cmd_unknown", nil, nil)
	}
	obslog.L().Debug("command_continue", zap.Int64("user_id", r.User.ID), zap.String("command", name))
	out, err := cmd.Continue(ctx, d, r)
	return d.finish(ctx, r, cmd, out, err)
}

func (d *Dispatcher) parked(name string) *Command {
	if c, ok := d.steps[name]; ok {
		return c
	}
	return d.commands[name]
}

// invoke runs a command typed by the user after its gates.
func (d *Dispatcher) invoke(ctx context.Context, r *Request, name string) error {
	cmd, ok := d.commands[name]
	if !ok {
		obslog.L().Debug("command_unknown", zap.Int64("user_id", r.User.ID), zap.String("command", name))
		return d.reject(ctx, r, "error.cmd_unknown")
	}
	switch Admit(cmd, r.User) {
	case GateAdmin:
		return d.say(ctx, r.User, "error.cmd_admin", nil, nil)
	case GateStatus:
		return d.reject(ctx, r, "error.cmd_bad")
	}
	obslog.L().Debug("command_run", zap.Int64("user_id", r.User.ID), zap.String("command", name))
	out, err := cmd.Run(ctx, d, r)
	return d.finish(ctx, r, cmd, out, err)
}

// Gate is the verdict of a command's preconditions.
type Gate int

const (
	GateOpen Gate = iota
	GateAdmin
	GateStatus
)

// Admit checks the admin and status preconditions of cmd for u, in that order.
func Admit(cmd *Command, u *domain.User) Gate {
	if cmd.AdminOnly && !u.Admin {
		return GateAdmin
	}
	if cmd.Status != domain.StatusAny && u.Status != cmd.Status {
		return GateStatus
	}
	return GateOpen
}

// hop runs an internal step without any gate and parks it when it awaits input.
func (d *Dispatcher) hop(ctx context.Context, r *Request, name string) (Outcome, error) {
	step, ok := d.steps[name]
	if !ok {
		return Done, fmt.Errorf("unknown step %q", name)
	}
	obslog.L().Debug("command_hop", zap.Int64("user_id", r.User.ID), zap.String("step", name))
	out, err := step.Run(ctx, d, r)
	return Done, d.finish(ctx, r, step, out, err)
}

// finish parks cmd when it awaits input and filters errors the user was already told about.
func (d *Dispatcher) finish(ctx context.Context, r *Request, cmd *Command, out Outcome, err error) error {
	if err != nil {
		return settle(err)
	}
	if out != Await {
		return nil
	}
	return d.update(ctx, r, func(u *domain.User) { session.SetPending(u, cmd.Name) })
}

func settle(err error) error {
	if err == nil || match.Handled(err) {
		return nil
	}
	return err
}

// reject clears any parked command and sends key.
func (d *Dispatcher) reject(ctx context.Context, r *Request, key string) error {
	if r.User.PendingCommand != "" {
		if err := d.update(ctx, r, session.ClearPending); err != nil {
			return err
		}
	}
	return d.say(ctx, r.User, key, nil, nil)
}

// update applies fn to the sender's record and refreshes r.User.
func (d *Dispatcher) update(ctx context.Context, r *Request, fn func(*domain.User)) error {
	u, err := d.store.UpdateUser(ctx, r.User.ID, func(u *domain.User) error {
		fn(u)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %d vanished: %w", r.User.ID, err)
		}
		return fmt.Errorf("update user %d: %w", r.User.ID, err)
	}
	r.User = u
	return nil
}

func (d *Dispatcher) say(ctx context.Context, u *domain.User, key string, data map[string]any, markup transport.Markup) error {
	return d.matches.Notify(ctx, u, key, data, markup)
}

// commandName extracts "new" from "/new@DuelBot extra words".
func commandName(text string) string {
	name := strings.TrimPrefix(text, "/")
	if i := strings.IndexAny(name, " \t\n"); i >= 0 {
		name = name[:i]
	}
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}
