package command

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/duel-chess-bot/internal/domain"
	"github.com/park285/duel-chess-bot/internal/match"
	"github.com/park285/duel-chess-bot/internal/obslog"
	"github.com/park285/duel-chess-bot/internal/rules"
	"github.com/park285/duel-chess-bot/internal/transport"
)

const (
	stepAdversary   = "new.adversary"
	stepConfirmMove = "move.confirm"

	cancelInput = "/cancel"
	acceptInput = "/accept"
)

func commandTable() []*Command {
	return []*Command{
		{Name: "start", Status: domain.StatusIdle, Run: say("cmd.start")},
		{Name: "new", Status: domain.StatusIdle, Run: runNew, Continue: continueNew},
		{Name: "accept", Status: domain.StatusRequested, Run: runAccept},
		{Name: "refuse", Status: domain.StatusRequested, Run: runRefuse},
		{Name: "cancel", Status: domain.StatusPending, Run: runCancel},
		{Name: "stop", Status: domain.StatusPlaying, Run: runStop},
		{Name: "move", Status: domain.StatusPlaying, Run: runMove, Continue: continueMove},
		{Name: "chat", Status: domain.StatusPlaying, Run: runChat, Continue: continueChat},
		{Name: "board", Status: domain.StatusPlaying, Run: runBoard},
		{Name: "info", Status: domain.StatusAny, Run: runInfo},
		{Name: "silence", Status: domain.StatusAny, Run: runMute(true)},
		{Name: "unsilence", Status: domain.StatusAny, Run: runMute(false)},
		{Name: "about", Status: domain.StatusAny, Run: say("cmd.about")},
		{Name: "help", Status: domain.StatusAny, Run: say("cmd.help")},
		{Name: "admin", Status: domain.StatusAny, Run: runAdmin, Continue: continueAdmin},
		{Name: "stats", Status: domain.StatusAny, AdminOnly: true, Run: runStats},
	}
}

// stepTable holds the internal steps reached only through hop.
func stepTable() []*Command {
	return []*Command{
		{Name: stepAdversary, Run: runAskAdversary, Continue: continueAdversary},
		{Name: stepConfirmMove, Run: runConfirmMove, Continue: continueConfirmMove},
	}
}

func say(key string) Handler {
	return func(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
		return Done, d.say(ctx, r.User, key, nil, nil)
	}
}

func runNew(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	kb := transport.ChoiceKeyboard{Options: match.TimeoutLabels()}
	return Await, d.say(ctx, r.User, "new.ask_timeout", nil, kb)
}

func continueNew(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	if r.Text == cancelInput {
		return Done, d.say(ctx, r.User, "admin.cancelled", nil, transport.RemoveKeyboard{})
	}
	timeout, ok := match.LookupTimeout(r.Text)
	if !ok {
		return Done, d.say(ctx, r.User, "error.bad_timeout", nil, transport.RemoveKeyboard{})
	}
	if err := d.say(ctx, r.User, "new.timeout_selected", nil, transport.RemoveKeyboard{}); err != nil {
		return Done, err
	}
	secs := strconv.FormatInt(int64(timeout/time.Second), 10)
	if err := d.update(ctx, r, func(u *domain.User) { u.PendingArg = secs }); err != nil {
		return Done, err
	}
	return d.hop(ctx, r, stepAdversary)
}

func runAskAdversary(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	var markup transport.Markup
	if len(r.User.RecentAdversaries) > 0 {
		markup = transport.ChoiceKeyboard{Options: r.User.RecentAdversaries}
	}
	return Await, d.say(ctx, r.User, "new.ask_adversary", nil, markup)
}

func continueAdversary(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	arg := r.User.PendingArg
	if err := d.update(ctx, r, func(u *domain.User) { u.PendingArg = "" }); err != nil {
		return Done, err
	}
	if r.Text == cancelInput {
		return Done, d.say(ctx, r.User, "admin.cancelled", nil, transport.RemoveKeyboard{})
	}
	secs, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || secs <= 0 {
		obslog.L().Warn("command_bad_timeout_arg", zap.Int64("user_id", r.User.ID), zap.String("arg", arg))
		return Done, d.say(ctx, r.User, "error.bad_timeout", nil, transport.RemoveKeyboard{})
	}
	return Done, d.matches.Propose(ctx, r.User, r.Text, time.Duration(secs)*time.Second)
}

func runAccept(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	return Done, d.matches.Accept(ctx, r.User, r.Event.InteractionID)
}

func runRefuse(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	return Done, d.matches.Refuse(ctx, r.User, r.Event.InteractionID)
}

func runCancel(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	return Done, d.matches.Cancel(ctx, r.User)
}

func runStop(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	return Done, d.matches.Stop(ctx, r.User)
}

func runBoard(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	return Done, d.matches.ShowBoard(ctx, r.User)
}

func runInfo(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	return Done, d.matches.Info(ctx, r.User)
}

func runMove(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	mt, _, err := d.matches.Resolve(ctx, r.User)
	if err != nil {
		return Done, err
	}
	turn, err := d.matches.IsUserTurn(mt, r.User.ID)
	if err != nil {
		return Done, err
	}
	if !turn {
		return Done, d.say(ctx, r.User, "error.turn", nil, nil)
	}
	return Await, d.say(ctx, r.User, "game.ask_move", nil, nil)
}

// continueMove re-parks on a rejected move so the user can try again.
func continueMove(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	if r.Text == cancelInput {
		return Done, d.say(ctx, r.User, "game.move_cancelled", nil, nil)
	}
	mt, res, err := d.matches.Precheck(ctx, r.User, r.Text)
	if err != nil {
		return Done, err
	}
	if !res.Legal() {
		return Await, nil
	}
	arg := encodeMoveArg(rules.Normalize(r.Text), mt.Position)
	if err := d.update(ctx, r, func(u *domain.User) { u.PendingArg = arg }); err != nil {
		return Done, err
	}
	return d.hop(ctx, r, stepConfirmMove)
}

func runConfirmMove(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	code, _ := decodeMoveArg(r.User.PendingArg)
	awaiting, err := d.matches.PreviewMove(ctx, r.User, code)
	if err != nil || !awaiting {
		return Done, err
	}
	return Await, nil
}

func continueConfirmMove(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	code, fen := decodeMoveArg(r.User.PendingArg)
	switch r.Text {
	case acceptInput:
		d.retract(ctx, r)
		if err := d.update(ctx, r, func(u *domain.User) { u.PendingArg = "" }); err != nil {
			return Done, err
		}
		return Done, d.matches.ApplyMove(ctx, r.User, code, fen)
	case cancelInput:
		d.retract(ctx, r)
		if err := d.say(ctx, r.User, "game.move_cancelled", nil, nil); err != nil {
			return Done, err
		}
		return Done, d.matches.ShowBoard(ctx, r.User)
	default:
		return Await, d.say(ctx, r.User, "game.confirm_pending", nil, nil)
	}
}

// Move arguments are stored as "code|fen" so confirmation can detect a changed board.
func encodeMoveArg(code, fen string) string { return code + "|" + fen }

func decodeMoveArg(arg string) (code, fen string) {
	code, fen, _ = strings.Cut(arg, "|")
	return code, fen
}

func runChat(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	_, adv, err := d.matches.Resolve(ctx, r.User)
	if err != nil {
		return Done, err
	}
	switch {
	case r.User.Muted:
		return Done, d.say(ctx, r.User, "silence.self_on", nil, nil)
	case adv.Muted:
		return Done, d.say(ctx, r.User, "silence.other_muted", map[string]any{"Name": adv.Name}, nil)
	default:
		return Await, d.say(ctx, r.User, "chat.ask", nil, nil)
	}
}

func continueChat(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	if r.Text == cancelInput {
		return Done, d.say(ctx, r.User, "chat.cancelled", nil, nil)
	}
	_, adv, err := d.matches.Resolve(ctx, r.User)
	if err != nil {
		return Done, err
	}
	if adv.Muted {
		return Done, d.say(ctx, r.User, "silence.other_muted", map[string]any{"Name": adv.Name}, nil)
	}
	if err := d.say(ctx, adv, "chat.relay", map[string]any{"Name": r.User.Name, "Text": r.Text}, nil); err != nil {
		return Done, err
	}
	return Done, d.say(ctx, r.User, "chat.sent", map[string]any{"Name": adv.Name}, nil)
}

func runMute(on bool) Handler {
	already, selfKey, otherKey := "error.chat_not_silent", "silence.self_off", "silence.off"
	if on {
		already, selfKey, otherKey = "error.chat_silent", "silence.self_on", "silence.on"
	}
	return func(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
		if r.User.Muted == on {
			return Done, d.say(ctx, r.User, already, nil, nil)
		}
		if err := d.update(ctx, r, func(u *domain.User) { u.Muted = on }); err != nil {
			return Done, err
		}
		if err := d.say(ctx, r.User, selfKey, nil, nil); err != nil {
			return Done, err
		}
		if r.User.Status != domain.StatusPlaying {
			return Done, nil
		}
		adv, err := d.store.GetUser(ctx, r.User.AdversaryID)
		if err != nil || adv == nil || adv.Muted {
			return Done, err
		}
		return Done, d.say(ctx, adv, otherKey, map[string]any{"Name": r.User.Name}, nil)
	}
}

func runAdmin(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	if r.User.Admin {
		return Done, d.say(ctx, r.User, "admin.already", nil, nil)
	}
	return Await, d.say(ctx, r.User, "admin.ask_password", nil, nil)
}

func continueAdmin(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	switch {
	case r.Text == cancelInput:
		return Done, d.say(ctx, r.User, "admin.cancelled", nil, nil)
	case d.adminPass != "" && r.Text == d.adminPass:
		if err := d.update(ctx, r, func(u *domain.User) { u.Admin = true }); err != nil {
			return Done, err
		}
		obslog.L().Info("user_promoted_admin", zap.Int64("user_id", r.User.ID))
		return Done, d.say(ctx, r.User, "admin.promoted", nil, nil)
	default:
		obslog.L().Warn("admin_password_rejected", zap.Int64("user_id", r.User.ID))
		return Done, d.say(ctx, r.User, "admin.wrong_password", nil, nil)
	}
}

func runStats(ctx context.Context, d *Dispatcher, r *Request) (Outcome, error) {
	users, err := d.store.QueryUsers(ctx, nil)
	if err != nil {
		return Done, err
	}
	matches, err := d.store.QueryMatches(ctx, nil)
	if err != nil {
		return Done, err
	}
	playing := 0
	for _, m := range matches {
		if m.LastMoveAt != nil {
			playing++
		}
	}
	return Done, d.say(ctx, r.User, "admin.stats", map[string]any{
		"Users":   len(users),
		"Matches": len(matches),
		"Playing": playing,
	}, nil)
}

func (d *Dispatcher) retract(ctx context.Context, r *Request) {
	if r.Event.InteractionID == 0 {
		return
	}
	if err := d.tr.Retract(ctx, r.User.ChatID, r.Event.InteractionID); err != nil {
		obslog.L().Warn("command_retract_failed", zap.Int64("user_id", r.User.ID), zap.Error(err))
	}
}
