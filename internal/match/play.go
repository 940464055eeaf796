package match

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/duel-chess-bot/internal/archive"
	"github.com/park285/duel-chess-bot/internal/domain"
	"github.com/park285/duel-chess-bot/internal/obslog"
	"github.com/park285/duel-chess-bot/internal/rules"
	"github.com/park285/duel-chess-bot/internal/session"
	"github.com/park285/duel-chess-bot/internal/transport"
	"github.com/park285/duel-chess-bot/internal/util"
)

// Termination methods recorded in the archive.
const (
	MethodCheckmate = "checkmate"
	MethodStalemate = "stalemate"
	MethodResign    = "resign"
	MethodTimeout   = "timeout"
)

// Stop resigns the user's game.
func (m *Manager) Stop(ctx context.Context, u *domain.User) error {
	mt, adv, err := m.Resolve(ctx, u)
	if err != nil {
		return err
	}
	results := map[int64]domain.GameResult{u.ID: domain.ResultLose, adv.ID: domain.ResultWin}
	if mt.SelfPlay() {
		results = map[int64]domain.GameResult{u.ID: domain.ResultDraw}
	}
	if err := m.Finish(ctx, mt, results, MethodResign); err != nil {
		return err
	}
	errs := []error{m.Notify(ctx, u, "game.stopped_self", nil, nil)}
	if !mt.SelfPlay() {
		errs = append(errs, m.Notify(ctx, adv, "game.stopped_other", map[string]any{"Name": u.Name}, nil))
	}
	return errors.Join(errs...)
}

// Finish ends mt: the record is deleted first, then every participant still
// linked to it gets its result, then the match is archived.
func (m *Manager) Finish(ctx context.Context, mt *domain.Match, results map[int64]domain.GameResult, method string) error {
	if err := m.store.DeleteMatch(ctx, mt.ID); err != nil {
		return fmt.Errorf("delete match %s: %w", mt.ID, err)
	}
	return m.FinishClaimed(ctx, mt, results, method)
}

// FinishClaimed is Finish for a match the caller already removed from the store.
func (m *Manager) FinishClaimed(ctx context.Context, mt *domain.Match, results map[int64]domain.GameResult, method string) error {
	released, err := m.releasePlayers(ctx, mt, func(u *domain.User) {
		session.EndGame(u, results[u.ID])
	})
	if err != nil {
		return err
	}
	obslog.L().Info("match_finished",
		zap.String("match_id", mt.ID),
		zap.String("method", method),
		zap.Int("released", len(released)),
	)
	m.archive(ctx, mt, released, results, method)
	return nil
}

func (m *Manager) archive(ctx context.Context, mt *domain.Match, players map[int64]*domain.User, results map[int64]domain.GameResult, method string) {
	if m.archiver == nil {
		return
	}
	rec := archive.Record{
		MatchID:   mt.ID,
		WhiteID:   mt.WhiteID,
		BlackID:   mt.BlackID,
		Winner:    winnerToken(mt, results),
		Method:    method,
		FinalFEN:  mt.Position,
		LastMove:  mt.LastMoveCode,
		Timeout:   mt.Timeout,
		StartedAt: mt.CreatedAt,
		EndedAt:   m.now(),
	}
	if u := players[mt.WhiteID]; u != nil {
		rec.WhiteName = u.Name
	}
	if u := players[mt.BlackID]; u != nil {
		rec.BlackName = u.Name
	}
	if err := m.archiver.SaveResult(ctx, rec); err != nil {
		obslog.L().Error("match_archive_failed", zap.String("match_id", mt.ID), zap.Error(err))
	}
}

func winnerToken(mt *domain.Match, results map[int64]domain.GameResult) string {
	switch {
	case mt.SelfPlay():
		return "draw"
	case results[mt.WhiteID] == domain.ResultWin:
		return "white"
	case results[mt.BlackID] == domain.ResultWin:
		return "black"
	default:
		return "draw"
	}
}

// Precheck resolves the user's match, checks the turn and classifies code.
// An illegal or unparsable move is reported to the user and returned with a nil error.
func (m *Manager) Precheck(ctx context.Context, u *domain.User, code string) (*domain.Match, rules.Result, error) {
	mt, _, err := m.Resolve(ctx, u)
	if err != nil {
		return nil, rules.Unknown, err
	}
	turn, err := m.IsUserTurn(mt, u.ID)
	if err != nil {
		return nil, rules.Unknown, fmt.Errorf("side to move: %w", err)
	}
	if !turn {
		if err := m.Notify(ctx, u, "error.turn", nil, nil); err != nil {
			return nil, rules.Unknown, err
		}
		return nil, rules.Unknown, ErrNotYourTurn
	}
	res := m.rules.Classify(mt.Position, code)
	if !res.Legal() {
		return mt, res, m.Notify(ctx, u, rejectionKey(res), nil, nil)
	}
	return mt, res, nil
}

func rejectionKey(res rules.Result) string {
	if res == rules.Illegal {
		return "error.move_bad"
	}
	return "error.move_unknown"
}

// PreviewMove shows the user the board after code with confirm and cancel
// buttons. It reports whether a confirmation is now awaited.
func (m *Manager) PreviewMove(ctx context.Context, u *domain.User, code string) (bool, error) {
	mt, res, err := m.Precheck(ctx, u, code)
	if err != nil || !res.Legal() {
		return false, err
	}
	buttons := transport.InlineKeyboard{Rows: [][]transport.InlineButton{{
		{Text: m.msgs.Text("button.accept", nil), Data: "/accept"},
		{Text: m.msgs.Text("button.cancel", nil), Data: "/cancel"},
	}}}
	caption := m.msgs.Text("game.confirm_move", nil)
	if err := m.sendBoard(ctx, u, mt, rules.Normalize(code), caption, buttons); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyMove plays code for the user. When expectFEN is set the match position
// must still equal it, otherwise the user is told and ErrConflict returned.
func (m *Manager) ApplyMove(ctx context.Context, u *domain.User, code, expectFEN string) error {
	mt, res, err := m.Precheck(ctx, u, code)
	if err != nil || !res.Legal() {
		return err
	}
	code = rules.Normalize(code)
	now := m.now()
	mt, err = m.store.UpdateMatch(ctx, mt.ID, func(cur *domain.Match) error {
		if expectFEN != "" && cur.Position != expectFEN {
			return ErrConflict
		}
		if turn, err := m.IsUserTurn(cur, u.ID); err != nil {
			return err
		} else if !turn {
			return ErrNotYourTurn
		}
		next, r, err := m.rules.Apply(cur.Position, code)
		if err != nil {
			return err
		}
		res = r
		cur.Position = next
		cur.LastMoveCode = code
		cur.LastMoveAt = &now
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		return errors.Join(m.Notify(ctx, u, "game.board_changed", nil, nil), ErrConflict)
	case errors.Is(err, ErrNotYourTurn):
		return errors.Join(m.Notify(ctx, u, "error.turn", nil, nil), ErrNotYourTurn)
	case errors.Is(err, rules.ErrIllegal):
		return m.Notify(ctx, u, "error.move_bad", nil, nil)
	case errors.Is(err, rules.ErrUnparsable):
		return m.Notify(ctx, u, "error.move_unknown", nil, nil)
	default:
		return fmt.Errorf("apply move %s: %w", code, err)
	}

	adv, err := m.store.GetUser(ctx, mt.OpponentOf(u.ID))
	if err != nil {
		return fmt.Errorf("load adversary: %w", err)
	}
	obslog.L().Info("match_move",
		zap.String("match_id", mt.ID),
		zap.Int64("user_id", u.ID),
		zap.String("move", code),
		zap.String("result", res.String()),
	)

	errs := []error{m.sendBoard(ctx, u, mt, "", "", nil)}
	other := adv != nil && !mt.SelfPlay()
	if other {
		errs = append(errs, m.sendBoard(ctx, adv, mt, "", m.text("game.responded", map[string]any{"Name": u.Name}), nil))
	}

	switch res {
	case rules.Checkmate:
		results := map[int64]domain.GameResult{u.ID: domain.ResultWin}
		if other {
			results[adv.ID] = domain.ResultLose
		} else if mt.SelfPlay() {
			results[u.ID] = domain.ResultDraw
		}
		if err := m.Finish(ctx, mt, results, MethodCheckmate); err != nil {
			return errors.Join(append(errs, err)...)
		}
		errs = append(errs,
			m.Notify(ctx, u, "game.checkmate_win", nil, nil),
			m.Notify(ctx, u, "game.end", nil, nil),
		)
		if other {
			errs = append(errs,
				m.Notify(ctx, adv, "game.checkmate_lose", map[string]any{"Name": u.Name}, nil),
				m.Notify(ctx, adv, "game.end", nil, nil),
			)
		}
	case rules.Stalemate:
		results := map[int64]domain.GameResult{u.ID: domain.ResultDraw}
		if other {
			results[adv.ID] = domain.ResultDraw
		}
		if err := m.Finish(ctx, mt, results, MethodStalemate); err != nil {
			return errors.Join(append(errs, err)...)
		}
		for _, p := range []*domain.User{u, adv} {
			if p == nil || (p == adv && !other) {
				continue
			}
			errs = append(errs,
				m.Notify(ctx, p, "game.stalemate", nil, nil),
				m.Notify(ctx, p, "game.end", nil, nil),
			)
		}
	default:
		players := map[int64]*domain.User{u.ID: u}
		if other {
			players[adv.ID] = adv
		}
		if res == rules.Check {
			errs = append(errs, m.Notify(ctx, u, "game.check", nil, nil))
			if other {
				errs = append(errs, m.Notify(ctx, adv, "game.check", nil, nil))
			}
		}
		errs = append(errs, m.turnNotices(ctx, mt, players))
	}
	return errors.Join(errs...)
}

// Info describes the user and, while playing, the current game.
func (m *Manager) Info(ctx context.Context, u *domain.User) error {
	if u.Status != domain.StatusPlaying {
		return m.tr.SendText(ctx, u.ChatID, m.userInfo(u), transport.SendOptions{DisableLinkPreview: true})
	}
	mt, adv, err := m.Resolve(ctx, u)
	if err != nil {
		return err
	}
	now := m.now()
	lastMove := mt.CreatedAt
	if mt.LastMoveAt != nil {
		lastMove = *mt.LastMoveAt
	}
	mine, err := m.rules.Captured(mt.Position, mt.SideOf(u.ID))
	if err != nil {
		return fmt.Errorf("captured pieces: %w", err)
	}
	theirs, err := m.rules.Captured(mt.Position, mt.SideOf(u.ID).Opposite())
	if err != nil {
		return fmt.Errorf("captured pieces: %w", err)
	}
	// The info blocks are already escaped markup; the other values are generated.
	text := m.msgs.Text("info.game", map[string]any{
		"GameTime":      util.FormatTimespan(now.Sub(mt.CreatedAt)),
		"Timeout":       util.FormatTimespan(mt.Timeout),
		"LastMove":      util.FormatTimespan(now.Sub(lastMove)),
		"CapturedSelf":  mine,
		"CapturedOther": theirs,
		"SelfInfo":      m.userInfo(u),
		"OtherInfo":     m.userInfo(adv),
	})
	return m.tr.SendText(ctx, u.ChatID, text, transport.SendOptions{DisableLinkPreview: true})
}

func (m *Manager) userInfo(u *domain.User) string {
	return m.text("info.user", map[string]any{
		"Name":   u.Name,
		"Wins":   u.Wins,
		"Losses": u.Losses,
		"Since":  u.SignUpAt.Format("January 2006"),
	})
}
