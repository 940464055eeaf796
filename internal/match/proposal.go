package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/duel-chess-bot/internal/domain"
	"github.com/park285/duel-chess-bot/internal/obslog"
	"github.com/park285/duel-chess-bot/internal/session"
	"github.com/park285/duel-chess-bot/internal/store"
	"github.com/park285/duel-chess-bot/internal/transport"
	"github.com/park285/duel-chess-bot/internal/util"
)

var errNotIdle = errors.New("user is not idle")

var removeKeyboard = transport.RemoveKeyboard{}

// Propose offers adversaryName a match with the given move timeout.
// The invitee plays white and the proposer black.
func (m *Manager) Propose(ctx context.Context, proposer *domain.User, adversaryName string, timeout time.Duration) error {
	name := strings.TrimPrefix(strings.TrimSpace(adversaryName), "@")
	if name == proposer.Name && !proposer.Admin {
		return m.Notify(ctx, proposer, "error.same_user", nil, removeKeyboard)
	}

	found, err := m.store.UsersByName(ctx, name)
	if err != nil {
		return fmt.Errorf("lookup adversary %q: %w", name, err)
	}
	if len(found) != 1 {
		obslog.L().Info("match_adversary_unknown", zap.Int64("user_id", proposer.ID), zap.String("name", name), zap.Int("matches", len(found)))
		invite := transport.InlineKeyboard{Rows: [][]transport.InlineButton{{
			{Text: m.msgs.Text("button.invite", nil), SwitchQuery: m.msgs.Text("request.shared", nil)},
		}}}
		return errors.Join(
			m.Notify(ctx, proposer, "request.not_user", map[string]any{"Name": name}, removeKeyboard),
			m.Notify(ctx, proposer, "request.invite", nil, invite),
		)
	}
	adv := found[0]
	if adv.Status != domain.StatusIdle {
		return m.Notify(ctx, proposer, "request.busy", nil, removeKeyboard)
	}

	mt := domain.NewMatch(m.newID(), adv.ID, proposer.ID, timeout, m.now())
	if err := m.store.PutMatch(ctx, mt); err != nil {
		return fmt.Errorf("create match: %w", err)
	}

	if mt.SelfPlay() {
		return m.proposeSelf(ctx, proposer, mt)
	}

	invitee, err := m.store.UpdateUser(ctx, adv.ID, func(u *domain.User) error {
		if u.Status != domain.StatusIdle {
			return errNotIdle
		}
		session.SetupMatch(u, mt, proposer, true)
		return nil
	})
	if err != nil {
		if derr := m.store.DeleteMatch(ctx, mt.ID); derr != nil {
			return fmt.Errorf("drop match %s: %w", mt.ID, derr)
		}
		if errors.Is(err, errNotIdle) {
			return m.Notify(ctx, proposer, "request.busy", nil, removeKeyboard)
		}
		return fmt.Errorf("setup invitee %d: %w", adv.ID, err)
	}

	self, err := m.store.UpdateUser(ctx, proposer.ID, func(u *domain.User) error {
		if u.Status != domain.StatusIdle {
			return errNotIdle
		}
		session.SetupMatch(u, mt, invitee, false)
		return nil
	})
	if err != nil {
		if _, rerr := m.release(ctx, mt, session.Reset); rerr != nil {
			return rerr
		}
		if errors.Is(err, errNotIdle) {
			return m.Notify(ctx, proposer, "error.cmd_bad", nil, removeKeyboard)
		}
		return fmt.Errorf("setup proposer %d: %w", proposer.ID, err)
	}

	obslog.L().Info("match_proposed",
		zap.String("match_id", mt.ID),
		zap.Int64("white_id", mt.WhiteID),
		zap.Int64("black_id", mt.BlackID),
		zap.Duration("timeout", mt.Timeout),
	)
	return errors.Join(
		m.Notify(ctx, self, "request.sent", nil, removeKeyboard),
		m.Notify(ctx, invitee, "request.received", map[string]any{
			"Name":    self.Name,
			"Timeout": util.FormatTimespan(mt.Timeout),
		}, m.answerButtons()),
	)
}

// proposeSelf binds a single admin to both sides of mt.
func (m *Manager) proposeSelf(ctx context.Context, proposer *domain.User, mt *domain.Match) error {
	u, err := m.store.UpdateUser(ctx, proposer.ID, func(u *domain.User) error {
		if u.Status != domain.StatusIdle {
			return errNotIdle
		}
		session.SetupMatch(u, mt, u, false)
		session.SetupMatch(u, mt, u, true)
		return nil
	})
	if err != nil {
		if derr := m.store.DeleteMatch(ctx, mt.ID); derr != nil {
			return fmt.Errorf("drop match %s: %w", mt.ID, derr)
		}
		if errors.Is(err, errNotIdle) {
			return m.Notify(ctx, proposer, "error.cmd_bad", nil, removeKeyboard)
		}
		return fmt.Errorf("setup self-play %d: %w", proposer.ID, err)
	}
	obslog.L().Info("match_proposed_self", zap.String("match_id", mt.ID), zap.Int64("user_id", u.ID))
	return errors.Join(
		m.Notify(ctx, u, "request.sent", nil, removeKeyboard),
		m.Notify(ctx, u, "request.received", map[string]any{
			"Name":    u.Name,
			"Timeout": util.FormatTimespan(mt.Timeout),
		}, m.answerButtons()),
	)
}

func (m *Manager) answerButtons() transport.Markup {
	return transport.InlineKeyboard{Rows: [][]transport.InlineButton{{
		{Text: m.msgs.Text("button.accept", nil), Data: "/accept"},
		{Text: m.msgs.Text("button.refuse", nil), Data: "/refuse"},
	}}}
}

// Accept starts the user's requested match.
func (m *Manager) Accept(ctx context.Context, u *domain.User, interactionID int) error {
	mt, adv, err := m.Resolve(ctx, u)
	if err != nil {
		return err
	}
	m.retract(ctx, u, interactionID)

	now := m.now()
	mt, err = m.store.UpdateMatch(ctx, mt.ID, func(cur *domain.Match) error {
		cur.LastMoveAt = &now
		return nil
	})
	if err != nil {
		return fmt.Errorf("stamp match: %w", err)
	}

	self, err := m.store.UpdateUser(ctx, u.ID, func(cur *domain.User) error {
		if !session.Linked(cur, mt.ID) || cur.Status != domain.StatusRequested {
			return errUnlinked
		}
		session.StartMatch(cur)
		return nil
	})
	if err != nil {
		return m.acceptFailed(ctx, mt, u, err)
	}
	players := map[int64]*domain.User{self.ID: self}
	if !mt.SelfPlay() {
		other, err := m.store.UpdateUser(ctx, adv.ID, func(cur *domain.User) error {
			if !session.Linked(cur, mt.ID) {
				return errUnlinked
			}
			session.StartMatch(cur)
			return nil
		})
		if err != nil {
			return m.acceptFailed(ctx, mt, u, err)
		}
		players[other.ID] = other
	}
	obslog.L().Info("match_accepted", zap.String("match_id", mt.ID), zap.Int64("user_id", u.ID))

	errs := []error{
		m.Notify(ctx, self, "request.accepted_self", nil, nil),
		m.sendBoard(ctx, self, mt, "", "", nil),
	}
	if other, ok := players[adv.ID]; ok && other != self {
		errs = append(errs,
			m.Notify(ctx, other, "request.accepted_other", map[string]any{"Name": self.Name}, nil),
			m.sendBoard(ctx, other, mt, "", "", nil),
		)
	}
	errs = append(errs, m.turnNotices(ctx, mt, players))
	return errors.Join(errs...)
}

func (m *Manager) acceptFailed(ctx context.Context, mt *domain.Match, u *domain.User, cause error) error {
	if !errors.Is(cause, errUnlinked) && !errors.Is(cause, store.ErrNotFound) {
		return fmt.Errorf("start match %s: %w", mt.ID, cause)
	}
	obslog.L().Warn("match_accept_stale", zap.String("match_id", mt.ID), zap.Int64("user_id", u.ID), zap.Error(cause))
	if err := m.Abandon(ctx, mt, "game.link_lost"); err != nil {
		return err
	}
	return ErrStaleSession
}

// Refuse turns down the user's requested match.
func (m *Manager) Refuse(ctx context.Context, u *domain.User, interactionID int) error {
	mt, adv, err := m.Resolve(ctx, u)
	if err != nil {
		return err
	}
	m.retract(ctx, u, interactionID)
	return m.dissolve(ctx, mt, u, adv, "request.refused_self", "request.refused_other")
}

// Cancel withdraws the user's pending proposal.
func (m *Manager) Cancel(ctx context.Context, u *domain.User) error {
	mt, adv, err := m.Resolve(ctx, u)
	if err != nil {
		return err
	}
	return m.dissolve(ctx, mt, u, adv, "request.cancelled_self", "request.cancelled_other")
}

// dissolve removes an unplayed match and resets both players.
func (m *Manager) dissolve(ctx context.Context, mt *domain.Match, u, adv *domain.User, selfKey, otherKey string) error {
	released, err := m.release(ctx, mt, session.Reset)
	if err != nil {
		return err
	}
	obslog.L().Info("match_dissolved", zap.String("match_id", mt.ID), zap.Int64("user_id", u.ID), zap.String("reason", selfKey))
	errs := []error{m.Notify(ctx, u, selfKey, nil, nil)}
	if other, ok := released[adv.ID]; ok && adv.ID != u.ID {
		errs = append(errs, m.Notify(ctx, other, otherKey, map[string]any{"Name": u.Name}, nil))
	}
	return errors.Join(errs...)
}

func (m *Manager) retract(ctx context.Context, u *domain.User, interactionID int) {
	if interactionID == 0 {
		return
	}
	if err := m.tr.Retract(ctx, u.ChatID, interactionID); err != nil {
		obslog.L().Warn("match_retract_failed", zap.Int64("user_id", u.ID), zap.Int("interaction_id", interactionID), zap.Error(err))
	}
}
