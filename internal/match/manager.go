// Package match drives the lifecycle of a duel: proposal, acceptance, moves,
// termination. All record changes go through the store's atomic updates and
// are persisted before the players hear about them.
package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/duel-chess-bot/internal/archive"
	"github.com/park285/duel-chess-bot/internal/domain"
	"github.com/park285/duel-chess-bot/internal/msgcat"
	"github.com/park285/duel-chess-bot/internal/obslog"
	"github.com/park285/duel-chess-bot/internal/render"
	"github.com/park285/duel-chess-bot/internal/rules"
	"github.com/park285/duel-chess-bot/internal/session"
	"github.com/park285/duel-chess-bot/internal/store"
	"github.com/park285/duel-chess-bot/internal/transport"
)

// Sentinels returned after the affected user has already been told.
var (
	ErrDangling     = errors.New("match: dangling match or adversary reference")
	ErrConflict     = errors.New("match: position changed since preview")
	ErrNotYourTurn  = errors.New("match: not the user's turn")
	ErrStaleSession = errors.New("match: user state changed concurrently")
)

// Handled reports whether err only signals a condition the user was already notified of.
func Handled(err error) bool {
	return errors.Is(err, ErrDangling) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotYourTurn) ||
		errors.Is(err, ErrStaleSession)
}

// Rules is the chess oracle the manager consults.
type Rules interface {
	Classify(fen, code string) rules.Result
	Apply(fen, code string) (string, rules.Result, error)
	SideToMove(fen string) (domain.Side, error)
	Captured(fen string, side domain.Side) (string, error)
}

// Archiver stores finished matches.
type Archiver interface {
	SaveResult(ctx context.Context, rec archive.Record) error
}

type Deps struct {
	Store     store.Store
	Rules     Rules
	Renderer  render.Renderer
	Transport transport.Transport
	Messages  *msgcat.Catalog
	// Archiver is optional.
	Archiver Archiver
	Now      func() time.Time
	NewID    func() string
}

type Manager struct {
	store    store.Store
	rules    Rules
	renderer render.Renderer
	tr       transport.Transport
	msgs     *msgcat.Catalog
	archiver Archiver
	now      func() time.Time
	newID    func() string
}

func New(d Deps) *Manager {
	m := &Manager{
		store:    d.Store,
		rules:    d.Rules,
		renderer: d.Renderer,
		tr:       d.Transport,
		msgs:     d.Messages,
		archiver: d.Archiver,
		now:      d.Now,
		newID:    d.NewID,
	}
	if m.rules == nil {
		m.rules = rules.Chess{}
	}
	if m.renderer == nil {
		m.renderer = render.NewBoard()
	}
	if m.msgs == nil {
		m.msgs = msgcat.MustDefault()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time { return m.now() }

// Notify sends the catalog message key to u.
func (m *Manager) Notify(ctx context.Context, u *domain.User, key string, data map[string]any, markup transport.Markup) error {
	if u == nil {
		return nil
	}
	text := m.text(key, data)
	return m.tr.SendText(ctx, u.ChatID, text, transport.SendOptions{Markup: markup, DisableLinkPreview: true})
}

// text renders key with every string value escaped, so names and relayed
// chat text cannot break the message markup.
func (m *Manager) text(key string, data map[string]any) string {
	if len(data) == 0 {
		return m.msgs.Text(key, data)
	}
	safe := make(map[string]any, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			v = transport.EscapeMarkdown(s)
		}
		safe[k] = v
	}
	return m.msgs.Text(key, safe)
}

// Resolve loads the user's match and adversary. A broken reference is logged,
// the user is told and reset, and ErrDangling is returned.
func (m *Manager) Resolve(ctx context.Context, u *domain.User) (*domain.Match, *domain.User, error) {
	var (
		mt  *domain.Match
		adv *domain.User
		err error
	)
	if u.MatchID != "" {
		if mt, err = m.store.GetMatch(ctx, u.MatchID); err != nil {
			return nil, nil, fmt.Errorf("load match %s: %w", u.MatchID, err)
		}
	}
	if u.AdversaryID != 0 {
		if adv, err = m.store.GetUser(ctx, u.AdversaryID); err != nil {
			return nil, nil, fmt.Errorf("load adversary %d: %w", u.AdversaryID, err)
		}
	}
	if mt != nil && adv != nil && mt.Participant(u.ID) && mt.Participant(adv.ID) {
		return mt, adv, nil
	}

	obslog.L().Warn("match_link_dangling",
		zap.Int64("user_id", u.ID),
		zap.String("match_id", u.MatchID),
		zap.Int64("adversary_id", u.AdversaryID),
		zap.Bool("match_found", mt != nil),
		zap.Bool("adversary_found", adv != nil),
	)
	if mt != nil && mt.Participant(u.ID) {
		if _, err := m.release(ctx, mt, session.Reset); err != nil {
			return nil, nil, err
		}
	} else if _, err := m.store.UpdateUser(ctx, u.ID, func(cur *domain.User) error {
		session.Reset(cur)
		return nil
	}); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("reset user %d: %w", u.ID, err)
	}
	if err := m.Notify(ctx, u, "game.link_lost", nil, nil); err != nil {
		return nil, nil, err
	}
	return nil, nil, ErrDangling
}

// errUnlinked aborts an update on a user no longer bound to the match.
var errUnlinked = errors.New("user no longer linked to match")

// release deletes mt and then applies fn to every participant still linked to it.
// The returned map holds the updated participants by id.
func (m *Manager) release(ctx context.Context, mt *domain.Match, fn func(*domain.User)) (map[int64]*domain.User, error) {
	if err := m.store.DeleteMatch(ctx, mt.ID); err != nil {
		return nil, fmt.Errorf("delete match %s: %w", mt.ID, err)
	}
	return m.releasePlayers(ctx, mt, fn)
}

// releasePlayers applies fn to the participants of an already deleted match.
func (m *Manager) releasePlayers(ctx context.Context, mt *domain.Match, fn func(*domain.User)) (map[int64]*domain.User, error) {
	out := make(map[int64]*domain.User, 2)
	for _, id := range participants(mt) {
		u, err := m.store.UpdateUser(ctx, id, func(cur *domain.User) error {
			if !session.Linked(cur, mt.ID) {
				return errUnlinked
			}
			fn(cur)
			return nil
		})
		switch {
		case err == nil:
			out[id] = u
		case errors.Is(err, errUnlinked), errors.Is(err, store.ErrNotFound):
			obslog.L().Debug("match_release_skip_user", zap.String("match_id", mt.ID), zap.Int64("user_id", id), zap.Error(err))
		default:
			return out, fmt.Errorf("release user %d: %w", id, err)
		}
	}
	return out, nil
}

// Abandon deletes mt, resets whoever is still linked to it and tells them key.
func (m *Manager) Abandon(ctx context.Context, mt *domain.Match, key string) error {
	if err := m.store.DeleteMatch(ctx, mt.ID); err != nil {
		return fmt.Errorf("delete match %s: %w", mt.ID, err)
	}
	return m.AbandonClaimed(ctx, mt, key)
}

// AbandonClaimed is Abandon for a match the caller already removed from the store.
func (m *Manager) AbandonClaimed(ctx context.Context, mt *domain.Match, key string) error {
	released, err := m.releasePlayers(ctx, mt, session.Reset)
	if err != nil {
		return err
	}
	obslog.L().Info("match_abandoned", zap.String("match_id", mt.ID), zap.String("reason", key))
	var errs []error
	for _, id := range participants(mt) {
		if u, ok := released[id]; ok {
			errs = append(errs, m.Notify(ctx, u, key, nil, nil))
		}
	}
	return errors.Join(errs...)
}

func participants(mt *domain.Match) []int64 {
	if mt.SelfPlay() {
		return []int64{mt.WhiteID}
	}
	return []int64{mt.WhiteID, mt.BlackID}
}

// sendBoard sends mt's board to u from u's side. A non-empty preview is shown
// applied and highlighted instead of the last move.
func (m *Manager) sendBoard(ctx context.Context, u *domain.User, mt *domain.Match, preview, caption string, markup transport.Markup) error {
	fen, highlight := mt.Position, mt.LastMoveCode
	if preview != "" {
		next, _, err := m.rules.Apply(fen, preview)
		if err != nil {
			return fmt.Errorf("preview %s: %w", preview, err)
		}
		fen, highlight = next, preview
	}
	png, err := m.renderer.Render(ctx, fen, mt.SideOf(u.ID), highlight)
	if err != nil {
		return fmt.Errorf("render board: %w", err)
	}
	return m.tr.SendImage(ctx, u.ChatID, png, caption, transport.SendOptions{Silent: true, Markup: markup})
}

// ShowBoard sends the current board of the user's match.
func (m *Manager) ShowBoard(ctx context.Context, u *domain.User) error {
	mt, _, err := m.Resolve(ctx, u)
	if err != nil {
		return err
	}
	return m.sendBoard(ctx, u, mt, "", "", nil)
}

// IsUserTurn reports whether userID may move in mt. Self-play is always the user's turn.
func (m *Manager) IsUserTurn(mt *domain.Match, userID int64) (bool, error) {
	if mt.SelfPlay() {
		return mt.Participant(userID), nil
	}
	side, err := m.rules.SideToMove(mt.Position)
	if err != nil {
		return false, err
	}
	return side == mt.SideOf(userID), nil
}

// turnNotices tells every participant of mt whose turn it is.
func (m *Manager) turnNotices(ctx context.Context, mt *domain.Match, players map[int64]*domain.User) error {
	side, err := m.rules.SideToMove(mt.Position)
	if err != nil {
		return err
	}
	onTurn := players[mt.PlayerOf(side)]
	var errs []error
	for _, id := range participants(mt) {
		u := players[id]
		if u == nil {
			continue
		}
		if mt.SelfPlay() || u == onTurn {
			errs = append(errs, m.Notify(ctx, u, "game.turn_your", nil, nil))
			continue
		}
		name := ""
		if onTurn != nil {
			name = onTurn.Name
		}
		errs = append(errs, m.Notify(ctx, u, "game.turn_wait", map[string]any{"Name": name}, nil))
	}
	return errors.Join(errs...)
}
