// Package reaper expires inactive users and matches whose player on turn ran
// out of time. Sweeps run on a gocron schedule and can be triggered directly.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/park285/duel-chess-bot/internal/domain"
	"github.com/park285/duel-chess-bot/internal/match"
	"github.com/park285/duel-chess-bot/internal/obslog"
	"github.com/park285/duel-chess-bot/internal/store"
	"github.com/park285/duel-chess-bot/internal/util"
)

type Config struct {
	// UserTimeout is the inactivity after which a user record is deleted.
	UserTimeout time.Duration
	// StaleProposalTimeout expires matches that never saw a move. Zero disables it.
	StaleProposalTimeout time.Duration
}

type Reaper struct {
	store   store.Store
	matches *match.Manager
	cfg     Config

	mu    sync.Mutex
	sched gocron.Scheduler
}

func New(s store.Store, matches *match.Manager, cfg Config) *Reaper {
	return &Reaper{store: s, matches: matches, cfg: cfg}
}

// SweepUsers deletes users idle for longer than the configured timeout. Nobody is notified.
func (r *Reaper) SweepUsers(ctx context.Context) (int, error) {
	if r.cfg.UserTimeout <= 0 {
		return 0, nil
	}
	now := r.matches.Now()
	inactive := func(u *domain.User) bool {
		return now.Sub(u.LastActivityAt) > r.cfg.UserTimeout
	}
	expired, err := r.store.QueryUsers(ctx, inactive)
	if err != nil {
		return 0, fmt.Errorf("query users: %w", err)
	}
	n := 0
	var errs []error
	for _, u := range expired {
		// The user may have come back since the query; the delete re-checks.
		deleted, err := r.store.DeleteUserIf(ctx, u.ID, inactive)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete user %d: %w", u.ID, err))
			continue
		}
		if !deleted {
			obslog.L().Debug("reaper_user_kept", zap.Int64("user_id", u.ID))
			continue
		}
		n++
		obslog.L().Info("reaper_user_deleted",
			zap.Int64("user_id", u.ID),
			zap.String("name", u.Name),
			zap.Time("last_activity_at", u.LastActivityAt),
		)
	}
	return n, errors.Join(errs...)
}

// Expired reports whether mt's player on turn exceeded the move timeout at now.
// A match without a recorded move never expires here.
func Expired(mt *domain.Match, now time.Time) bool {
	if mt.LastMoveAt == nil {
		return false
	}
	return now.Sub(*mt.LastMoveAt) > mt.Timeout
}

// SweepMatches ends every match whose player on turn ran out of time. That
// player loses, the other one wins, and both are told.
func (r *Reaper) SweepMatches(ctx context.Context) (int, error) {
	now := r.matches.Now()
	expired, err := r.store.QueryMatches(ctx, func(mt *domain.Match) bool {
		return Expired(mt, now)
	})
	if err != nil {
		return 0, fmt.Errorf("query matches: %w", err)
	}
	n := 0
	var errs []error
	for _, mt := range expired {
		done, err := r.expire(ctx, mt, now)
		if done {
			n++
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("expire match %s: %w", mt.ID, err))
		}
	}
	return n, errors.Join(errs...)
}

// unchanged reports whether cur still holds the position and move time of snap.
func unchanged(snap, cur *domain.Match) bool {
	if cur.Position != snap.Position || (cur.LastMoveAt == nil) != (snap.LastMoveAt == nil) {
		return false
	}
	return cur.LastMoveAt == nil || cur.LastMoveAt.Equal(*snap.LastMoveAt)
}

// expire removes snap if it is still expired and untouched, then settles the
// result from the removed record. It reports false when a move got there first.
func (r *Reaper) expire(ctx context.Context, snap *domain.Match, now time.Time) (bool, error) {
	mt, err := r.store.DeleteMatchIf(ctx, snap.ID, func(cur *domain.Match) bool {
		return Expired(cur, now) && unchanged(snap, cur)
	})
	if err != nil {
		return false, err
	}
	if mt == nil {
		obslog.L().Debug("reaper_match_kept", zap.String("match_id", snap.ID))
		return false, nil
	}

	white, err := r.store.GetUser(ctx, mt.WhiteID)
	if err != nil {
		return true, err
	}
	black, err := r.store.GetUser(ctx, mt.BlackID)
	if err != nil {
		return true, err
	}
	if white == nil || black == nil {
		obslog.L().Warn("reaper_match_player_missing",
			zap.String("match_id", mt.ID),
			zap.Bool("white_found", white != nil),
			zap.Bool("black_found", black != nil),
		)
		return true, r.matches.AbandonClaimed(ctx, mt, "game.link_lost")
	}

	whiteTurn, err := r.matches.IsUserTurn(mt, white.ID)
	if err != nil {
		return true, fmt.Errorf("side to move: %w", err)
	}
	loser, winner := black, white
	if whiteTurn {
		loser, winner = white, black
	}
	results := map[int64]domain.GameResult{loser.ID: domain.ResultLose, winner.ID: domain.ResultWin}
	if mt.SelfPlay() {
		results = map[int64]domain.GameResult{white.ID: domain.ResultDraw}
	}
	if err := r.matches.FinishClaimed(ctx, mt, results, match.MethodTimeout); err != nil {
		return true, err
	}
	obslog.L().Info("reaper_match_expired",
		zap.String("match_id", mt.ID),
		zap.Int64("loser_id", loser.ID),
		zap.Duration("timeout", mt.Timeout),
	)

	data := map[string]any{"Name": loser.Name, "Timeout": util.FormatTimespan(mt.Timeout)}
	errs := []error{r.matches.Notify(ctx, white, "error.timeout", data, nil)}
	if !mt.SelfPlay() {
		errs = append(errs, r.matches.Notify(ctx, black, "error.timeout", data, nil))
	}
	return true, errors.Join(errs...)
}

// SweepProposals drops matches that were never played for longer than the
// stale proposal timeout and tells whoever was waiting on them.
func (r *Reaper) SweepProposals(ctx context.Context) (int, error) {
	if r.cfg.StaleProposalTimeout <= 0 {
		return 0, nil
	}
	now := r.matches.Now()
	isStale := func(mt *domain.Match) bool {
		return mt.LastMoveAt == nil && now.Sub(mt.CreatedAt) > r.cfg.StaleProposalTimeout
	}
	stale, err := r.store.QueryMatches(ctx, isStale)
	if err != nil {
		return 0, fmt.Errorf("query matches: %w", err)
	}
	n := 0
	var errs []error
	for _, snap := range stale {
		// Acceptance stamps the move time, so a proposal accepted since the query is kept.
		mt, err := r.store.DeleteMatchIf(ctx, snap.ID, isStale)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire proposal %s: %w", snap.ID, err))
			continue
		}
		if mt == nil {
			continue
		}
		n++
		if err := r.matches.AbandonClaimed(ctx, mt, "request.expired"); err != nil {
			errs = append(errs, fmt.Errorf("expire proposal %s: %w", mt.ID, err))
		}
	}
	return n, errors.Join(errs...)
}

// Sweep runs every sweep once and logs the outcome.
func (r *Reaper) Sweep(ctx context.Context) {
	run := func(name string, fn func(context.Context) (int, error)) {
		n, err := fn(ctx)
		if err != nil {
			obslog.L().Error("reaper_sweep_failed", zap.String("sweep", name), zap.Int("expired", n), zap.Error(err))
			return
		}
		if n > 0 {
			obslog.L().Info("reaper_sweep_done", zap.String("sweep", name), zap.Int("expired", n))
		}
	}
	run("users", r.SweepUsers)
	run("matches", r.SweepMatches)
	run("proposals", r.SweepProposals)
}

// Start schedules Sweep every interval until Stop. Overlapping runs are skipped.
func (r *Reaper) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reaper: invalid interval %s", interval)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sched != nil {
		return errors.New("reaper: already started")
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("reaper scheduler: %w", err)
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { r.Sweep(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("reaper"),
	); err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("reaper job: %w", err)
	}
	sched.Start()
	r.sched = sched
	obslog.L().Info("reaper_started", zap.Duration("interval", interval))
	return nil
}

// Stop shuts the schedule down, waiting for a running sweep to return.
func (r *Reaper) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sched == nil {
		return nil
	}
	err := r.sched.Shutdown()
	r.sched = nil
	return err
}
