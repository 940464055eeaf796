// Package store persists users and matches.
package store

import (
	"context"
	"errors"

	"github.com/park285/duel-chess-bot/internal/domain"
)

// ErrNotFound is returned by updates on a record that does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store is durable keyed storage for users and matches. Get methods return
// (nil, nil) when the record is absent. Update methods run fn on a fresh copy
// of the record and persist the result atomically; an error from fn aborts the
// update and is returned unchanged. A nil query predicate matches every record.
// The conditional deletes re-test pred against the stored record and remove it
// in the same atomic step; they report nothing removed when the record is gone
// or pred no longer holds.
type Store interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	UsersByName(ctx context.Context, name string) ([]*domain.User, error)
	QueryUsers(ctx context.Context, pred func(*domain.User) bool) ([]*domain.User, error)
	PutUser(ctx context.Context, u *domain.User) error
	UpdateUser(ctx context.Context, id int64, fn func(*domain.User) error) (*domain.User, error)
	DeleteUser(ctx context.Context, id int64) error
	DeleteUserIf(ctx context.Context, id int64, pred func(*domain.User) bool) (bool, error)

	GetMatch(ctx context.Context, id string) (*domain.Match, error)
	QueryMatches(ctx context.Context, pred func(*domain.Match) bool) ([]*domain.Match, error)
	PutMatch(ctx context.Context, m *domain.Match) error
	UpdateMatch(ctx context.Context, id string, fn func(*domain.Match) error) (*domain.Match, error)
	DeleteMatch(ctx context.Context, id string) error
	// DeleteMatchIf returns the removed record, or nil when nothing was removed.
	DeleteMatchIf(ctx context.Context, id string, pred func(*domain.Match) bool) (*domain.Match, error)
}
