package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/park285/duel-chess-bot/internal/domain"
)

// Memory is a process-local Store used when no Redis is configured and in tests.
// Records are copied on the way in and out.
type Memory struct {
	mu      sync.Mutex
	users   map[int64]*domain.User
	matches map[string]*domain.Match
}

func NewMemory() *Memory {
	return &Memory{
		users:   make(map[int64]*domain.User),
		matches: make(map[string]*domain.Match),
	}
}

func (m *Memory) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id].Clone(), nil
}

func (m *Memory) UsersByName(ctx context.Context, name string) ([]*domain.User, error) {
	if name == "" {
		return nil, nil
	}
	return m.QueryUsers(ctx, func(u *domain.User) bool { return u.Name == name })
}

func (m *Memory) QueryUsers(ctx context.Context, pred func(*domain.User) bool) ([]*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.User, 0, len(m.users))
	for _, u := range m.users {
		if pred == nil || pred(u) {
			out = append(out, u.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		return errors.New("nil user")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u.Clone()
	return nil
}

func (m *Memory) UpdateUser(ctx context.Context, id int64, fn func(*domain.User) error) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.users[id] = next
	return next.Clone(), nil
}

func (m *Memory) DeleteUser(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *Memory) DeleteUserIf(ctx context.Context, id int64, pred func(*domain.User) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[id]
	if !ok || !pred(cur.Clone()) {
		return false, nil
	}
	delete(m.users, id)
	return true, nil
}

func (m *Memory) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matches[id].Clone(), nil
}

func (m *Memory) QueryMatches(ctx context.Context, pred func(*domain.Match) bool) ([]*domain.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Match, 0, len(m.matches))
	for _, v := range m.matches {
		if pred == nil || pred(v) {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PutMatch(ctx context.Context, v *domain.Match) error {
	if v == nil || v.ID == "" {
		return errors.New("match without id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[v.ID] = v.Clone()
	return nil
}

func (m *Memory) UpdateMatch(ctx context.Context, id string, fn func(*domain.Match) error) (*domain.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.matches[id] = next
	return next.Clone(), nil
}

func (m *Memory) DeleteMatch(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.matches, id)
	return nil
}

func (m *Memory) DeleteMatchIf(ctx context.Context, id string, pred func(*domain.Match) bool) (*domain.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.matches[id]
	if !ok || !pred(cur.Clone()) {
		return nil, nil
	}
	delete(m.matches, id)
	return cur.Clone(), nil
}
