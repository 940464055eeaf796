package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/duel-chess-bot/internal/domain"
	"github.com/park285/duel-chess-bot/internal/obslog"
)

const (
	defaultTxRetries = 8
	scanBatch        = 100
)

// Redis stores records as JSON values with set indexes for listing and name lookup.
type Redis struct {
	rdb     *redis.Client
	prefix  string
	retries int
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, prefix: "duel", retries: defaultTxRetries}
}

// OpenRedis connects to a redis:// or rediss:// URL and pings the server.
func OpenRedis(ctx context.Context, rawURL string) (*Redis, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := parseRedisURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(rdb), nil
}

func (s *Redis) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Redis) userKey(id int64) string    { return s.prefix + ":user:" + strconv.FormatInt(id, 10) }
func (s *Redis) usersKey() string           { return s.prefix + ":users" }
func (s *Redis) nameKey(name string) string { return s.prefix + ":user:name:" + name }
func (s *Redis) matchKey(id string) string  { return s.prefix + ":match:" + strings.TrimSpace(id) }
func (s *Redis) matchesKey() string         { return s.prefix + ":matches" }

func (s *Redis) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return getJSON[domain.User](ctx, s.rdb, s.userKey(id))
}

func (s *Redis) UsersByName(ctx context.Context, name string) ([]*domain.User, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	ids, err := s.rdb.SMembers(ctx, s.nameKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("name index: %w", err)
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.prefix+":user:"+id)
	}
	users, err := mgetJSON[domain.User](ctx, s.rdb, keys)
	if err != nil {
		return nil, err
	}
	// the index may lag behind a rename
	out := users[:0]
	for _, u := range users {
		if u.Name == name {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Redis) QueryUsers(ctx context.Context, pred func(*domain.User) bool) ([]*domain.User, error) {
	ids, err := s.rdb.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("users index: %w", err)
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.prefix+":user:"+id)
	}
	users, err := mgetJSON[domain.User](ctx, s.rdb, keys)
	if err != nil {
		return nil, err
	}
	return filter(users, pred), nil
}

func (s *Redis) PutUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		return errors.New("nil user")
	}
	return s.updateUserTx(ctx, u.ID, func(cur *domain.User) (*domain.User, error) {
		return u.Clone(), nil
	})
}

func (s *Redis) UpdateUser(ctx context.Context, id int64, fn func(*domain.User) error) (*domain.User, error) {
	var out *domain.User
	err := s.updateUserTx(ctx, id, func(cur *domain.User) (*domain.User, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		if err := fn(cur); err != nil {
			return nil, err
		}
		out = cur.Clone()
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// updateUserTx runs a WATCH transaction on the user key. next receives the
// current record (nil if absent) and returns the record to write.
func (s *Redis) updateUserTx(ctx context.Context, id int64, next func(cur *domain.User) (*domain.User, error)) error {
	key := s.userKey(id)
	return s.retryTx(ctx, func() error {
		return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := getJSON[domain.User](ctx, tx, key)
			if err != nil {
				return err
			}
			oldName := ""
			if cur != nil {
				oldName = cur.Name
			}
			u, err := next(cur)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(u)
			if err != nil {
				return err
			}
			member := strconv.FormatInt(u.ID, 10)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, raw, 0)
				pipe.SAdd(ctx, s.usersKey(), member)
				if oldName != "" && oldName != u.Name {
					pipe.SRem(ctx, s.nameKey(oldName), member)
				}
				if u.Name != "" {
					pipe.SAdd(ctx, s.nameKey(u.Name), member)
				}
				return nil
			})
			return err
		}, key)
	})
}

func (s *Redis) DeleteUser(ctx context.Context, id int64) error {
	_, err := s.DeleteUserIf(ctx, id, func(*domain.User) bool { return true })
	return err
}

// DeleteUserIf removes the user and its index entries under a WATCH on the user key.
func (s *Redis) DeleteUserIf(ctx context.Context, id int64, pred func(*domain.User) bool) (bool, error) {
	key := s.userKey(id)
	member := strconv.FormatInt(id, 10)
	deleted := false
	err := s.retryTx(ctx, func() error {
		deleted = false
		return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := getJSON[domain.User](ctx, tx, key)
			if err != nil {
				return err
			}
			if cur == nil {
				// Drop a dangling index entry left by an interrupted delete.
				return tx.SRem(ctx, s.usersKey(), member).Err()
			}
			if !pred(cur.Clone()) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.usersKey(), member)
				if cur.Name != "" {
					pipe.SRem(ctx, s.nameKey(cur.Name), member)
				}
				return nil
			})
			if err == nil {
				deleted = true
			}
			return err
		}, key)
	})
	return deleted, err
}

func (s *Redis) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	return getJSON[domain.Match](ctx, s.rdb, s.matchKey(id))
}

func (s *Redis) QueryMatches(ctx context.Context, pred func(*domain.Match) bool) ([]*domain.Match, error) {
	ids, err := s.rdb.SMembers(ctx, s.matchesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("matches index: %w", err)
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.matchKey(id))
	}
	matches, err := mgetJSON[domain.Match](ctx, s.rdb, keys)
	if err != nil {
		return nil, err
	}
	return filter(matches, pred), nil
}

func (s *Redis) PutMatch(ctx context.Context, m *domain.Match) error {
	if m == nil || strings.TrimSpace(m.ID) == "" {
		return errors.New("match without id")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.matchKey(m.ID), raw, 0)
		pipe.SAdd(ctx, s.matchesKey(), m.ID)
		return nil
	})
	return err
}

func (s *Redis) UpdateMatch(ctx context.Context, id string, fn func(*domain.Match) error) (*domain.Match, error) {
	key := s.matchKey(id)
	var out *domain.Match
	err := s.retryTx(ctx, func() error {
		return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := getJSON[domain.Match](ctx, tx, key)
			if err != nil {
				return err
			}
			if cur == nil {
				return ErrNotFound
			}
			if err := fn(cur); err != nil {
				return err
			}
			raw, err := json.Marshal(cur)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, raw, 0)
				return nil
			})
			if err == nil {
				out = cur.Clone()
			}
			return err
		}, key)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Redis) DeleteMatch(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.matchKey(id))
		pipe.SRem(ctx, s.matchesKey(), id)
		return nil
	})
	return err
}

// DeleteMatchIf removes the match under a WATCH on its key when pred still holds.
func (s *Redis) DeleteMatchIf(ctx context.Context, id string, pred func(*domain.Match) bool) (*domain.Match, error) {
	key := s.matchKey(id)
	var out *domain.Match
	err := s.retryTx(ctx, func() error {
		out = nil
		return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := getJSON[domain.Match](ctx, tx, key)
			if err != nil || cur == nil || !pred(cur.Clone()) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.matchesKey(), id)
				return nil
			})
			if err == nil {
				out = cur
			}
			return err
		}, key)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Redis) retryTx(ctx context.Context, fn func() error) error {
	retries := s.retries
	if retries <= 0 {
		retries = 1
	}
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		err = fn()
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		obslog.L().Debug("store_tx_retry", zap.Int("attempt", attempt))
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
	}
	return fmt.Errorf("concurrent update: %w", err)
}

// reader is the read subset shared by *redis.Client and *redis.Tx.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func getJSON[T any](ctx context.Context, c reader, key string) (*T, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

func mgetJSON[T any](ctx context.Context, c reader, keys []string) ([]*T, error) {
	out := make([]*T, 0, len(keys))
	for start := 0; start < len(keys); start += scanBatch {
		end := start + scanBatch
		if end > len(keys) {
			end = len(keys)
		}
		vals, err := c.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var rec T
			if err := json.Unmarshal([]byte(str), &rec); err != nil {
				obslog.L().Warn("store_decode_skip", zap.String("key", keys[start+i]), zap.Error(err))
				continue
			}
			out = append(out, &rec)
		}
	}
	return out, nil
}

func filter[T any](in []*T, pred func(*T) bool) []*T {
	if pred == nil {
		return in
	}
	out := in[:0]
	for _, v := range in {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
