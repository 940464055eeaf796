// Package archive keeps finished matches in Postgres.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Record is one finished match.
type Record struct {
	MatchID   string
	WhiteID   int64
	WhiteName string
	BlackID   int64
	BlackName string
	// Winner is "white", "black" or "draw".
	Winner    string
	Method    string
	FinalFEN  string
	LastMove  string
	Timeout   time.Duration
	StartedAt time.Time
	EndedAt   time.Time
}

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const schema = `CREATE TABLE IF NOT EXISTS duel_matches (
	match_id     TEXT PRIMARY KEY,
	white_id     BIGINT NOT NULL,
	white_name   TEXT NOT NULL,
	black_id     BIGINT NOT NULL,
	black_name   TEXT NOT NULL,
	result       TEXT NOT NULL,
	pgn_result   TEXT NOT NULL,
	method       TEXT NOT NULL,
	final_fen    TEXT NOT NULL,
	last_move    TEXT NOT NULL,
	timeout_sec  BIGINT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT NOT NULL
)`

// EnsureSchema creates the archive table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// SaveResult upserts a finished match.
func (r *Repository) SaveResult(ctx context.Context, rec Record) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO duel_matches (
		match_id, white_id, white_name, black_id, black_name,
		result, pgn_result, method, final_fen, last_move,
		timeout_sec, started_at, ended_at, duration_ms
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	) ON CONFLICT (match_id) DO UPDATE SET
		result=EXCLUDED.result,
		pgn_result=EXCLUDED.pgn_result,
		method=EXCLUDED.method,
		final_fen=EXCLUDED.final_fen,
		last_move=EXCLUDED.last_move,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q, rowArgs(rec)...)
	if err != nil {
		return fmt.Errorf("archive match %s: %w", rec.MatchID, err)
	}
	return nil
}

func rowArgs(rec Record) []any {
	winner := strings.ToLower(strings.TrimSpace(rec.Winner))
	return []any{
		rec.MatchID,
		rec.WhiteID, sanitize(rec.WhiteName),
		rec.BlackID, sanitize(rec.BlackName),
		winner, mapResultToPGN(winner), strings.ToLower(strings.TrimSpace(rec.Method)),
		rec.FinalFEN, rec.LastMove,
		int64(rec.Timeout / time.Second), rec.StartedAt, rec.EndedAt, durationMillis(rec),
	}
}

func durationMillis(rec Record) int64 {
	d := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
