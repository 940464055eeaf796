package domain

import "time"

// StartPosition is the FEN of the standard initial position.
const StartPosition = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// DefaultMatchTimeout applies when a match is created without an explicit timeout.
const DefaultMatchTimeout = time.Hour

// Side is the color a player was assigned.
type Side int

const (
	SideNone Side = iota
	SideWhite
	SideBlack
)

func (s Side) String() string {
	switch s {
	case SideWhite:
		return "white"
	case SideBlack:
		return "black"
	default:
		return "none"
	}
}

// Opposite returns the other color. SideNone maps to itself.
func (s Side) Opposite() Side {
	switch s {
	case SideWhite:
		return SideBlack
	case SideBlack:
		return SideWhite
	default:
		return SideNone
	}
}

// Match is one pairing between two users. A user may hold both sides.
type Match struct {
	ID           string        `json:"id"`
	CreatedAt    time.Time     `json:"created_at"`
	Position     string        `json:"position"`
	WhiteID      int64         `json:"white_id"`
	BlackID      int64         `json:"black_id"`
	LastMoveCode string        `json:"last_move_code,omitempty"`
	LastMoveAt   *time.Time    `json:"last_move_at,omitempty"`
	Timeout      time.Duration `json:"timeout"`
}

// NewMatch creates a match at the starting position.
func NewMatch(id string, whiteID, blackID int64, timeout time.Duration, now time.Time) *Match {
	if timeout <= 0 {
		timeout = DefaultMatchTimeout
	}
	return &Match{
		ID:        id,
		CreatedAt: now,
		Position:  StartPosition,
		WhiteID:   whiteID,
		BlackID:   blackID,
		Timeout:   timeout,
	}
}

// SelfPlay reports whether one user holds both sides.
func (m *Match) SelfPlay() bool { return m.WhiteID == m.BlackID }

// Participant reports whether userID plays in the match.
func (m *Match) Participant(userID int64) bool {
	return userID == m.WhiteID || userID == m.BlackID
}

// SideOf returns the side assigned to userID. For self-play it returns white.
func (m *Match) SideOf(userID int64) Side {
	switch userID {
	case m.WhiteID:
		return SideWhite
	case m.BlackID:
		return SideBlack
	default:
		return SideNone
	}
}

// PlayerOf returns the user id assigned to side.
func (m *Match) PlayerOf(side Side) int64 {
	if side == SideBlack {
		return m.BlackID
	}
	return m.WhiteID
}

// OpponentOf returns the other participant's id.
func (m *Match) OpponentOf(userID int64) int64 {
	if userID == m.WhiteID {
		return m.BlackID
	}
	return m.WhiteID
}

// Clone returns a deep copy.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	if m.LastMoveAt != nil {
		t := *m.LastMoveAt
		c.LastMoveAt = &t
	}
	return &c
}
