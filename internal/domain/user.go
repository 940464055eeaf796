package domain

import "time"

// Status is the conversational state of a user.
type Status int

const (
	// StatusAny is only used as a command precondition meaning "no restriction".
	StatusAny       Status = -1
	StatusIdle      Status = 0
	StatusPending   Status = 1
	StatusRequested Status = 2
	StatusPlaying   Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusAny:
		return "any"
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusRequested:
		return "requested"
	case StatusPlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// InMatch reports whether the status carries adversary and match references.
func (s Status) InMatch() bool {
	return s == StatusPending || s == StatusRequested || s == StatusPlaying
}

// GameResult is the outcome of a finished match for one participant.
type GameResult int

const (
	ResultLose GameResult = -1
	ResultDraw GameResult = 0
	ResultWin  GameResult = 1
)

func (r GameResult) String() string {
	switch r {
	case ResultWin:
		return "win"
	case ResultLose:
		return "lose"
	default:
		return "draw"
	}
}

// User is one chat participant.
type User struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	ChatID         int64     `json:"chat_id"`
	SignUpAt       time.Time `json:"sign_up_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	RecentAdversaries []string `json:"recent_adversaries,omitempty"`
	Wins              int      `json:"wins"`
	Losses            int      `json:"losses"`

	Status         Status `json:"status"`
	PendingCommand string `json:"pending_command,omitempty"`
	PendingArg     string `json:"pending_arg,omitempty"`

	AdversaryID int64  `json:"adversary_id,omitempty"`
	MatchID     string `json:"match_id,omitempty"`

	Muted bool `json:"muted"`
	Admin bool `json:"admin"`
}

// NewUser returns an idle user first seen at now.
func NewUser(id int64, name string, chatID int64, now time.Time) *User {
	return &User{
		ID:             id,
		Name:           name,
		ChatID:         chatID,
		SignUpAt:       now,
		LastActivityAt: now,
		Status:         StatusIdle,
	}
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.RecentAdversaries != nil {
		c.RecentAdversaries = append([]string(nil), u.RecentAdversaries...)
	}
	return &c
}
