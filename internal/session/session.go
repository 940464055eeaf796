// Package session holds the transitions of a user's conversational state.
// The functions only mutate the record; callers apply them inside a store
// update so every transition is persisted before anything is sent about it.
package session

import "github.com/park285/duel-chess-bot/internal/domain"

// MaxRecentAdversaries bounds the recent adversary ring.
const MaxRecentAdversaries = 3

// Reset clears the match linkage and returns the user to IDLE.
func Reset(u *domain.User) {
	u.MatchID = ""
	u.AdversaryID = 0
	u.Status = domain.StatusIdle
}

// SetupMatch links the user to a freshly proposed match.
// The invitee becomes REQUESTED, the proposer PENDING and only the proposer
// remembers the adversary in its recent list.
func SetupMatch(u *domain.User, m *domain.Match, adversary *domain.User, invited bool) {
	u.MatchID = m.ID
	u.AdversaryID = adversary.ID
	if invited {
		u.Status = domain.StatusRequested
		return
	}
	u.Status = domain.StatusPending
	u.RecentAdversaries = PushRecent(u.RecentAdversaries, adversary.Name)
}

// StartMatch moves the user into PLAYING.
func StartMatch(u *domain.User) {
	u.Status = domain.StatusPlaying
}

// EndGame records the result and resets the user.
func EndGame(u *domain.User, result domain.GameResult) {
	switch result {
	case domain.ResultWin:
		u.Wins++
	case domain.ResultLose:
		u.Losses++
	}
	Reset(u)
}

// SetPending parks the user on a command awaiting one line of input.
func SetPending(u *domain.User, name string) {
	u.PendingCommand = name
}

// ClearPending drops any parked command. The pending argument is left in place
// because an internal hop reads it right after the flag is cleared.
func ClearPending(u *domain.User) {
	u.PendingCommand = ""
}

// Linked reports whether the user still references matchID.
func Linked(u *domain.User, matchID string) bool {
	return u != nil && matchID != "" && u.MatchID == matchID && u.Status.InMatch()
}

// PushRecent appends name to the ring, ignoring duplicates and evicting the oldest entry.
func PushRecent(list []string, name string) []string {
	if name == "" {
		return list
	}
	for _, n := range list {
		if n == name {
			return list
		}
	}
	out := append(append([]string(nil), list...), name)
	if len(out) > MaxRecentAdversaries {
		out = out[len(out)-MaxRecentAdversaries:]
	}
	return out
}
