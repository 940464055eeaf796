package domain

import (
	"testing"
	"time"
)

func TestNewMatchDefaults(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewMatch("m1", 1, 2, 0, now)
	if m.Timeout != DefaultMatchTimeout {
		t.Fatalf("timeout = %v, want %v", m.Timeout, DefaultMatchTimeout)
	}
	if m.Position != StartPosition {
		t.Fatalf("position = %q", m.Position)
	}
	if m.LastMoveAt != nil {
		t.Fatalf("last move must be unset on creation")
	}
	if !m.CreatedAt.Equal(now) {
		t.Fatalf("created_at = %v", m.CreatedAt)
	}
}

func TestMatchSides(t *testing.T) {
	m := NewMatch("m1", 1, 2, time.Minute, time.Now())
	if m.SideOf(1) != SideWhite || m.SideOf(2) != SideBlack || m.SideOf(3) != SideNone {
		t.Fatalf("unexpected side assignment")
	}
	if m.OpponentOf(1) != 2 || m.OpponentOf(2) != 1 {
		t.Fatalf("unexpected opponents")
	}
	if m.SelfPlay() {
		t.Fatalf("distinct players reported as self-play")
	}
	if !NewMatch("m2", 5, 5, time.Minute, time.Now()).SelfPlay() {
		t.Fatalf("self-play not detected")
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	m := NewMatch("m1", 1, 2, time.Minute, now)
	m.LastMoveAt = &now
	c := m.Clone()
	later := now.Add(time.Hour)
	*c.LastMoveAt = later
	if !m.LastMoveAt.Equal(now) {
		t.Fatalf("clone shares last move timestamp")
	}

	u := NewUser(1, "alice", 10, now)
	u.RecentAdversaries = []string{"bob"}
	uc := u.Clone()
	uc.RecentAdversaries[0] = "carol"
	if u.RecentAdversaries[0] != "bob" {
		t.Fatalf("clone shares recent adversaries")
	}
}
