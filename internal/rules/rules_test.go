package rules

import (
	"testing"

	"github.com/park285/duel-chess-bot/internal/domain"
)

const (
	// white to play Qxf7#
	scholarsMate = "r1bqkb1r/pppp1ppp/2n2n2/4p2Q/2B1P3/8/PPPP1PPP/RNB1K1NR w KQkq - 4 4"
	// black king on h8, white queen can stalemate with Qg6
	stalemateSetup = "7k/8/5K2/8/8/8/8/6Q1 w - - 0 1"
)

func TestClassify(t *testing.T) {
	var c Chess
	cases := []struct {
		name string
		fen  string
		code string
		want Result
	}{
		{"good", domain.StartPosition, "e2e4", Good},
		{"spaces and case", domain.StartPosition, " E2 E4 ", Good},
		{"illegal", domain.StartPosition, "e2e5", Illegal},
		{"not a move", domain.StartPosition, "hello", Unknown},
		{"san rejected", domain.StartPosition, "Nf3", Unknown},
		{"check", "4k3/8/8/8/8/8/8/R3K3 w - - 0 1", "a1a8", Check},
		{"checkmate", scholarsMate, "h5f7", Checkmate},
		{"stalemate", stalemateSetup, "g1g6", Stalemate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Classify(tc.fen, tc.code); got != tc.want {
				t.Fatalf("Classify(%q) = %v, want %v", tc.code, got, tc.want)
			}
		})
	}
}

func TestApplyFlipsTurnOnce(t *testing.T) {
	var c Chess
	side, err := c.SideToMove(domain.StartPosition)
	if err != nil || side != domain.SideWhite {
		t.Fatalf("start side = %v err=%v", side, err)
	}
	next, res, err := c.Apply(domain.StartPosition, "e2e4")
	if err != nil || res != Good {
		t.Fatalf("Apply: res=%v err=%v", res, err)
	}
	side, _ = c.SideToMove(next)
	if side != domain.SideBlack {
		t.Fatalf("side after e2e4 = %v", side)
	}
	if _, _, err := c.Apply(next, "e2e4"); err == nil {
		t.Fatalf("expected illegal replay error")
	}
}

func TestCaptured(t *testing.T) {
	var c Chess
	got, err := c.Captured(domain.StartPosition, domain.SideWhite)
	if err != nil || got != "" {
		t.Fatalf("start captured = %q err=%v", got, err)
	}
	// black is missing a knight and two pawns, white a queen
	fen := "r1bqkbnr/pppppp2/8/8/8/8/PPPPPPPP/RNB1KBNR w KQkq - 0 1"
	if got, _ := c.Captured(fen, domain.SideWhite); got != "♟♟♞" {
		t.Fatalf("white captured = %q", got)
	}
	if got, _ := c.Captured(fen, domain.SideBlack); got != "♕" {
		t.Fatalf("black captured = %q", got)
	}
}

func TestParse(t *testing.T) {
	from, to, ok := Parse("e7e8q")
	if !ok || from.String() != "e7" || to.String() != "e8" {
		t.Fatalf("Parse = %v %v %v", from, to, ok)
	}
	if _, _, ok := Parse("z9z9"); ok {
		t.Fatalf("invalid code parsed")
	}
}
