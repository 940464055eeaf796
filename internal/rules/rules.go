// Package rules classifies and applies moves on FEN positions using corentings/chess.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/duel-chess-bot/internal/domain"
)

// Result classifies a candidate move.
type Result int

const (
	Unknown Result = iota - 2
	Illegal
	Good
	Check
	Checkmate
	Stalemate
)

func (r Result) String() string {
	switch r {
	case Unknown:
		return "unknown"
	case Illegal:
		return "illegal"
	case Good:
		return "good"
	case Check:
		return "check"
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Legal reports whether the move can be played.
func (r Result) Legal() bool { return r >= Good }

// Terminal reports whether the move ends the game.
func (r Result) Terminal() bool { return r == Checkmate || r == Stalemate }

var (
	ErrUnparsable = errors.New("rules: move not in coordinate notation")
	ErrIllegal    = errors.New("rules: illegal move")
)

var coordMove = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

// Normalize lowercases a move code and strips spaces.
func Normalize(code string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(code)), " ", "")
}

// Parse returns the from and to squares of a coordinate move.
func Parse(code string) (from, to nchess.Square, ok bool) {
	code = Normalize(code)
	if !coordMove.MatchString(code) {
		return nchess.NoSquare, nchess.NoSquare, false
	}
	return square(code[0:2]), square(code[2:4]), true
}

func square(s string) nchess.Square {
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1'))
}

// Chess is the rules oracle.
type Chess struct{}

// Classify reports what playing code on fen would do without changing anything.
func (Chess) Classify(fen, code string) Result {
	_, res, err := play(fen, code)
	if err != nil {
		if errors.Is(err, ErrIllegal) {
			return Illegal
		}
		return Unknown
	}
	return res
}

// Apply plays code on fen and returns the resulting position.
func (Chess) Apply(fen, code string) (string, Result, error) {
	game, res, err := play(fen, code)
	if err != nil {
		return "", res, err
	}
	return game.FEN(), res, nil
}

// SideToMove returns the color whose turn it is.
func (Chess) SideToMove(fen string) (domain.Side, error) {
	game, err := load(fen)
	if err != nil {
		return domain.SideNone, err
	}
	if game.Position().Turn() == nchess.White {
		return domain.SideWhite, nil
	}
	return domain.SideBlack, nil
}

var startCounts = map[nchess.PieceType]int{
	nchess.Pawn:   8,
	nchess.Knight: 2,
	nchess.Bishop: 2,
	nchess.Rook:   2,
	nchess.Queen:  1,
	nchess.King:   1,
}

var pieceOrder = []nchess.PieceType{nchess.Pawn, nchess.Knight, nchess.Bishop, nchess.Rook, nchess.Queen, nchess.King}

var symbols = map[nchess.Color]map[nchess.PieceType]string{
	nchess.White: {nchess.Pawn: "♙", nchess.Knight: "♘", nchess.Bishop: "♗", nchess.Rook: "♖", nchess.Queen: "♕", nchess.King: "♔"},
	nchess.Black: {nchess.Pawn: "♟", nchess.Knight: "♞", nchess.Bishop: "♝", nchess.Rook: "♜", nchess.Queen: "♛", nchess.King: "♚"},
}

// Captured lists, as unicode symbols, the pieces of the opponent of side that
// are missing from fen compared to the starting position.
func (Chess) Captured(fen string, side domain.Side) (string, error) {
	game, err := load(fen)
	if err != nil {
		return "", err
	}
	color := nchess.Black
	if side == domain.SideBlack {
		color = nchess.White
	}
	board := game.Position().Board()
	counts := make(map[nchess.PieceType]int, len(pieceOrder))
	for sq := 0; sq < 64; sq++ {
		p := board.Piece(nchess.Square(sq))
		if p == nchess.NoPiece || p.Color() != color {
			continue
		}
		counts[p.Type()]++
	}
	var b strings.Builder
	for _, pt := range pieceOrder {
		if delta := startCounts[pt] - counts[pt]; delta > 0 {
			b.WriteString(strings.Repeat(symbols[color][pt], delta))
		}
	}
	return b.String(), nil
}

func load(fen string) (*nchess.Game, error) {
	if strings.TrimSpace(fen) == "" {
		fen = domain.StartPosition
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	return nchess.NewGame(opt), nil
}

func play(fen, code string) (*nchess.Game, Result, error) {
	code = Normalize(code)
	if !coordMove.MatchString(code) {
		return nil, Unknown, ErrUnparsable
	}
	game, err := load(fen)
	if err != nil {
		return nil, Unknown, err
	}
	if err := game.PushNotationMove(code, nchess.UCINotation{}, nil); err != nil {
		return nil, Illegal, fmt.Errorf("%w: %s", ErrIllegal, code)
	}
	switch game.Method() {
	case nchess.Checkmate:
		return game, Checkmate, nil
	case nchess.Stalemate:
		return game, Stalemate, nil
	}
	if mv := lastMove(game); mv != nil && mv.HasTag(nchess.Check) {
		return game, Check, nil
	}
	return game, Good, nil
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}
