// Package render draws board positions as PNG images.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/duel-chess-bot/internal/domain"
	"github.com/park285/duel-chess-bot/internal/rules"
)

// Renderer turns a position into image bytes.
type Renderer interface {
	Render(ctx context.Context, fen string, perspective domain.Side, highlight string) ([]byte, error)
}

// Board renders an 8x8 board seen from one side with an optional move highlight.
type Board struct {
	squareSize int
	margin     int
}

func NewBoard() *Board { return &Board{squareSize: 64, margin: 24} }

var (
	lightSquare           = color.RGBA{233, 207, 163, 255}
	darkSquare            = color.RGBA{187, 136, 96, 255}
	frameColor            = color.RGBA{48, 46, 43, 255}
	coordinateTextColor   = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	whiteMoveHighlight    = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	blackMoveHighlight    = color.NRGBA{R: 148, G: 207, B: 255, A: 150}
	neutralMoveHighlight  = color.NRGBA{R: 182, G: 184, B: 190, A: 140}
	blackMoveArrowOverlay = color.NRGBA{R: 148, G: 207, B: 255, A: 170}
)

// Render draws fen. perspective black flips the board; highlight is a
// coordinate move code and may be empty.
func (r *Board) Render(ctx context.Context, fen string, perspective domain.Side, highlight string) ([]byte, error) {
	if fen == "" {
		fen = domain.StartPosition
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("render position: %w", err)
	}
	board := nchess.NewGame(opt).Position().Board()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	v := view{size: r.squareSize, origin: image.Pt(r.margin, r.margin), flipped: perspective == domain.SideBlack}
	total := r.squareSize*8 + r.margin*2
	img := image.NewRGBA(image.Rect(0, 0, total, total))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, imagedraw.Src)

	drawSquares(img, v)
	if from, to, ok := rules.Parse(highlight); ok {
		drawHighlight(img, board, from, to, v)
	}
	if err := drawPieces(img, board, v); err != nil {
		return nil, err
	}
	drawCoordinates(img, v, r.margin)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// view maps squares to pixels for one perspective.
type view struct {
	size    int
	origin  image.Point
	flipped bool
}

func (v view) rect(sq nchess.Square) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	if v.flipped {
		col = 7 - col
		row = 7 - row
	}
	x := v.origin.X + col*v.size
	y := v.origin.Y + row*v.size
	return image.Rect(x, y, x+v.size, y+v.size)
}

func drawSquares(dst imagedraw.Image, v view) {
	for i := 0; i < 64; i++ {
		sq := nchess.Square(i)
		imagedraw.Draw(dst, v.rect(sq), image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, v view) error {
	for i := 0; i < 64; i++ {
		sq := nchess.Square(i)
		piece := board.Piece(sq)
		if piece == nchess.NoPiece {
			continue
		}
		img, err := renderPieceImage(piece, v.size)
		if err != nil {
			return err
		}
		imagedraw.Draw(dst, v.rect(sq), img, image.Point{}, imagedraw.Over)
	}
	return nil
}

func drawHighlight(img *image.RGBA, board *nchess.Board, from, to nchess.Square, v view) {
	switch mover, ok := moverColor(board, from, to); {
	case ok && mover == nchess.White:
		drawSquareOverlay(img, v.rect(from), whiteMoveHighlight)
		drawSquareOverlay(img, v.rect(to), whiteMoveHighlight)
	case ok && mover == nchess.Black:
		drawSquareOverlay(img, v.rect(from), blackMoveHighlight)
		drawSquareOverlay(img, v.rect(to), blackMoveHighlight)
		drawArrow(img, v.rect(from), v.rect(to), v.size, blackMoveArrowOverlay)
	default:
		drawArrow(img, v.rect(from), v.rect(to), v.size, neutralMoveHighlight)
	}
}

// moverColor guesses the side that made from-to by looking at what stands on
// the squares after the move.
func moverColor(board *nchess.Board, from, to nchess.Square) (nchess.Color, bool) {
	if piece := board.Piece(to); piece != nchess.NoPiece {
		return piece.Color(), true
	}
	if piece := board.Piece(from); piece != nchess.NoPiece {
		return piece.Color(), true
	}
	return nchess.NoColor, false
}

func drawCoordinates(dst imagedraw.Image, v view, margin int) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: dst, Face: face, Src: image.NewUniform(coordinateTextColor)}
	ascent := face.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		fileSq := nchess.NewSquare(nchess.File(i), nchess.Rank1)
		r := v.rect(fileSq)
		label := fileSq.File().String()
		drawCenteredText(drawer, label, r.Min.X+v.size/2, v.origin.Y+8*v.size+(margin+ascent)/2)

		rankSq := nchess.NewSquare(nchess.FileA, nchess.Rank(i))
		r = v.rect(rankSq)
		drawCenteredText(drawer, rankSq.Rank().String(), margin/2, r.Min.Y+(v.size+ascent)/2)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}
