package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Piece glyphs on a 45x45 canvas. FILL and LINE are replaced per color.
var pieceShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="13" r="5.5"/>
<path d="M 17 21 L 28 21 L 31 33 L 14 33 Z"/>
<rect x="11" y="33" width="23" height="5"/>`,
	nchess.Rook: `<path d="M 12 9 L 16 9 L 16 12 L 20.5 12 L 20.5 9 L 24.5 9 L 24.5 12 L 29 12 L 29 9 L 33 9 L 33 16 L 12 16 Z"/>
<rect x="15" y="16" width="15" height="15"/>
<rect x="11" y="31" width="23" height="7"/>`,
	nchess.Knight: `<path d="M 14 38 L 31 38 L 31 30 C 31 22 30 14 22 10 L 20 7 L 18 11 C 14 13 11 18 10 22 L 13 25 L 17 22 L 21 21 C 19 25 15 29 14 38 Z"/>
<circle cx="17" cy="15" r="1.2"/>`,
	nchess.Bishop: `<circle cx="22.5" cy="8" r="2.5"/>
<path d="M 22.5 11 C 16 16 15 23 17 28 L 28 28 C 30 23 29 16 22.5 11 Z"/>
<rect x="15" y="28" width="15" height="4"/>
<rect x="10" y="33" width="25" height="5"/>`,
	nchess.Queen: `<path d="M 9 14 L 14 28 L 16 12 L 20 27 L 22.5 10 L 25 27 L 29 12 L 31 28 L 36 14 L 33 32 L 12 32 Z"/>
<circle cx="9" cy="12" r="2"/><circle cx="16" cy="10" r="2"/><circle cx="22.5" cy="8" r="2"/><circle cx="29" cy="10" r="2"/><circle cx="36" cy="12" r="2"/>
<rect x="11" y="32" width="23" height="6"/>`,
	nchess.King: `<path d="M 21 4 L 24 4 L 24 7 L 27 7 L 27 10 L 24 10 L 24 14 L 21 14 L 21 10 L 18 10 L 18 7 L 21 7 Z"/>
<path d="M 12 18 C 15 14 30 14 33 18 L 30 32 L 15 32 Z"/>
<rect x="11" y="32" width="23" height="6"/>`,
}

func pieceSVG(piece nchess.Piece) ([]byte, error) {
	shape, ok := pieceShapes[piece.Type()]
	if !ok {
		return nil, fmt.Errorf("no glyph for piece %v", piece)
	}
	fill, line := "#ffffff", "#000000"
	if piece.Color() == nchess.Black {
		fill, line = "#000000", "#ffffff"
	}
	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="45" height="45" viewBox="0 0 45 45">`)
	fmt.Fprintf(&b, `<g fill="%s" stroke="%s" stroke-width="1.5" stroke-linejoin="round">`, fill, line)
	b.WriteString(shape)
	b.WriteString(`</g></svg>`)
	return []byte(b.String()), nil
}

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func renderPieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	data, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()
	return img, nil
}
