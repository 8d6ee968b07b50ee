package plaintext

import (
	"bytes"
	"fmt"
	"sync"

	gotext "github.com/go-text/typesetting/font"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/vecsync/ir"
)

// face is a parsed font shared by all compilations. Both parsed forms are
// read-only and safe for concurrent use; per-call state (go-text Face,
// sfnt.Buffer) lives in the compiler.
type face struct {
	shaping *gotext.Font
	outline *sfnt.Font
	meta    ir.Font
}

// defaultFace loads the embedded Go Regular font on first use.
var defaultFace = sync.OnceValues(func() (*face, error) {
	return parseFace(goregular.TTF)
})

func parseFace(data []byte) (*face, error) {
	gf, err := gotext.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("plaintext: parse font: %w", err)
	}
	sf, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plaintext: parse font outlines: %w", err)
	}

	var buf sfnt.Buffer
	family, err := sf.Name(&buf, sfnt.NameIDFamily)
	if err != nil || family == "" {
		family = "sans-serif"
	}
	upem := sf.UnitsPerEm()
	// At ppem == upem, 26.6 values are font units.
	m, err := sf.Metrics(&buf, fixed.I(int(upem)), xfont.HintingNone)
	if err != nil {
		return nil, fmt.Errorf("plaintext: font metrics: %w", err)
	}
	return &face{
		shaping: gf.Font,
		outline: sf,
		meta: ir.Font{
			Family:     family,
			UnitsPerEm: uint16(upem), //nolint:gosec // upem is at most 16384 per the OpenType spec
			Ascender:   fixedToFloat(m.Ascent),
			Descender:  fixedToFloat(m.Descent),
		},
	}, nil
}

func (f *face) ppem() fixed.Int26_6 {
	return fixed.I(int(f.meta.UnitsPerEm))
}

// outlineOf converts a glyph outline to SVG path data in font units, y down.
// Empty glyphs such as the space return an empty string.
func (f *face) outlineOf(buf *sfnt.Buffer, gid sfnt.GlyphIndex) (ir.Glyph, error) {
	ppem := f.ppem()
	segments, err := f.outline.LoadGlyph(buf, gid, ppem, nil)
	if err != nil {
		return ir.Glyph{}, fmt.Errorf("plaintext: glyph %d: %w", gid, err)
	}

	pb := ir.NewPathBuilder()
	for i, seg := range segments {
		switch seg.Op {
		case sfnt.SegmentOpMoveTo:
			if i > 0 {
				pb.Close()
			}
			pb.MoveTo(point(seg.Args[0]))
		case sfnt.SegmentOpLineTo:
			pb.LineTo(point(seg.Args[0]))
		case sfnt.SegmentOpQuadTo:
			cx, cy := point(seg.Args[0])
			x, y := point(seg.Args[1])
			pb.QuadTo(cx, cy, x, y)
		case sfnt.SegmentOpCubeTo:
			c1x, c1y := point(seg.Args[0])
			c2x, c2y := point(seg.Args[1])
			x, y := point(seg.Args[2])
			pb.CubicTo(c1x, c1y, c2x, c2y, x, y)
		}
	}
	if len(segments) > 0 {
		pb.Close()
	}

	// LoadGlyph's segments alias buf, so the advance is read afterwards.
	adv, err := f.outline.GlyphAdvance(buf, gid, ppem, xfont.HintingNone)
	if err != nil {
		return ir.Glyph{}, fmt.Errorf("plaintext: glyph %d advance: %w", gid, err)
	}

	g := ir.Glyph{Outline: pb.Data(), Advance: fixedToFloat(adv)}
	if !pb.IsEmpty() {
		g.Box = pb.Bounds()
	}
	return g, nil
}

func point(p fixed.Point26_6) (float32, float32) {
	return fixedToFloat(p.X), fixedToFloat(p.Y)
}

// fixedToFloat converts a fixed.Int26_6 value to float32.
func fixedToFloat(v fixed.Int26_6) float32 {
	return float32(v) / 64
}
