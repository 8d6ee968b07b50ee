package ir

import (
	"fmt"
	"strconv"
)

// Fragment is an immutable node of the vector document. Implementations are
// the value types in this package; a fragment is never mutated once its
// ContentID has been computed.
type Fragment interface {
	// Kind returns the variant tag.
	Kind() Kind

	// Children returns referenced ContentIDs in encoding order, omitting
	// absent optional references. The same ID may appear more than once.
	Children() []ContentID

	appendPayload(b []byte) []byte
}

// Bounded is implemented by fragments that carry geometry in their own
// local coordinate space.
type Bounded interface {
	Bounds() Rect
}

// Placement positions a child fragment inside a page or group.
type Placement struct {
	Transform Affine
	Child     ContentID
}

// Translate places child at (x, y).
func Translate(x, y float32, child ContentID) Placement {
	return Placement{Transform: TranslateAffine(x, y), Child: child}
}

// Page is a single page of the document.
type Page struct {
	Size       Size
	Background ContentID // Paint, optional
	Items      []Placement
}

func (Page) Kind() Kind { return KindPage }

func (p Page) Children() []ContentID {
	ids := make([]ContentID, 0, len(p.Items)+1)
	if !p.Background.IsZero() {
		ids = append(ids, p.Background)
	}
	for _, it := range p.Items {
		ids = append(ids, it.Child)
	}
	return ids
}

// Bounds returns the page rectangle in page-local coordinates.
func (p Page) Bounds() Rect { return RectFromSize(p.Size) }

// Group is a frame: a positioned group of children. Bounds is the union of
// the transformed bounds of its items and is computed by the Builder.
type Group struct {
	Box   Rect
	Clip  bool
	Items []Placement
}

func (Group) Kind() Kind { return KindGroup }

func (g Group) Children() []ContentID {
	ids := make([]ContentID, 0, len(g.Items))
	for _, it := range g.Items {
		ids = append(ids, it.Child)
	}
	return ids
}

func (g Group) Bounds() Rect { return g.Box }

// GlyphPos is one glyph of a run, offset horizontally from the run origin.
type GlyphPos struct {
	Glyph ContentID
	X     float32
}

// GlyphRun is a line of shaped text. The origin is on the baseline.
type GlyphRun struct {
	Font   ContentID
	Paint  ContentID // optional, black when absent
	Text   ContentID // optional
	Size   float32
	Glyphs []GlyphPos
	Box    Rect
}

func (GlyphRun) Kind() Kind { return KindGlyphRun }

func (r GlyphRun) Children() []ContentID {
	ids := make([]ContentID, 0, len(r.Glyphs)+3)
	ids = append(ids, r.Font)
	if !r.Paint.IsZero() {
		ids = append(ids, r.Paint)
	}
	if !r.Text.IsZero() {
		ids = append(ids, r.Text)
	}
	for _, g := range r.Glyphs {
		ids = append(ids, g.Glyph)
	}
	return ids
}

func (r GlyphRun) Bounds() Rect { return r.Box }

// Glyph is an outline in font units with the y axis pointing down and the
// origin on the baseline. Outline is SVG path data.
type Glyph struct {
	Outline string
	Advance float32
	Box     Rect
}

func (Glyph) Kind() Kind { return KindGlyph }

func (Glyph) Children() []ContentID { return nil }

func (g Glyph) Bounds() Rect { return g.Box }

// Font carries the metrics needed to place and scale glyphs. Ascender and
// Descender are distances from the baseline in font units, both positive.
type Font struct {
	Family     string
	UnitsPerEm uint16
	Ascender   float32
	Descender  float32
}

func (Font) Kind() Kind { return KindFont }

func (Font) Children() []ContentID { return nil }

// Scale returns the factor converting font units to document units at size.
func (f Font) Scale(size float32) float32 {
	if f.UnitsPerEm == 0 {
		return 0
	}
	return size / float32(f.UnitsPerEm)
}

// Path is a vector shape. Data is SVG path data in local coordinates.
type Path struct {
	Data  string
	Paint ContentID // optional, black fill when absent
	Box   Rect
}

func (Path) Kind() Kind { return KindPath }

func (p Path) Children() []ContentID {
	if p.Paint.IsZero() {
		return nil
	}
	return []ContentID{p.Paint}
}

func (p Path) Bounds() Rect { return p.Box }

// FillRule represents the fill rule for paths.
type FillRule uint8

const (
	// FillNonZero uses the non-zero winding rule.
	FillNonZero FillRule = 0
	// FillEvenOdd uses the even-odd rule.
	FillEvenOdd FillRule = 1
)

// String returns the SVG keyword for the rule.
func (r FillRule) String() string {
	if r == FillEvenOdd {
		return "evenodd"
	}
	return "nonzero"
}

// Paint is a fill and stroke style. A zero-alpha color disables that part.
type Paint struct {
	Fill        Color
	Stroke      Color
	StrokeWidth float32
	Rule        FillRule
}

func (Paint) Kind() Kind { return KindPaint }

func (Paint) Children() []ContentID { return nil }

// SolidPaint returns a fill-only paint.
func SolidPaint(c Color) Paint {
	return Paint{Fill: c}
}

// Text is the source text of a glyph run, NFC-normalized, with a BCP 47
// language tag.
type Text struct {
	Content string
	Lang    string
}

func (Text) Kind() Kind { return KindText }

func (Text) Children() []ContentID { return nil }

// Color is a non-premultiplied 8-bit RGBA color.
type Color struct {
	R, G, B, A uint8
}

// Common colors.
var (
	Black       = Color{0, 0, 0, 255}
	White       = Color{255, 255, 255, 255}
	Transparent = Color{}
)

// RGB returns an opaque color.
func RGB(r, g, b uint8) Color {
	return Color{r, g, b, 255}
}

// Hex returns the #rrggbb form, ignoring alpha.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Opacity returns alpha in [0, 1] formatted for markup.
func (c Color) Opacity() string {
	return strconv.FormatFloat(float64(c.A)/255, 'f', 3, 64)
}

// IsOpaque reports whether alpha is 255.
func (c Color) IsOpaque() bool { return c.A == 255 }

// IsVisible reports whether alpha is non-zero.
func (c Color) IsVisible() bool { return c.A != 0 }

func (c Color) uint32() uint32 {
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}

func colorFromUint32(v uint32) Color {
	return Color{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}
