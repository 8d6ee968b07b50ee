package ir

import "math"

// Point is a position in document units.
type Point struct {
	X, Y float32
}

// Size is a width/height pair in document units.
type Size struct {
	W, H float32
}

// Rect represents an axis-aligned bounding rectangle.
// Edges are inclusive: rectangles that touch intersect.
type Rect struct {
	MinX, MinY float32
	MaxX, MaxY float32
}

// EmptyRect returns an empty rectangle (inverted bounds for union operations).
func EmptyRect() Rect {
	return Rect{
		MinX: math.MaxFloat32,
		MinY: math.MaxFloat32,
		MaxX: -math.MaxFloat32,
		MaxY: -math.MaxFloat32,
	}
}

// RectFromSize returns the rectangle (0, 0)-(w, h).
func RectFromSize(s Size) Rect {
	return Rect{MaxX: s.W, MaxY: s.H}
}

// IsEmpty returns true if the rectangle is inverted. Degenerate rectangles
// (zero width or height, such as a horizontal rule) are not empty.
func (r Rect) IsEmpty() bool {
	return r.MinX > r.MaxX || r.MinY > r.MaxY
}

// Union returns the smallest rectangle containing both r and other.
func (r Rect) Union(other Rect) Rect {
	if other.IsEmpty() {
		return r
	}
	if r.IsEmpty() {
		return other
	}
	return Rect{
		MinX: min(r.MinX, other.MinX),
		MinY: min(r.MinY, other.MinY),
		MaxX: max(r.MaxX, other.MaxX),
		MaxY: max(r.MaxY, other.MaxY),
	}
}

// UnionPoint expands the rectangle to include the point.
func (r Rect) UnionPoint(x, y float32) Rect {
	return Rect{
		MinX: min(r.MinX, x),
		MinY: min(r.MinY, y),
		MaxX: max(r.MaxX, x),
		MaxY: max(r.MaxY, y),
	}
}

// Intersects reports whether r and other share at least one point.
func (r Rect) Intersects(other Rect) bool {
	if r.IsEmpty() || other.IsEmpty() {
		return false
	}
	return r.MinX <= other.MaxX && other.MinX <= r.MaxX &&
		r.MinY <= other.MaxY && other.MinY <= r.MaxY
}

// Overlaps reports whether r and other share area. On an axis where both
// have positive extent the test is half-open, so rectangles that only touch,
// such as adjacent pages, do not overlap. On a degenerate axis it is
// inclusive, so a zero-height rule inside a window still overlaps it.
func (r Rect) Overlaps(other Rect) bool {
	if r.IsEmpty() || other.IsEmpty() {
		return false
	}
	return overlapAxis(r.MinX, r.MaxX, other.MinX, other.MaxX) &&
		overlapAxis(r.MinY, r.MaxY, other.MinY, other.MaxY)
}

func overlapAxis(a0, a1, b0, b1 float32) bool {
	if a0 < a1 && b0 < b1 {
		return a0 < b1 && b0 < a1
	}
	return a0 <= b1 && b0 <= a1
}

// Contains reports whether other lies entirely within r.
func (r Rect) Contains(other Rect) bool {
	if r.IsEmpty() || other.IsEmpty() {
		return false
	}
	return other.MinX >= r.MinX && other.MaxX <= r.MaxX &&
		other.MinY >= r.MinY && other.MaxY <= r.MaxY
}

// Intersect returns the overlap of r and other, or an empty rectangle.
func (r Rect) Intersect(other Rect) Rect {
	if !r.Intersects(other) {
		return EmptyRect()
	}
	return Rect{
		MinX: max(r.MinX, other.MinX),
		MinY: max(r.MinY, other.MinY),
		MaxX: min(r.MaxX, other.MaxX),
		MaxY: min(r.MaxY, other.MaxY),
	}
}

// Translate returns r moved by (dx, dy).
func (r Rect) Translate(dx, dy float32) Rect {
	if r.IsEmpty() {
		return r
	}
	return Rect{MinX: r.MinX + dx, MinY: r.MinY + dy, MaxX: r.MaxX + dx, MaxY: r.MaxY + dy}
}

// Width returns the width of the rectangle.
func (r Rect) Width() float32 {
	if r.IsEmpty() {
		return 0
	}
	return r.MaxX - r.MinX
}

// Height returns the height of the rectangle.
func (r Rect) Height() float32 {
	if r.IsEmpty() {
		return 0
	}
	return r.MaxY - r.MinY
}

// Affine represents a 2D affine transformation matrix.
// The matrix is stored in row-major order as:
//
//	| A  B  C |
//	| D  E  F |
//
// Where a point (x, y) is transformed to:
//
//	x' = A*x + B*y + C
//	y' = D*x + E*y + F
type Affine struct {
	A, B, C float32
	D, E, F float32
}

// IdentityAffine returns the identity transformation.
func IdentityAffine() Affine {
	return Affine{A: 1, E: 1}
}

// TranslateAffine creates a translation transformation.
func TranslateAffine(x, y float32) Affine {
	return Affine{A: 1, C: x, E: 1, F: y}
}

// ScaleAffine creates a scaling transformation.
func ScaleAffine(x, y float32) Affine {
	return Affine{A: x, E: y}
}

// Multiply returns the product a·b: b is applied first, then a.
func (a Affine) Multiply(b Affine) Affine {
	return Affine{
		A: a.A*b.A + a.B*b.D,
		B: a.A*b.B + a.B*b.E,
		C: a.A*b.C + a.B*b.F + a.C,
		D: a.D*b.A + a.E*b.D,
		E: a.D*b.B + a.E*b.E,
		F: a.D*b.C + a.E*b.F + a.F,
	}
}

// TransformPoint transforms a point by the affine matrix.
func (a Affine) TransformPoint(x, y float32) (float32, float32) {
	return a.A*x + a.B*y + a.C, a.D*x + a.E*y + a.F
}

// TransformRect returns the axis-aligned bounds of r after transformation.
func (a Affine) TransformRect(r Rect) Rect {
	if r.IsEmpty() {
		return r
	}
	if a.IsTranslate() {
		return r.Translate(a.C, a.F)
	}

	corners := [4][2]float32{
		{r.MinX, r.MinY},
		{r.MaxX, r.MinY},
		{r.MaxX, r.MaxY},
		{r.MinX, r.MaxY},
	}
	out := EmptyRect()
	for _, c := range corners {
		x, y := a.TransformPoint(c[0], c[1])
		out = out.UnionPoint(x, y)
	}
	return out
}

// IsIdentity returns true if this is the identity transformation.
func (a Affine) IsIdentity() bool {
	return a.IsTranslate() && a.C == 0 && a.F == 0
}

// IsTranslate returns true if the transformation is a pure translation.
func (a Affine) IsTranslate() bool {
	return a.A == 1 && a.B == 0 && a.D == 0 && a.E == 1
}
