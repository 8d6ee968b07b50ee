package ir

import (
	"strconv"
	"strings"
)

// PathBuilder accumulates path commands as SVG path data together with
// conservative bounds.
type PathBuilder struct {
	sb     strings.Builder
	bounds Rect
}

// NewPathBuilder creates a new empty path builder.
func NewPathBuilder() *PathBuilder {
	return &PathBuilder{bounds: EmptyRect()}
}

// Reset clears the builder for reuse.
func (p *PathBuilder) Reset() {
	p.sb.Reset()
	p.bounds = EmptyRect()
}

func (p *PathBuilder) cmd(c byte, xy ...float32) {
	if p.sb.Len() > 0 {
		p.sb.WriteByte(' ')
	}
	p.sb.WriteByte(c)
	for i, v := range xy {
		if i > 0 {
			p.sb.WriteByte(' ')
		}
		p.sb.WriteString(FormatFloat(v))
	}
	for i := 0; i+1 < len(xy); i += 2 {
		p.bounds = p.bounds.UnionPoint(xy[i], xy[i+1])
	}
}

// MoveTo begins a new subpath at the specified point.
func (p *PathBuilder) MoveTo(x, y float32) *PathBuilder {
	p.cmd('M', x, y)
	return p
}

// LineTo draws a line from the current point to (x, y).
func (p *PathBuilder) LineTo(x, y float32) *PathBuilder {
	p.cmd('L', x, y)
	return p
}

// QuadTo draws a quadratic Bezier curve.
// Bounds include the control point, a conservative approximation.
func (p *PathBuilder) QuadTo(cx, cy, x, y float32) *PathBuilder {
	p.cmd('Q', cx, cy, x, y)
	return p
}

// CubicTo draws a cubic Bezier curve.
// Bounds include the control points, a conservative approximation.
func (p *PathBuilder) CubicTo(c1x, c1y, c2x, c2y, x, y float32) *PathBuilder {
	p.cmd('C', c1x, c1y, c2x, c2y, x, y)
	return p
}

// Close closes the current subpath.
func (p *PathBuilder) Close() *PathBuilder {
	p.cmd('Z')
	return p
}

// Rectangle adds a rectangle path.
func (p *PathBuilder) Rectangle(x, y, w, h float32) *PathBuilder {
	return p.MoveTo(x, y).
		LineTo(x+w, y).
		LineTo(x+w, y+h).
		LineTo(x, y+h).
		Close()
}

// Data returns the SVG path data.
func (p *PathBuilder) Data() string { return p.sb.String() }

// Bounds returns the bounds of all points added so far.
func (p *PathBuilder) Bounds() Rect { return p.bounds }

// IsEmpty reports whether no command has been added.
func (p *PathBuilder) IsEmpty() bool { return p.sb.Len() == 0 }

// FormatFloat formats v in the shortest form that round-trips as a float32.
// Negative zero is written as 0.
func FormatFloat(v float32) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}
