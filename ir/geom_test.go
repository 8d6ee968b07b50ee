package ir

import "testing"

func TestRectIntersects(t *testing.T) {
	r := Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	tests := []struct {
		name  string
		other Rect
		want  bool
	}{
		{"inside", Rect{MinX: 2, MinY: 2, MaxX: 3, MaxY: 3}, true},
		{"overlap", Rect{MinX: 5, MinY: 5, MaxX: 15, MaxY: 15}, true},
		{"touching edge", Rect{MinX: 10, MinY: 0, MaxX: 20, MaxY: 10}, true},
		{"degenerate line", Rect{MinX: 0, MinY: 5, MaxX: 10, MaxY: 5}, true},
		{"disjoint", Rect{MinX: 11, MinY: 0, MaxX: 20, MaxY: 10}, false},
		{"empty", EmptyRect(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Intersects(tt.other); got != tt.want {
				t.Errorf("Intersects() = %v, want %v", got, tt.want)
			}
			if got := tt.other.Intersects(r); got != tt.want {
				t.Errorf("Intersects() not symmetric")
			}
		})
	}
}

func TestRectOverlaps(t *testing.T) {
	r := Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	tests := []struct {
		name  string
		other Rect
		want  bool
	}{
		{"inside", Rect{MinX: 2, MinY: 2, MaxX: 3, MaxY: 3}, true},
		{"overlap", Rect{MinX: 5, MinY: 5, MaxX: 15, MaxY: 15}, true},
		{"touching edge", Rect{MinX: 10, MinY: 0, MaxX: 20, MaxY: 10}, false},
		{"touching corner", Rect{MinX: 10, MinY: 10, MaxX: 20, MaxY: 20}, false},
		{"adjacent below", Rect{MinX: 0, MinY: 10, MaxX: 10, MaxY: 20}, false},
		{"degenerate line inside", Rect{MinX: 0, MinY: 5, MaxX: 10, MaxY: 5}, true},
		{"degenerate line on edge", Rect{MinX: 0, MinY: 10, MaxX: 10, MaxY: 10}, true},
		{"degenerate line outside", Rect{MinX: 0, MinY: 11, MaxX: 10, MaxY: 11}, false},
		{"point inside", Rect{MinX: 4, MinY: 4, MaxX: 4, MaxY: 4}, true},
		{"empty", EmptyRect(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Overlaps(tt.other); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
			if got := tt.other.Overlaps(r); got != tt.want {
				t.Errorf("Overlaps() not symmetric")
			}
		})
	}
}

func TestRectUnionEmpty(t *testing.T) {
	r := Rect{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4}
	if got := EmptyRect().Union(r); got != r {
		t.Errorf("EmptyRect().Union(r) = %+v", got)
	}
	if got := r.Union(EmptyRect()); got != r {
		t.Errorf("r.Union(EmptyRect()) = %+v", got)
	}
	if !r.Contains(Rect{MinX: 1, MinY: 2, MaxX: 2, MaxY: 3}) {
		t.Error("Contains() should include shared edges")
	}
	if r.Contains(Rect{MinX: 0, MinY: 2, MaxX: 2, MaxY: 3}) {
		t.Error("Contains() should reject overhang")
	}
}

func TestAffine(t *testing.T) {
	tr := TranslateAffine(10, 20)
	sc := ScaleAffine(2, 3)

	// Scale first, then translate.
	m := tr.Multiply(sc)
	x, y := m.TransformPoint(1, 1)
	if x != 12 || y != 23 {
		t.Errorf("TransformPoint() = (%v, %v), want (12, 23)", x, y)
	}

	got := m.TransformRect(Rect{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1})
	want := Rect{MinX: 10, MinY: 20, MaxX: 12, MaxY: 23}
	if got != want {
		t.Errorf("TransformRect() = %+v, want %+v", got, want)
	}

	rot := Affine{A: 0, B: -1, D: 1, E: 0}
	got = rot.TransformRect(Rect{MinX: 0, MinY: 0, MaxX: 2, MaxY: 1})
	want = Rect{MinX: -1, MinY: 0, MaxX: 0, MaxY: 2}
	if got != want {
		t.Errorf("rotated TransformRect() = %+v, want %+v", got, want)
	}

	if !IdentityAffine().IsIdentity() || tr.IsIdentity() || !tr.IsTranslate() || sc.IsTranslate() {
		t.Error("IsIdentity/IsTranslate mismatch")
	}
}
