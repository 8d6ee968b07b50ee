package ir

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Version is the fragment encoding version. It is carried per module so the
// framing format and the fragment encoding evolve independently.
const Version uint8 = 1

// ErrMalformedFragment is returned when a payload cannot be decoded.
var ErrMalformedFragment = errors.New("ir: malformed fragment")

// Encode returns the canonical encoding of f. Fields are written in a fixed
// order and zero optional references are omitted, so equal fragments always
// encode to equal bytes.
func Encode(f Fragment) []byte {
	return f.appendPayload(nil)
}

// ID returns the ContentID of f.
func ID(f Fragment) ContentID {
	return Hash(f.Kind(), Encode(f))
}

// Field numbers. They are part of the encoding and must never be reused.
const (
	fieldPageSize       protowire.Number = 1
	fieldPageBackground protowire.Number = 2
	fieldPageItem       protowire.Number = 3

	fieldGroupBounds protowire.Number = 1
	fieldGroupClip   protowire.Number = 2
	fieldGroupItem   protowire.Number = 3

	fieldRunFont   protowire.Number = 1
	fieldRunPaint  protowire.Number = 2
	fieldRunText   protowire.Number = 3
	fieldRunSize   protowire.Number = 4
	fieldRunGlyph  protowire.Number = 5
	fieldRunBounds protowire.Number = 6

	fieldGlyphOutline protowire.Number = 1
	fieldGlyphAdvance protowire.Number = 2
	fieldGlyphBounds  protowire.Number = 3

	fieldFontFamily     protowire.Number = 1
	fieldFontUnitsPerEm protowire.Number = 2
	fieldFontAscender   protowire.Number = 3
	fieldFontDescender  protowire.Number = 4

	fieldPathData   protowire.Number = 1
	fieldPathPaint  protowire.Number = 2
	fieldPathBounds protowire.Number = 3

	fieldPaintFill   protowire.Number = 1
	fieldPaintStroke protowire.Number = 2
	fieldPaintWidth  protowire.Number = 3
	fieldPaintRule   protowire.Number = 4

	fieldTextContent protowire.Number = 1
	fieldTextLang    protowire.Number = 2

	fieldSnapshotTitle    protowire.Number = 1
	fieldSnapshotLanguage protowire.Number = 2
	fieldSnapshotAuthor   protowire.Number = 3
	fieldSnapshotPage     protowire.Number = 4
)

// Encoding helpers. Each appends a complete field (tag and value).

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendID(b []byte, num protowire.Number, id ContentID) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, id[:])
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendSize(b []byte, num protowire.Number, s Size) []byte {
	var m []byte
	m = appendFloat(m, 1, s.W)
	m = appendFloat(m, 2, s.H)
	return appendMessage(b, num, m)
}

func appendRect(b []byte, num protowire.Number, r Rect) []byte {
	var m []byte
	m = appendFloat(m, 1, r.MinX)
	m = appendFloat(m, 2, r.MinY)
	m = appendFloat(m, 3, r.MaxX)
	m = appendFloat(m, 4, r.MaxY)
	return appendMessage(b, num, m)
}

func appendAffine(b []byte, num protowire.Number, a Affine) []byte {
	var m []byte
	for i, v := range [6]float32{a.A, a.B, a.C, a.D, a.E, a.F} {
		m = appendFloat(m, protowire.Number(i+1), v)
	}
	return appendMessage(b, num, m)
}

func appendPlacements(b []byte, num protowire.Number, items []Placement) []byte {
	for _, it := range items {
		var m []byte
		m = appendAffine(m, 1, it.Transform)
		m = appendID(m, 2, it.Child)
		b = appendMessage(b, num, m)
	}
	return b
}

func (p Page) appendPayload(b []byte) []byte {
	b = appendSize(b, fieldPageSize, p.Size)
	if !p.Background.IsZero() {
		b = appendID(b, fieldPageBackground, p.Background)
	}
	return appendPlacements(b, fieldPageItem, p.Items)
}

func (g Group) appendPayload(b []byte) []byte {
	b = appendRect(b, fieldGroupBounds, g.Box)
	if g.Clip {
		b = appendUint(b, fieldGroupClip, 1)
	}
	return appendPlacements(b, fieldGroupItem, g.Items)
}

func (r GlyphRun) appendPayload(b []byte) []byte {
	b = appendID(b, fieldRunFont, r.Font)
	if !r.Paint.IsZero() {
		b = appendID(b, fieldRunPaint, r.Paint)
	}
	if !r.Text.IsZero() {
		b = appendID(b, fieldRunText, r.Text)
	}
	b = appendFloat(b, fieldRunSize, r.Size)
	for _, g := range r.Glyphs {
		var m []byte
		m = appendID(m, 1, g.Glyph)
		m = appendFloat(m, 2, g.X)
		b = appendMessage(b, fieldRunGlyph, m)
	}
	return appendRect(b, fieldRunBounds, r.Box)
}

func (g Glyph) appendPayload(b []byte) []byte {
	b = appendString(b, fieldGlyphOutline, g.Outline)
	b = appendFloat(b, fieldGlyphAdvance, g.Advance)
	return appendRect(b, fieldGlyphBounds, g.Box)
}

func (f Font) appendPayload(b []byte) []byte {
	b = appendString(b, fieldFontFamily, f.Family)
	b = appendUint(b, fieldFontUnitsPerEm, uint64(f.UnitsPerEm))
	b = appendFloat(b, fieldFontAscender, f.Ascender)
	return appendFloat(b, fieldFontDescender, f.Descender)
}

func (p Path) appendPayload(b []byte) []byte {
	b = appendString(b, fieldPathData, p.Data)
	if !p.Paint.IsZero() {
		b = appendID(b, fieldPathPaint, p.Paint)
	}
	return appendRect(b, fieldPathBounds, p.Box)
}

func (p Paint) appendPayload(b []byte) []byte {
	b = protowire.AppendTag(b, fieldPaintFill, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, p.Fill.uint32())
	b = protowire.AppendTag(b, fieldPaintStroke, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, p.Stroke.uint32())
	b = appendFloat(b, fieldPaintWidth, p.StrokeWidth)
	return appendUint(b, fieldPaintRule, uint64(p.Rule))
}

func (t Text) appendPayload(b []byte) []byte {
	b = appendString(b, fieldTextContent, t.Content)
	return appendString(b, fieldTextLang, t.Lang)
}

func (s Snapshot) appendPayload(b []byte) []byte {
	b = appendString(b, fieldSnapshotTitle, s.Meta.Title)
	b = appendString(b, fieldSnapshotLanguage, s.Meta.Language)
	b = appendString(b, fieldSnapshotAuthor, s.Meta.Author)
	for _, p := range s.Pages {
		var m []byte
		m = appendID(m, 1, p.ID)
		m = appendSize(m, 2, p.Size)
		b = appendMessage(b, fieldSnapshotPage, m)
	}
	return b
}

// Decode parses a payload of the given kind. Unknown fields are skipped so
// that newer encoders can add fields without breaking older decoders.
func Decode(kind Kind, payload []byte) (Fragment, error) {
	var (
		f   Fragment
		err error
	)
	switch kind {
	case KindPage:
		f, err = decodePage(payload)
	case KindGroup:
		f, err = decodeGroup(payload)
	case KindGlyphRun:
		f, err = decodeGlyphRun(payload)
	case KindGlyph:
		f, err = decodeGlyph(payload)
	case KindFont:
		f, err = decodeFont(payload)
	case KindPath:
		f, err = decodePath(payload)
	case KindPaint:
		f, err = decodePaint(payload)
	case KindText:
		f, err = decodeText(payload)
	case KindSnapshot:
		f, err = decodeSnapshot(payload)
	default:
		return nil, fmt.Errorf("%w: unknown kind 0x%02x", ErrMalformedFragment, uint8(kind))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFragment, kind, err)
	}
	return f, nil
}

// DecodeSnapshot parses a KindSnapshot payload.
func DecodeSnapshot(payload []byte) (Snapshot, error) {
	s, err := decodeSnapshot(payload)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: %v", ErrMalformedFragment, KindSnapshot, err)
	}
	return s, nil
}

// field is one decoded field. Exactly one of v (varint, fixed32) or buf
// (bytes) is meaningful, depending on typ.
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	buf []byte
}

// fields iterates over the top-level fields of msg, calling fn for each one.
func fields(msg []byte, fn func(f field) error) error {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return protowire.ParseError(n)
		}
		msg = msg[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(msg)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(msg)
			f.v = uint64(v)
		case protowire.BytesType:
			f.buf, n = protowire.ConsumeBytes(msg)
		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		msg = msg[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) float() (float32, error) {
	if f.typ != protowire.Fixed32Type {
		return 0, fmt.Errorf("field %d: want fixed32, got wire type %d", f.num, f.typ)
	}
	return math.Float32frombits(uint32(f.v)), nil
}

func (f field) varint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("field %d: want varint, got wire type %d", f.num, f.typ)
	}
	return f.v, nil
}

func (f field) bytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("field %d: want bytes, got wire type %d", f.num, f.typ)
	}
	return f.buf, nil
}

func (f field) string() (string, error) {
	b, err := f.bytes()
	return string(b), err
}

func (f field) id() (ContentID, error) {
	var id ContentID
	b, err := f.bytes()
	if err != nil {
		return id, err
	}
	if len(b) != IDSize {
		return id, fmt.Errorf("field %d: content id has %d bytes", f.num, len(b))
	}
	copy(id[:], b)
	if id.IsZero() {
		return id, fmt.Errorf("field %d: zero content id", f.num)
	}
	return id, nil
}

// floats decodes a message of fixed32 floats numbered 1..len(dst).
func (f field) floats(dst ...*float32) error {
	b, err := f.bytes()
	if err != nil {
		return err
	}
	return fields(b, func(sf field) error {
		if sf.num < 1 || int(sf.num) > len(dst) {
			return nil
		}
		v, err := sf.float()
		if err != nil {
			return err
		}
		*dst[sf.num-1] = v
		return nil
	})
}

func (f field) size() (Size, error) {
	var s Size
	err := f.floats(&s.W, &s.H)
	return s, err
}

func (f field) rect() (Rect, error) {
	var r Rect
	err := f.floats(&r.MinX, &r.MinY, &r.MaxX, &r.MaxY)
	return r, err
}

func (f field) placement() (Placement, error) {
	var p Placement
	b, err := f.bytes()
	if err != nil {
		return p, err
	}
	seenChild := false
	err = fields(b, func(sf field) error {
		switch sf.num {
		case 1:
			a := &p.Transform
			return sf.floats(&a.A, &a.B, &a.C, &a.D, &a.E, &a.F)
		case 2:
			id, err := sf.id()
			p.Child = id
			seenChild = true
			return err
		}
		return nil
	})
	if err == nil && !seenChild {
		err = fmt.Errorf("field %d: placement without child", f.num)
	}
	return p, err
}

func decodePage(b []byte) (Page, error) {
	var p Page
	err := fields(b, func(f field) (err error) {
		switch f.num {
		case fieldPageSize:
			p.Size, err = f.size()
		case fieldPageBackground:
			p.Background, err = f.id()
		case fieldPageItem:
			var it Placement
			it, err = f.placement()
			p.Items = append(p.Items, it)
		}
		return err
	})
	return p, err
}

func decodeGroup(b []byte) (Group, error) {
	var g Group
	err := fields(b, func(f field) (err error) {
		switch f.num {
		case fieldGroupBounds:
			g.Box, err = f.rect()
		case fieldGroupClip:
			var v uint64
			v, err = f.varint()
			g.Clip = v != 0
		case fieldGroupItem:
			var it Placement
			it, err = f.placement()
			g.Items = append(g.Items, it)
		}
		return err
	})
	return g, err
}

func decodeGlyphRun(b []byte) (GlyphRun, error) {
	var r GlyphRun
	err := fields(b, func(f field) (err error) {
		switch f.num {
		case fieldRunFont:
			r.Font, err = f.id()
		case fieldRunPaint:
			r.Paint, err = f.id()
		case fieldRunText:
			r.Text, err = f.id()
		case fieldRunSize:
			r.Size, err = f.float()
		case fieldRunGlyph:
			var (
				gp  GlyphPos
				msg []byte
			)
			if msg, err = f.bytes(); err != nil {
				return err
			}
			err = fields(msg, func(sf field) (err error) {
				switch sf.num {
				case 1:
					gp.Glyph, err = sf.id()
				case 2:
					gp.X, err = sf.float()
				}
				return err
			})
			if err == nil && gp.Glyph.IsZero() {
				err = fmt.Errorf("field %d: glyph without id", f.num)
			}
			r.Glyphs = append(r.Glyphs, gp)
		case fieldRunBounds:
			r.Box, err = f.rect()
		}
		return err
	})
	if err == nil && r.Font.IsZero() {
		err = errors.New("glyph run without font")
	}
	return r, err
}

func decodeGlyph(b []byte) (Glyph, error) {
	var g Glyph
	err := fields(b, func(f field) (err error) {
		switch f.num {
		case fieldGlyphOutline:
			g.Outline, err = f.string()
		case fieldGlyphAdvance:
			g.Advance, err = f.float()
		case fieldGlyphBounds:
			g.Box, err = f.rect()
		}
		return err
	})
	return g, err
}

func decodeFont(b []byte) (Font, error) {
	var ft Font
	err := fields(b, func(f field) (err error) {
		switch f.num {
		case fieldFontFamily:
			ft.Family, err = f.string()
		case fieldFontUnitsPerEm:
			var v uint64
			v, err = f.varint()
			if err == nil && v > math.MaxUint16 {
				err = fmt.Errorf("units per em %d out of range", v)
			}
			ft.UnitsPerEm = uint16(v)
		case fieldFontAscender:
			ft.Ascender, err = f.float()
		case fieldFontDescender:
			ft.Descender, err = f.float()
		}
		return err
	})
	return ft, err
}

func decodePath(b []byte) (Path, error) {
	var p Path
	err := fields(b, func(f field) (err error) {
		switch f.num {
		case fieldPathData:
			p.Data, err = f.string()
		case fieldPathPaint:
			p.Paint, err = f.id()
		case fieldPathBounds:
			p.Box, err = f.rect()
		}
		return err
	})
	return p, err
}

func decodePaint(b []byte) (Paint, error) {
	var p Paint
	err := fields(b, func(f field) (err error) {
		switch f.num {
		case fieldPaintFill, fieldPaintStroke:
			if f.typ != protowire.Fixed32Type {
				return fmt.Errorf("field %d: want fixed32, got wire type %d", f.num, f.typ)
			}
			if f.num == fieldPaintFill {
				p.Fill = colorFromUint32(uint32(f.v))
			} else {
				p.Stroke = colorFromUint32(uint32(f.v))
			}
		case fieldPaintWidth:
			p.StrokeWidth, err = f.float()
		case fieldPaintRule:
			var v uint64
			v, err = f.varint()
			p.Rule = FillRule(v)
		}
		return err
	})
	return p, err
}

func decodeText(b []byte) (Text, error) {
	var t Text
	err := fields(b, func(f field) (err error) {
		switch f.num {
		case fieldTextContent:
			t.Content, err = f.string()
		case fieldTextLang:
			t.Lang, err = f.string()
		}
		return err
	})
	return t, err
}

func decodeSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	err := fields(b, func(f field) (err error) {
		switch f.num {
		case fieldSnapshotTitle:
			s.Meta.Title, err = f.string()
		case fieldSnapshotLanguage:
			s.Meta.Language, err = f.string()
		case fieldSnapshotAuthor:
			s.Meta.Author, err = f.string()
		case fieldSnapshotPage:
			var (
				ref PageRef
				msg []byte
			)
			if msg, err = f.bytes(); err != nil {
				return err
			}
			err = fields(msg, func(sf field) (err error) {
				switch sf.num {
				case 1:
					ref.ID, err = sf.id()
				case 2:
					ref.Size, err = sf.size()
				}
				return err
			})
			if err == nil && ref.ID.IsZero() {
				err = fmt.Errorf("field %d: page without id", f.num)
			}
			s.Pages = append(s.Pages, ref)
		}
		return err
	})
	return s, err
}
