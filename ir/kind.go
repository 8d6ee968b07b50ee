package ir

// Kind is a single-byte tag identifying a fragment variant. It is hashed into
// every ContentID and carried in every module directory entry.
//
// Kinds are grouped by their high nibble:
//
//	0x0X: layout fragments (pages, groups)
//	0x1X: drawing fragments (glyph runs, glyphs, paths)
//	0x2X: resources (fonts, paints, text)
//	0x4X: document-level records (snapshots)
type Kind uint8

const (
	// KindPage is a page with declared geometry and placed items.
	KindPage Kind = 0x01

	// KindGroup is a frame: a positioned group of children with
	// precomputed bounds.
	KindGroup Kind = 0x02

	// KindGlyphRun is a horizontal run of glyphs sharing font, size and paint.
	KindGlyphRun Kind = 0x10

	// KindGlyph is a single glyph outline in font units.
	KindGlyph Kind = 0x11

	// KindPath is a filled and/or stroked vector path.
	KindPath Kind = 0x12

	// KindFont carries font family and vertical metrics.
	KindFont Kind = 0x20

	// KindPaint is a fill/stroke style shared by paths and glyph runs.
	KindPaint Kind = 0x21

	// KindText is the source text of a glyph run.
	KindText Kind = 0x22

	// KindSnapshot is the ordered page list plus document metadata.
	KindSnapshot Kind = 0x40
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindPage:
		return "Page"
	case KindGroup:
		return "Group"
	case KindGlyphRun:
		return "GlyphRun"
	case KindGlyph:
		return "Glyph"
	case KindPath:
		return "Path"
	case KindFont:
		return "Font"
	case KindPaint:
		return "Paint"
	case KindText:
		return "Text"
	case KindSnapshot:
		return "Snapshot"
	default:
		return "Unknown"
	}
}

// IsFragment reports whether the kind is stored in a fragment store,
// as opposed to a document-level record.
func (k Kind) IsFragment() bool {
	switch k {
	case KindPage, KindGroup, KindGlyphRun, KindGlyph, KindPath,
		KindFont, KindPaint, KindText:
		return true
	default:
		return false
	}
}

// IsDrawable reports whether fragments of this kind carry geometry and can
// be placed on a page.
func (k Kind) IsDrawable() bool {
	return k == KindGroup || k == KindGlyphRun || k == KindPath
}
