package ir

import (
	"errors"
	"fmt"
)

// ErrNotDrawable is returned when a non-drawable fragment is placed on a
// page or in a group.
var ErrNotDrawable = errors.New("ir: fragment is not drawable")

// PayloadSource is implemented by documents that keep the canonical encoding
// of their fragments, so packers can skip re-encoding.
type PayloadSource interface {
	Payload(id ContentID) ([]byte, bool)
}

// PagedDocument is an immutable compiled document backed by a Store.
type PagedDocument struct {
	store *Store
	meta  Meta
	pages []PageRef
}

var (
	_ Document      = (*PagedDocument)(nil)
	_ PayloadSource = (*PagedDocument)(nil)
)

// NewDocument wraps store as a document with the given pages. The page list
// is not validated against the store; packers report dangling pages.
func NewDocument(store *Store, meta Meta, pages []PageRef) *PagedDocument {
	return &PagedDocument{store: store, meta: meta.Normalize(), pages: pages}
}

func (d *PagedDocument) Meta() Meta { return d.meta }

func (d *PagedDocument) PageCount() int { return len(d.pages) }

func (d *PagedDocument) Page(i int) PageRef { return d.pages[i] }

func (d *PagedDocument) Fragment(id ContentID) (Fragment, bool) { return d.store.Fragment(id) }

func (d *PagedDocument) Payload(id ContentID) ([]byte, bool) { return d.store.Payload(id) }

// Store returns the backing store.
func (d *PagedDocument) Store() *Store { return d.store }

// Builder lowers layout output into content-addressed fragments. Each method
// interns one fragment and returns its ContentID; identical fragments are
// stored once. Bounds of groups and glyph runs are computed from their
// children, which must already be interned.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	store *Store
	meta  Meta
	pages []PageRef
}

// NewBuilder creates a builder with an empty store.
func NewBuilder() *Builder {
	return &Builder{store: NewStore()}
}

// NewBuilderWithStore creates a builder interning into store. Sharing a store
// between successive compilations keeps unchanged fragments in memory once.
func NewBuilderWithStore(store *Store) *Builder {
	return &Builder{store: store}
}

// SetMeta sets document metadata.
func (b *Builder) SetMeta(m Meta) { b.meta = m }

// Paint interns a paint.
func (b *Builder) Paint(p Paint) ContentID { return b.store.Add(p) }

// Text interns normalized source text.
func (b *Builder) Text(content, lang string) ContentID {
	return b.store.Add(NewText(content, lang))
}

// Font interns font metrics.
func (b *Builder) Font(f Font) ContentID { return b.store.Add(f) }

// Glyph interns a glyph outline.
func (b *Builder) Glyph(g Glyph) ContentID { return b.store.Add(g) }

// Path interns a path. Paint, when set, must already be interned.
func (b *Builder) Path(p Path) (ContentID, error) {
	if err := b.require(p.Paint, KindPaint, true); err != nil {
		return ContentID{}, err
	}
	return b.store.Add(p), nil
}

// Group interns a frame whose bounds are the union of its placed children.
func (b *Builder) Group(clip bool, items ...Placement) (ContentID, error) {
	box, err := b.placedBounds(items)
	if err != nil {
		return ContentID{}, err
	}
	return b.store.Add(Group{Box: box, Clip: clip, Items: items}), nil
}

// GlyphRun interns a glyph run, computing its bounds from the font metrics,
// glyph advances and outline extents. r.Box is ignored.
func (b *Builder) GlyphRun(r GlyphRun) (ContentID, error) {
	if err := b.require(r.Font, KindFont, false); err != nil {
		return ContentID{}, err
	}
	if err := b.require(r.Paint, KindPaint, true); err != nil {
		return ContentID{}, err
	}
	if err := b.require(r.Text, KindText, true); err != nil {
		return ContentID{}, err
	}
	f, _ := b.store.Fragment(r.Font)
	font := f.(Font)
	s := font.Scale(r.Size)

	box := Rect{MinY: -font.Ascender * s, MaxY: font.Descender * s}
	for _, gp := range r.Glyphs {
		if err := b.require(gp.Glyph, KindGlyph, false); err != nil {
			return ContentID{}, err
		}
		gf, _ := b.store.Fragment(gp.Glyph)
		g := gf.(Glyph)
		box = box.UnionPoint(gp.X+g.Advance*s, box.MaxY)
		box = box.Union(ScaleAffine(s, s).TransformRect(g.Box).Translate(gp.X, 0))
	}
	r.Box = box
	return b.store.Add(r), nil
}

// AddPage interns a page and appends it to the document.
func (b *Builder) AddPage(size Size, background ContentID, items ...Placement) (ContentID, error) {
	if err := b.require(background, KindPaint, true); err != nil {
		return ContentID{}, err
	}
	if _, err := b.placedBounds(items); err != nil {
		return ContentID{}, err
	}
	id := b.store.Add(Page{Size: size, Background: background, Items: items})
	b.pages = append(b.pages, PageRef{ID: id, Size: size})
	return id, nil
}

// Build returns the compiled document. The builder may keep adding pages
// afterwards without affecting the returned document.
func (b *Builder) Build() *PagedDocument {
	pages := make([]PageRef, len(b.pages))
	copy(pages, b.pages)
	return NewDocument(b.store, b.meta, pages)
}

func (b *Builder) require(id ContentID, kind Kind, optional bool) error {
	if id.IsZero() {
		if optional {
			return nil
		}
		return fmt.Errorf("ir: builder: missing %s reference", kind)
	}
	f, ok := b.store.Fragment(id)
	if !ok {
		return fmt.Errorf("ir: builder: %w", &DanglingError{ID: id})
	}
	if f.Kind() != kind {
		return fmt.Errorf("ir: builder: %s is a %s, want %s", id.Short(), f.Kind(), kind)
	}
	return nil
}

func (b *Builder) placedBounds(items []Placement) (Rect, error) {
	box := EmptyRect()
	for _, it := range items {
		f, ok := b.store.Fragment(it.Child)
		if !ok {
			return box, fmt.Errorf("ir: builder: %w", &DanglingError{ID: it.Child})
		}
		bf, ok := f.(Bounded)
		if !ok || !f.Kind().IsDrawable() {
			return box, fmt.Errorf("%w: %s %s", ErrNotDrawable, f.Kind(), it.Child.Short())
		}
		box = box.Union(it.Transform.TransformRect(bf.Bounds()))
	}
	if box.IsEmpty() {
		return Rect{}, nil
	}
	return box, nil
}
