package svg

import (
	"bytes"
	"fmt"
	"html"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gogpu/vecsync"
	"github.com/gogpu/vecsync/ir"
)

// Render context flags. They are part of every cache key.
const (
	ctxTextLayer uint8 = 1 << iota
)

// Stats describes the work done by the last RenderInWindow call.
type Stats struct {
	// PagesVisited and PagesSkipped count pages inside and outside the window.
	PagesVisited int
	PagesSkipped int
	// FragmentsVisited counts fragments serialized or descended into.
	FragmentsVisited int
	// FragmentsCulled counts placed fragments skipped as outside the window.
	FragmentsCulled int
	// CacheHits and CacheMisses count render cache lookups.
	CacheHits   int
	CacheMisses int
	// Unresolved lists references missing from the document, in the order
	// they were met. They are rendered as placeholders.
	Unresolved []ir.ContentID
}

// Renderer renders the part of a document that intersects a window as SVG.
// A Renderer is not safe for concurrent use; its Cache is.
type Renderer struct {
	cache     *Cache
	pageGap   float32
	textLayer bool
	ctx       uint8
	last      Stats
}

// NewRenderer creates a renderer.
func NewRenderer(opts ...Option) *Renderer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cache := o.cache
	if cache == nil {
		cache = NewCache(o.cacheMB)
	}
	r := &Renderer{cache: cache, pageGap: o.pageGap, textLayer: o.textLayer}
	if o.textLayer {
		r.ctx |= ctxTextLayer
	}
	return r
}

// Cache returns the renderer's cache.
func (r *Renderer) Cache() *Cache { return r.cache }

// LastStats returns statistics of the last RenderInWindow call.
func (r *Renderer) LastStats() Stats { return r.last }

// PageRect returns the placement of page i in document coordinates. Pages
// are stacked top to bottom, left-aligned, separated by the page gap.
func (r *Renderer) PageRect(doc ir.Document, i int) ir.Rect {
	var top float32
	for j := range i {
		top += doc.Page(j).Size.H + r.pageGap
	}
	size := doc.Page(i).Size
	return ir.Rect{MinY: top, MaxX: size.W, MaxY: top + size.H}
}

// DocumentBounds returns the rectangle covering every page.
func (r *Renderer) DocumentBounds(doc ir.Document) ir.Rect {
	var w, h float32
	for i := range doc.PageCount() {
		if i > 0 {
			h += r.pageGap
		}
		size := doc.Page(i).Size
		w = max(w, size.W)
		h += size.H
	}
	return ir.Rect{MaxX: w, MaxY: h}
}

// RenderInWindow renders the content of doc intersecting window, given in
// document coordinates, as a self-contained SVG element whose viewport is
// the window clamped to the document bounds.
//
// Pages outside the window are skipped without resolving their content.
// Inside a page, fragments whose bounds miss the window are culled.
// Fragments entirely inside the window are served from the cache when
// possible. Missing references render as placeholders and are reported in
// LastStats; the rest of the window renders normally.
func (r *Renderer) RenderInWindow(doc ir.Document, window ir.Rect) string {
	s := &state{
		r:    r,
		doc:  doc,
		seen: make(map[ir.ContentID]struct{}),
	}
	defer func() { r.last = s.stats }()

	n := doc.PageCount()
	bounds := r.DocumentBounds(doc)
	clamped := window.Intersect(bounds)
	if !window.Overlaps(bounds) || clamped.IsEmpty() {
		s.stats.PagesSkipped = n
		return `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 0 0" width="0" height="0"></svg>`
	}
	s.window = clamped

	body := getBuffer()
	defer putBuffer(body)

	var (
		glyphs []ir.ContentID
		clips  []ir.ContentID
		top    float32
	)
	for i := range n {
		ref := doc.Page(i)
		rect := ir.Rect{MinY: top, MaxX: ref.Size.W, MaxY: top + ref.Size.H}
		top += ref.Size.H + r.pageGap
		if !rect.Overlaps(s.window) {
			s.stats.PagesSkipped++
			continue
		}
		s.stats.PagesVisited++

		fmt.Fprintf(body, `<g class="vs-page" data-page="%d" transform="translate(0,%s)">`, i, ir.FormatFloat(rect.MinY))
		out := s.page(ref, rect)
		body.WriteString(out.markup)
		body.WriteString(`</g>`)
		glyphs = append(glyphs, out.glyphs...)
		clips = append(clips, out.clips...)
	}

	w, h := ir.FormatFloat(s.window.Width()), ir.FormatFloat(s.window.Height())
	out := getBuffer()
	defer putBuffer(out)
	fmt.Fprintf(out, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %s %s" width="%s" height="%s">`, w, h, w, h)
	s.writeDefs(out, dedup(glyphs), dedup(clips))
	fmt.Fprintf(out, `<g transform="translate(%s,%s)">`, ir.FormatFloat(-s.window.MinX), ir.FormatFloat(-s.window.MinY))
	out.Write(body.Bytes())
	out.WriteString(`</g></svg>`)
	return out.String()
}

// state is the per-call rendering state.
type state struct {
	r      *Renderer
	doc    ir.Document
	window ir.Rect
	stats  Stats
	seen   map[ir.ContentID]struct{} // unresolved ids already reported
}

// page renders one intersecting page placed at rect.
func (s *state) page(ref ir.PageRef, rect ir.Rect) *rendered {
	f, ok := s.doc.Fragment(ref.ID)
	if !ok {
		s.unresolved(ref.ID)
		return &rendered{markup: fmt.Sprintf(`<rect class="vs-missing" data-id="%s" width="%s" height="%s" fill="none"/>`,
			ref.ID.Short(), ir.FormatFloat(ref.Size.W), ir.FormatFloat(ref.Size.H))}
	}
	// Items may overflow the page, so pages are always descended into; the
	// items themselves are cached.
	p, ok := f.(ir.Page)
	if !ok {
		return &rendered{}
	}
	s.stats.FragmentsVisited++
	b := getBuffer()
	defer putBuffer(b)
	out := &rendered{}
	abs := ir.TranslateAffine(0, rect.MinY)
	s.pageBody(b, out, p, &abs)
	out.markup = b.String()
	return out
}

// whole renders the subtree rooted at id independently of the window,
// through the cache. The second result is false when the subtree contains
// unresolved references; such markup is never cached.
func (s *state) whole(id ir.ContentID) (*rendered, bool) {
	key := cacheKey{id: id, ctx: s.r.ctx}
	if v, ok := s.r.cache.get(key); ok {
		s.stats.CacheHits++
		return v, true
	}
	s.stats.CacheMisses++

	f, ok := s.doc.Fragment(id)
	if !ok {
		return s.missing(id), false
	}
	s.stats.FragmentsVisited++

	b := getBuffer()
	defer putBuffer(b)
	out := &rendered{}
	complete := true
	switch f := f.(type) {
	case ir.Page:
		complete = s.pageBody(b, out, f, nil)
	case ir.Group:
		complete = s.group(b, out, id, f, nil)
	case ir.Path:
		complete = s.path(b, id, f)
	case ir.GlyphRun:
		complete = s.glyphRun(b, out, id, f)
	}
	out.markup = b.String()
	out.glyphs = dedup(out.glyphs)
	out.clips = dedup(out.clips)
	if complete {
		s.r.cache.put(key, out)
	}
	return out, complete
}

// items renders placed children. With abs nil every child is rendered whole;
// otherwise abs maps the parent to document space and children are culled
// against the window.
func (s *state) items(b *bytes.Buffer, out *rendered, items []ir.Placement, abs *ir.Affine) bool {
	complete := true
	for _, it := range items {
		if abs == nil {
			v, ok := s.whole(it.Child)
			opened := openPlacement(b, it.Transform)
			b.WriteString(v.markup)
			closePlacement(b, opened)
			out.merge(v)
			complete = complete && ok
			continue
		}
		complete = s.placed(b, out, it, *abs) && complete
	}
	return complete
}

func (s *state) placed(b *bytes.Buffer, out *rendered, it ir.Placement, parent ir.Affine) bool {
	f, ok := s.doc.Fragment(it.Child)
	if !ok {
		opened := openPlacement(b, it.Transform)
		b.WriteString(s.missing(it.Child).markup)
		closePlacement(b, opened)
		return false
	}
	bf, ok := f.(ir.Bounded)
	if !ok || !f.Kind().IsDrawable() {
		return true
	}
	abs := parent.Multiply(it.Transform)
	box := abs.TransformRect(bf.Bounds())
	if !box.Overlaps(s.window) {
		s.stats.FragmentsCulled++
		return true
	}

	opened := openPlacement(b, it.Transform)
	defer closePlacement(b, opened)

	if g, isGroup := f.(ir.Group); isGroup && !s.window.Contains(box) {
		s.stats.FragmentsVisited++
		return s.group(b, out, it.Child, g, &abs)
	}
	v, complete := s.whole(it.Child)
	b.WriteString(v.markup)
	out.merge(v)
	return complete
}

func (s *state) pageBody(b *bytes.Buffer, out *rendered, p ir.Page, abs *ir.Affine) bool {
	complete := true
	if !p.Background.IsZero() {
		paint, ok := s.paint(p.Background)
		complete = ok
		fmt.Fprintf(b, `<rect class="vs-bg" width="%s" height="%s"`, ir.FormatFloat(p.Size.W), ir.FormatFloat(p.Size.H))
		writePaint(b, paint)
		b.WriteString(`/>`)
	}
	return s.items(b, out, p.Items, abs) && complete
}

func (s *state) group(b *bytes.Buffer, out *rendered, id ir.ContentID, g ir.Group, abs *ir.Affine) bool {
	fmt.Fprintf(b, `<g data-id="%s"`, id.Short())
	if g.Clip {
		fmt.Fprintf(b, ` clip-path="url(#%s)"`, clipElem(id))
		out.clips = append(out.clips, id)
	}
	b.WriteString(`>`)
	complete := s.items(b, out, g.Items, abs)
	b.WriteString(`</g>`)
	return complete
}

func (s *state) path(b *bytes.Buffer, id ir.ContentID, p ir.Path) bool {
	complete := true
	fmt.Fprintf(b, `<path data-id="%s" d="%s"`, id.Short(), html.EscapeString(p.Data))
	if !p.Paint.IsZero() {
		paint, ok := s.paint(p.Paint)
		complete = ok
		writePaint(b, paint)
	}
	b.WriteString(`/>`)
	return complete
}

func (s *state) glyphRun(b *bytes.Buffer, out *rendered, id ir.ContentID, r ir.GlyphRun) bool {
	complete := true
	fmt.Fprintf(b, `<g class="vs-run" data-id="%s"`, id.Short())
	if !r.Paint.IsZero() {
		paint, ok := s.paint(r.Paint)
		complete = ok
		writePaint(b, paint)
	}
	b.WriteString(`>`)

	ff, ok := s.doc.Fragment(r.Font)
	font, isFont := ff.(ir.Font)
	if !ok || !isFont {
		s.unresolved(r.Font)
		b.WriteString(`</g>`)
		return false
	}
	scale := ir.FormatFloat(font.Scale(r.Size))
	for _, gp := range r.Glyphs {
		if _, ok := s.doc.Fragment(gp.Glyph); !ok {
			s.unresolved(gp.Glyph)
			complete = false
			continue
		}
		fmt.Fprintf(b, `<use href="#%s" transform="`, glyphElem(gp.Glyph))
		if gp.X != 0 {
			fmt.Fprintf(b, `translate(%s,0) `, ir.FormatFloat(gp.X))
		}
		fmt.Fprintf(b, `scale(%s)"/>`, scale)
		out.glyphs = append(out.glyphs, gp.Glyph)
	}

	if s.r.textLayer && !r.Text.IsZero() {
		tf, ok := s.doc.Fragment(r.Text)
		if text, isText := tf.(ir.Text); ok && isText {
			fmt.Fprintf(b, `<text class="vs-tsel" x="%s" font-size="%s" textLength="%s" lengthAdjust="spacingAndGlyphs" fill="transparent"`,
				ir.FormatFloat(r.Box.MinX), ir.FormatFloat(r.Size), ir.FormatFloat(max(r.Box.Width(), 0)))
			if text.Lang != "" {
				fmt.Fprintf(b, ` xml:lang="%s"`, html.EscapeString(text.Lang))
			}
			b.WriteString(`>`)
			b.WriteString(html.EscapeString(text.Content))
			b.WriteString(`</text>`)
		} else {
			s.unresolved(r.Text)
			complete = false
		}
	}
	b.WriteString(`</g>`)
	return complete
}

// paint resolves a paint reference. Unresolved paints fall back to the
// default black fill.
func (s *state) paint(id ir.ContentID) (ir.Paint, bool) {
	f, ok := s.doc.Fragment(id)
	if p, isPaint := f.(ir.Paint); ok && isPaint {
		return p, true
	}
	s.unresolved(id)
	return ir.SolidPaint(ir.Black), false
}

func (s *state) missing(id ir.ContentID) *rendered {
	s.unresolved(id)
	return &rendered{markup: fmt.Sprintf(`<g class="vs-missing" data-id="%s"/>`, id.Short())}
}

func (s *state) unresolved(id ir.ContentID) {
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.stats.Unresolved = append(s.stats.Unresolved, id)
	vecsync.Component("svg").Warn("unresolved reference, rendering placeholder", "id", id.String())
}

func (s *state) writeDefs(b *bytes.Buffer, glyphs, clips []ir.ContentID) {
	if len(glyphs) == 0 && len(clips) == 0 {
		return
	}
	b.WriteString(`<defs>`)
	for _, id := range glyphs {
		f, _ := s.doc.Fragment(id)
		g, ok := f.(ir.Glyph)
		if !ok {
			continue
		}
		fmt.Fprintf(b, `<path id="%s" d="%s"/>`, glyphElem(id), html.EscapeString(g.Outline))
	}
	for _, id := range clips {
		f, _ := s.doc.Fragment(id)
		g, ok := f.(ir.Group)
		if !ok {
			continue
		}
		fmt.Fprintf(b, `<clipPath id="%s"><rect x="%s" y="%s" width="%s" height="%s"/></clipPath>`,
			clipElem(id), ir.FormatFloat(g.Box.MinX), ir.FormatFloat(g.Box.MinY),
			ir.FormatFloat(g.Box.Width()), ir.FormatFloat(g.Box.Height()))
	}
	b.WriteString(`</defs>`)
}

// Element ids carry the full ContentID: distinct fragments may share a
// short prefix, and markup is reused across renders.
func glyphElem(id ir.ContentID) string { return "g" + id.String() }

func clipElem(id ir.ContentID) string { return "c" + id.String() }

func (r *rendered) merge(other *rendered) {
	r.glyphs = append(r.glyphs, other.glyphs...)
	r.clips = append(r.clips, other.clips...)
}

// dedup sorts ids and removes duplicates.
func dedup(ids []ir.ContentID) []ir.ContentID {
	slices.SortFunc(ids, ir.ContentID.Compare)
	return slices.Compact(ids)
}

func openPlacement(b *bytes.Buffer, a ir.Affine) bool {
	if a.IsIdentity() {
		return false
	}
	b.WriteString(`<g transform="`)
	if a.IsTranslate() {
		fmt.Fprintf(b, `translate(%s,%s)`, ir.FormatFloat(a.C), ir.FormatFloat(a.F))
	} else {
		// SVG matrix(a,b,c,d,e,f) is column-major.
		fmt.Fprintf(b, `matrix(%s,%s,%s,%s,%s,%s)`,
			ir.FormatFloat(a.A), ir.FormatFloat(a.D), ir.FormatFloat(a.B),
			ir.FormatFloat(a.E), ir.FormatFloat(a.C), ir.FormatFloat(a.F))
	}
	b.WriteString(`">`)
	return true
}

func closePlacement(b *bytes.Buffer, opened bool) {
	if opened {
		b.WriteString(`</g>`)
	}
}

func writePaint(b *bytes.Buffer, p ir.Paint) {
	if p.Fill.IsVisible() {
		fmt.Fprintf(b, ` fill="%s"`, p.Fill.Hex())
		if !p.Fill.IsOpaque() {
			fmt.Fprintf(b, ` fill-opacity="%s"`, p.Fill.Opacity())
		}
	} else {
		b.WriteString(` fill="none"`)
	}
	if p.Stroke.IsVisible() && p.StrokeWidth > 0 {
		fmt.Fprintf(b, ` stroke="%s" stroke-width="%s"`, p.Stroke.Hex(), ir.FormatFloat(p.StrokeWidth))
		if !p.Stroke.IsOpaque() {
			fmt.Fprintf(b, ` stroke-opacity="%s"`, p.Stroke.Opacity())
		}
	}
	if p.Rule == ir.FillEvenOdd {
		b.WriteString(` fill-rule="evenodd"`)
	}
}

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

func getBuffer() *bytes.Buffer {
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// maxPooledBuffer bounds the buffers kept for reuse.
const maxPooledBuffer = 1 << 20

func putBuffer(b *bytes.Buffer) {
	if b.Cap() > maxPooledBuffer {
		return
	}
	bufPool.Put(b)
}

// FormatRect formats a rectangle as "x0,y0,x1,y1", the form accepted by
// ParseRect.
func FormatRect(r ir.Rect) string {
	return ir.FormatFloat(r.MinX) + "," + ir.FormatFloat(r.MinY) + "," +
		ir.FormatFloat(r.MaxX) + "," + ir.FormatFloat(r.MaxY)
}

// ParseRect parses "x0,y0,x1,y1". Unbounded edges may be written as "inf"
// or "-inf"; NaN is rejected.
func ParseRect(s string) (ir.Rect, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return ir.Rect{}, fmt.Errorf("svg: rect %q: want 4 comma-separated numbers", s)
	}
	var v [4]float32
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return ir.Rect{}, fmt.Errorf("svg: rect %q: %w", s, err)
		}
		if math.IsNaN(x) {
			return ir.Rect{}, fmt.Errorf("svg: rect %q: NaN edge", s)
		}
		v[i] = float32(x)
	}
	r := ir.Rect{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}
	if r.IsEmpty() {
		return r, fmt.Errorf("svg: rect %q is inverted", s)
	}
	return r, nil
}
