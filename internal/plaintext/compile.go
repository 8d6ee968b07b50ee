// Package plaintext compiles plain text into a paginated vector document.
//
// Input conventions:
//
//	blank line      separates paragraphs; single newlines join lines
//	"# Title"       heading
//	"---"           horizontal rule
//	"\f"            page break
//
// Text is shaped with HarfBuzz (go-text/typesetting) using the embedded Go
// Regular font, which is parsed once and shared. Glyph outlines are stored
// once per glyph in font units and reused by every run.
package plaintext

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-text/typesetting/di"
	gotext "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/vecsync"
	"github.com/gogpu/vecsync/ir"
)

const (
	headingScale = 1.6
	// paragraphGap is the space after a paragraph relative to its font size.
	paragraphGap = 0.6
)

// Compile lays out src and returns the compiled document. The result always
// has at least one page.
func Compile(src string, opts ...Option) (*ir.PagedDocument, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.page.W-2*cfg.margin <= 0 || cfg.page.H-2*cfg.margin < cfg.fontSize*cfg.lineHeight {
		return nil, fmt.Errorf("plaintext: margin %v leaves no room on a %vx%v page",
			cfg.margin, cfg.page.W, cfg.page.H)
	}
	f, err := defaultFace()
	if err != nil {
		return nil, err
	}
	return newCompiler(f, cfg).compile(src)
}

// CompileFile reads a UTF-8 text file and compiles it.
func CompileFile(path string, opts ...Option) (*ir.PagedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plaintext: %w", err)
	}
	return Compile(string(data), opts...)
}

type blockKind uint8

const (
	blockParagraph blockKind = iota
	blockHeading
	blockRule
)

type block struct {
	kind blockKind
	text string
}

func parseBlocks(src string) []block {
	var (
		blocks []block
		para   []string
	)
	flush := func() {
		if len(para) > 0 {
			blocks = append(blocks, block{kind: blockParagraph, text: strings.Join(para, " ")})
			para = para[:0]
		}
	}
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case line == "---":
			flush()
			blocks = append(blocks, block{kind: blockRule})
		case strings.HasPrefix(line, "# "):
			flush()
			blocks = append(blocks, block{kind: blockHeading, text: strings.TrimSpace(line[2:])})
		default:
			para = append(para, line)
		}
	}
	flush()
	return blocks
}

type glyphRef struct {
	id    ir.ContentID
	empty bool
}

// compiler holds the state of one compilation. It is not safe for
// concurrent use; the shared face is.
type compiler struct {
	cfg    config
	face   *face
	b      *ir.Builder
	shaper shaping.HarfbuzzShaper
	gface  *gotext.Face
	lang   language.Language
	buf    sfnt.Buffer
	glyphs map[gotext.GID]glyphRef
	widths map[string]fixed.Int26_6

	font, ink, bg, rule ir.ContentID

	items []ir.Placement // current page
	y     float32        // cursor, relative to the top margin
}

func newCompiler(f *face, cfg config) *compiler {
	b := ir.NewBuilder()
	if cfg.store != nil {
		b = ir.NewBuilderWithStore(cfg.store)
	}
	return &compiler{
		cfg:    cfg,
		face:   f,
		b:      b,
		gface:  gotext.NewFace(f.shaping),
		lang:   language.NewLanguage(ir.CanonicalLanguage(cfg.meta.Language)),
		glyphs: make(map[gotext.GID]glyphRef),
		widths: make(map[string]fixed.Int26_6),
	}
}

func (c *compiler) compile(src string) (*ir.PagedDocument, error) {
	src = strings.ReplaceAll(src, "\r\n", "\n")

	c.font = c.b.Font(c.face.meta)
	c.ink = c.b.Paint(ir.SolidPaint(ir.Black))
	c.bg = c.b.Paint(ir.SolidPaint(ir.White))
	c.rule = c.b.Paint(ir.Paint{Stroke: ir.RGB(128, 128, 128), StrokeWidth: 0.75})

	for i, chunk := range strings.Split(src, "\f") {
		if i > 0 {
			if err := c.newPage(); err != nil {
				return nil, err
			}
		}
		for _, blk := range parseBlocks(chunk) {
			var err error
			switch blk.kind {
			case blockParagraph:
				err = c.paragraph(blk.text, c.cfg.fontSize)
			case blockHeading:
				err = c.paragraph(blk.text, c.cfg.fontSize*headingScale)
			case blockRule:
				err = c.horizontalRule()
			}
			if err != nil {
				return nil, err
			}
		}
	}
	if err := c.newPage(); err != nil {
		return nil, err
	}

	meta := c.cfg.meta
	if meta.Title == "" {
		meta.Title = firstLine(src)
	}
	c.b.SetMeta(meta)
	doc := c.b.Build()
	vecsync.Component("plaintext").Debug("compiled",
		"pages", doc.PageCount(), "glyphs", len(c.glyphs), "fragments", doc.Store().Len())
	return doc, nil
}

func (c *compiler) contentWidth() float32 {
	return c.cfg.page.W - 2*c.cfg.margin
}

func (c *compiler) contentHeight() float32 {
	return c.cfg.page.H - 2*c.cfg.margin
}

// newPage closes the current page.
func (c *compiler) newPage() error {
	if _, err := c.b.AddPage(c.cfg.page, c.bg, c.items...); err != nil {
		return err
	}
	c.items = nil
	c.y = 0
	return nil
}

// fits reports whether h more units fit on the current page. An empty page
// accepts anything.
func (c *compiler) fits(h float32) bool {
	return c.y == 0 || c.y+h <= c.contentHeight()
}

// paragraph lays out text as one frame per page it spans.
func (c *compiler) paragraph(text string, size float32) error {
	lh := size * c.cfg.lineHeight
	font := c.face.meta
	scale := font.Scale(size)
	asc, desc := font.Ascender*scale, font.Descender*scale
	baseline := asc + (lh-asc-desc)/2

	var (
		frame []ir.Placement
		top   = c.y
	)
	flush := func() error {
		if len(frame) == 0 {
			return nil
		}
		id, err := c.b.Group(false, frame...)
		if err != nil {
			return err
		}
		c.items = append(c.items, ir.Translate(c.cfg.margin, c.cfg.margin+top, id))
		frame = nil
		return nil
	}

	for _, line := range c.wrap(text, size) {
		if !c.fits(lh) {
			if err := flush(); err != nil {
				return err
			}
			if err := c.newPage(); err != nil {
				return err
			}
			top = c.y
		}
		run, err := c.run(line, size)
		if err != nil {
			return err
		}
		frame = append(frame, ir.Translate(0, c.y-top+baseline, run))
		c.y += lh
	}
	if err := flush(); err != nil {
		return err
	}
	c.y += size * paragraphGap
	return nil
}

func (c *compiler) horizontalRule() error {
	lh := c.cfg.fontSize * c.cfg.lineHeight
	if !c.fits(lh) {
		if err := c.newPage(); err != nil {
			return err
		}
	}
	pb := ir.NewPathBuilder().MoveTo(0, 0).LineTo(c.contentWidth(), 0)
	id, err := c.b.Path(ir.Path{Data: pb.Data(), Paint: c.rule, Box: pb.Bounds()})
	if err != nil {
		return err
	}
	c.items = append(c.items, ir.Translate(c.cfg.margin, c.cfg.margin+c.y+lh/2, id))
	c.y += lh
	return nil
}

// wrap breaks text into lines greedily at spaces. A word wider than the
// line gets a line of its own and overflows.
func (c *compiler) wrap(text string, size float32) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	limit := c.contentWidth() / c.face.meta.Scale(size)
	space := fixedToFloat(c.width(" "))

	var (
		lines []string
		line  []string
		w     float32
	)
	for _, word := range words {
		ww := fixedToFloat(c.width(word))
		if len(line) > 0 && w+space+ww > limit {
			lines = append(lines, strings.Join(line, " "))
			line, w = line[:0], 0
		}
		if len(line) > 0 {
			w += space
		}
		line = append(line, word)
		w += ww
	}
	return append(lines, strings.Join(line, " "))
}

// width returns the shaped advance of s in font units.
func (c *compiler) width(s string) fixed.Int26_6 {
	if w, ok := c.widths[s]; ok {
		return w
	}
	w := c.shape(s).Advance
	c.widths[s] = w
	return w
}

// shape shapes s at ppem == upem, so positions come out in font units.
func (c *compiler) shape(s string) shaping.Output {
	runes := []rune(s)
	return c.shaper.Shape(shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: di.DirectionLTR,
		Face:      c.gface,
		Size:      c.face.ppem(),
		Script:    scriptOf(runes),
		Language:  c.lang,
	})
}

func (c *compiler) run(line string, size float32) (ir.ContentID, error) {
	out := c.shape(line)
	scale := c.face.meta.Scale(size)

	glyphs := make([]ir.GlyphPos, 0, len(out.Glyphs))
	var pen fixed.Int26_6
	for _, g := range out.Glyphs {
		ref, err := c.glyph(g.GlyphID)
		if err != nil {
			return ir.ContentID{}, err
		}
		if !ref.empty {
			glyphs = append(glyphs, ir.GlyphPos{Glyph: ref.id, X: fixedToFloat(pen+g.XOffset) * scale})
		}
		pen += g.Advance
	}
	return c.b.GlyphRun(ir.GlyphRun{
		Font:   c.font,
		Paint:  c.ink,
		Text:   c.b.Text(line, c.cfg.meta.Language),
		Size:   size,
		Glyphs: glyphs,
	})
}

// glyph interns the outline of gid once per compilation. Glyphs without
// an outline are not interned.
func (c *compiler) glyph(gid gotext.GID) (glyphRef, error) {
	if ref, ok := c.glyphs[gid]; ok {
		return ref, nil
	}
	g, err := c.face.outlineOf(&c.buf, sfnt.GlyphIndex(gid)) //nolint:gosec // TrueType glyph ids are 16-bit
	if err != nil {
		return glyphRef{}, err
	}
	ref := glyphRef{empty: g.Outline == ""}
	if !ref.empty {
		ref.id = c.b.Glyph(g)
	}
	c.glyphs[gid] = ref
	return ref, nil
}

// scriptOf returns the script of the first non-space rune.
func scriptOf(runes []rune) language.Script {
	for _, r := range runes {
		if r != ' ' && r != '\t' {
			return language.LookupScript(r)
		}
	}
	return language.Latin
}

func firstLine(src string) string {
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(strings.Trim(line, "\f"))
		if line == "" || line == "---" {
			continue
		}
		return strings.TrimSpace(strings.TrimPrefix(line, "# "))
	}
	return ""
}
