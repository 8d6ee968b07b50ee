package plaintext

import "github.com/gogpu/vecsync/ir"

// A4 is the default page size in points.
var A4 = ir.Size{W: 595, H: 842}

// Option configures Compile.
type Option func(*config)

type config struct {
	page       ir.Size
	margin     float32
	fontSize   float32
	lineHeight float32
	meta       ir.Meta
	store      *ir.Store
}

func defaultConfig() config {
	return config{
		page:       A4,
		margin:     56,
		fontSize:   11,
		lineHeight: 1.4,
		meta:       ir.Meta{Language: "en"},
	}
}

// WithPageSize sets the page size. Non-positive dimensions are ignored.
func WithPageSize(s ir.Size) Option {
	return func(c *config) {
		if s.W > 0 && s.H > 0 {
			c.page = s
		}
	}
}

// WithMargin sets the margin on all four sides.
func WithMargin(m float32) Option {
	return func(c *config) {
		c.margin = max(m, 0)
	}
}

// WithFontSize sets the body font size in points.
func WithFontSize(size float32) Option {
	return func(c *config) {
		if size > 0 {
			c.fontSize = size
		}
	}
}

// WithLineHeight sets the line height as a multiple of the font size.
func WithLineHeight(factor float32) Option {
	return func(c *config) {
		if factor > 0 {
			c.lineHeight = factor
		}
	}
}

// WithTitle sets the document title. By default the first line is used.
func WithTitle(title string) Option {
	return func(c *config) {
		c.meta.Title = title
	}
}

// WithLanguage sets the BCP 47 language of the text.
func WithLanguage(tag string) Option {
	return func(c *config) {
		c.meta.Language = tag
	}
}

// WithAuthor sets the document author.
func WithAuthor(author string) Option {
	return func(c *config) {
		c.meta.Author = author
	}
}

// WithStore interns fragments into store, so consecutive compilations share
// one store.
func WithStore(s *ir.Store) Option {
	return func(c *config) {
		c.store = s
	}
}
