package svg

// Option configures a Renderer during creation.
//
// Example:
//
//	r := svg.NewRenderer(svg.WithPageGap(16), svg.WithTextLayer(true))
type Option func(*options)

type options struct {
	cache     *Cache
	cacheMB   int
	pageGap   float32
	textLayer bool
}

func defaultOptions() options {
	return options{cacheMB: DefaultMaxSizeMB}
}

// WithCacheSize sets the budget of the renderer's private cache in
// megabytes. It has no effect together with WithCache.
func WithCacheSize(mb int) Option {
	return func(o *options) {
		o.cacheMB = mb
	}
}

// WithCache makes the renderer use a shared cache.
func WithCache(c *Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithPageGap sets the vertical distance between consecutive pages in
// document units. Negative values are treated as 0.
func WithPageGap(gap float32) Option {
	return func(o *options) {
		o.pageGap = max(gap, 0)
	}
}

// WithTextLayer adds an invisible, selectable text element on top of every
// glyph run that carries source text.
func WithTextLayer(enabled bool) Option {
	return func(o *options) {
		o.textLayer = enabled
	}
}
