package devserver

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/vecsync/internal/plaintext"
	"github.com/gogpu/vecsync/ir"
)

// Config holds the dev server configuration.
type Config struct {
	Listen       string        `yaml:"listen"`
	Source       string        `yaml:"source"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// EncodedCacheMB bounds the fragment encoding cache shared by sessions.
	EncodedCacheMB int `yaml:"encoded_cache_mb"`
	// RenderCacheMB bounds the SVG markup cache shared by render requests.
	RenderCacheMB int     `yaml:"render_cache_mb"`
	PageGap       float32 `yaml:"page_gap"`
	MaxSessions   int     `yaml:"max_sessions"`
	// ResumeWindow is how long a disconnected session can be resumed.
	// Zero disables resumption.
	ResumeWindow time.Duration `yaml:"resume_window"`
	Layout       LayoutConfig  `yaml:"layout"`
}

// LayoutConfig configures the plain-text compiler.
type LayoutConfig struct {
	PageWidth  float32 `yaml:"page_width"`
	PageHeight float32 `yaml:"page_height"`
	Margin     float32 `yaml:"margin"`
	FontSize   float32 `yaml:"font_size"`
	LineHeight float32 `yaml:"line_height"`
	Language   string  `yaml:"language"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:8080",
		PollInterval:   500 * time.Millisecond,
		EncodedCacheMB: 32,
		RenderCacheMB:  16,
		PageGap:        16,
		MaxSessions:    64,
		ResumeWindow:   30 * time.Second,
		Layout: LayoutConfig{
			PageWidth:  plaintext.A4.W,
			PageHeight: plaintext.A4.H,
			Margin:     56,
			FontSize:   11,
			LineHeight: 1.4,
			Language:   "en",
		},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("devserver: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("devserver: parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("devserver: listen is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("devserver: poll_interval must be > 0")
	}
	if c.EncodedCacheMB <= 0 {
		return fmt.Errorf("devserver: encoded_cache_mb must be > 0")
	}
	if c.RenderCacheMB <= 0 {
		return fmt.Errorf("devserver: render_cache_mb must be > 0")
	}
	if c.PageGap < 0 {
		return fmt.Errorf("devserver: page_gap must be >= 0")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("devserver: max_sessions must be > 0")
	}
	if c.ResumeWindow < 0 {
		return fmt.Errorf("devserver: resume_window must be >= 0")
	}
	l := c.Layout
	if l.PageWidth <= 0 || l.PageHeight <= 0 {
		return fmt.Errorf("devserver: layout: page size %vx%v must be positive", l.PageWidth, l.PageHeight)
	}
	if l.Margin < 0 || 2*l.Margin >= l.PageWidth || 2*l.Margin >= l.PageHeight {
		return fmt.Errorf("devserver: layout: margin %v does not fit the page", l.Margin)
	}
	if l.FontSize <= 0 || l.LineHeight <= 0 {
		return fmt.Errorf("devserver: layout: font_size and line_height must be > 0")
	}
	return nil
}

// CompileOptions returns the plain-text compiler options for the layout.
func (c *Config) CompileOptions() []plaintext.Option {
	l := c.Layout
	return []plaintext.Option{
		plaintext.WithPageSize(ir.Size{W: l.PageWidth, H: l.PageHeight}),
		plaintext.WithMargin(l.Margin),
		plaintext.WithFontSize(l.FontSize),
		plaintext.WithLineHeight(l.LineHeight),
		plaintext.WithLanguage(l.Language),
	}
}
