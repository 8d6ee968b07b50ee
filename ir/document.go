package ir

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Resolver looks fragments up by ContentID.
type Resolver interface {
	Fragment(id ContentID) (Fragment, bool)
}

// Document is a compiled document: ordered pages with declared geometry and
// a fragment graph reachable from each page. It is the boundary consumed
// from the layout engine and is also implemented by the client-side view.
type Document interface {
	Resolver

	// Meta returns document-level metadata.
	Meta() Meta

	// PageCount returns the number of pages.
	PageCount() int

	// Page returns the i-th page reference, 0 <= i < PageCount().
	Page(i int) PageRef
}

// Meta is document-level metadata.
type Meta struct {
	Title    string
	Language string
	Author   string
}

// Normalize returns m with NFC-normalized strings and a canonical language
// tag, so that equal metadata always hashes equally.
func (m Meta) Normalize() Meta {
	return Meta{
		Title:    norm.NFC.String(m.Title),
		Language: CanonicalLanguage(m.Language),
		Author:   norm.NFC.String(m.Author),
	}
}

// PageRef is a page reference with its declared geometry, so pages can be
// placed before (or without) resolving their content.
type PageRef struct {
	ID   ContentID
	Size Size
}

// Snapshot is one compiled state of a document: the ordered page list and
// metadata. It is encoded like a fragment but lives outside fragment stores.
type Snapshot struct {
	Meta  Meta
	Pages []PageRef
}

func (Snapshot) Kind() Kind { return KindSnapshot }

func (s Snapshot) Children() []ContentID {
	ids := make([]ContentID, len(s.Pages))
	for i, p := range s.Pages {
		ids[i] = p.ID
	}
	return ids
}

// SnapshotOf captures the current page list and metadata of doc.
func SnapshotOf(doc Document) Snapshot {
	n := doc.PageCount()
	s := Snapshot{Meta: doc.Meta(), Pages: make([]PageRef, n)}
	for i := range n {
		s.Pages[i] = doc.Page(i)
	}
	return s
}

// Height returns the total height of the pages stacked with gap between
// consecutive pages.
func (s Snapshot) Height(gap float32) float32 {
	var h float32
	for i, p := range s.Pages {
		if i > 0 {
			h += gap
		}
		h += p.Size.H
	}
	return h
}

// Width returns the width of the widest page.
func (s Snapshot) Width() float32 {
	var w float32
	for _, p := range s.Pages {
		w = max(w, p.Size.W)
	}
	return w
}

// NewText returns a Text fragment with normalized content and language.
func NewText(content, lang string) Text {
	return Text{
		Content: norm.NFC.String(content),
		Lang:    CanonicalLanguage(lang),
	}
}

// CanonicalLanguage returns the canonical BCP 47 form of tag. Empty input
// stays empty; unparseable input maps to "und".
func CanonicalLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return language.Und.String()
	}
	return t.String()
}
