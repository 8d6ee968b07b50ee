// Package incr implements incremental synchronization of a compiled document
// between a server and a remote viewer.
//
// A Server holds the horizon of one session: the ContentIDs the viewer has
// already received. Each PackDelta call walks the new document, skipping
// everything inside the horizon, and emits a module stream holding only new
// fragments, followed by the document snapshot when it changed. A Client
// merges those streams into an append-only store and exposes the result as
// an ir.Document.
//
// Both sides are single-session and not safe for concurrent use. Sessions
// may share an EncodedCache, which is.
package incr

import (
	"errors"
	"fmt"

	"github.com/gogpu/vecsync"
	"github.com/gogpu/vecsync/ir"
	"github.com/gogpu/vecsync/stream"
)

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	cache *EncodedCache
}

// WithEncodedCache shares cache of fragment encodings with other sessions.
func WithEncodedCache(cache *EncodedCache) ServerOption {
	return func(o *serverOptions) {
		o.cache = cache
	}
}

// Stats reports the activity of a Server.
type Stats struct {
	// Deltas is the number of streams packed, PackCurrent included.
	Deltas int
	// Modules is the total number of modules sent.
	Modules int
	// Bytes is the total size of the streams sent.
	Bytes int
	// Horizon is the current number of ContentIDs known to the viewer.
	Horizon int
}

// Server computes deltas for one viewer session.
type Server struct {
	cache *EncodedCache

	doc      ir.Document
	horizon  map[ir.ContentID]struct{}
	lastSnap ir.ContentID // zero until a snapshot has been sent
	seq      uint32

	stats Stats
}

// NewServer creates a session with an empty horizon.
func NewServer(opts ...ServerOption) *Server {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		cache:   o.cache,
		horizon: make(map[ir.ContentID]struct{}),
	}
}

// SetDocument makes doc the current document without packing anything. It
// fails with ErrInvalidDocument when doc references fragments it does not
// contain.
func (s *Server) SetDocument(doc ir.Document) error {
	if err := validatePages(doc); err != nil {
		return err
	}
	if _, err := ir.Reachable(doc, ir.PageIDs(doc)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	s.doc = doc
	return nil
}

// Document returns the current document, or nil.
func (s *Server) Document() ir.Document { return s.doc }

// PackCurrent packs every module needed to rebuild the current document on
// an empty client, whatever the horizon holds. The horizon becomes exactly
// the set of transmitted ContentIDs. Without a current document the result
// is an empty stream.
func (s *Server) PackCurrent() ([]byte, error) {
	if s.doc == nil {
		return stream.Encode(nil)
	}
	p, err := s.pack(s.doc, false)
	if err != nil {
		return nil, err
	}
	buf, err := stream.Encode(p.modules)
	if err != nil {
		return nil, err
	}
	s.horizon = make(map[ir.ContentID]struct{}, len(p.fresh))
	s.commit(s.doc, p, buf)
	vecsync.Component("incr").Debug("packed current",
		"modules", len(p.modules), "bytes", len(buf), "horizon", len(s.horizon))
	return buf, nil
}

// PackDelta makes doc the current document and packs the modules the viewer
// is missing: fragments outside the horizon, in post-order, then the
// snapshot if it differs from the last one sent. When nothing changed the
// stream holds no modules.
//
// If doc references a fragment it does not contain, PackDelta returns an
// error matching ErrInvalidDocument and leaves the session untouched.
func (s *Server) PackDelta(doc ir.Document) ([]byte, error) {
	p, err := s.pack(doc, true)
	if err != nil {
		return nil, err
	}
	buf, err := stream.Encode(p.modules)
	if err != nil {
		return nil, err
	}
	s.commit(doc, p, buf)
	vecsync.Component("incr").Debug("packed delta",
		"modules", len(p.modules), "fragments", len(p.fresh),
		"snapshot", p.snapChanged, "bytes", len(buf), "horizon", len(s.horizon))
	return buf, nil
}

// Horizon returns the number of ContentIDs the viewer is known to hold.
func (s *Server) Horizon() int { return len(s.horizon) }

// Known reports whether id is inside the horizon.
func (s *Server) Known(id ir.ContentID) bool {
	_, ok := s.horizon[id]
	return ok
}

// Reset forgets what the viewer holds, so the next PackDelta resends the
// whole document. The current document is kept.
func (s *Server) Reset() {
	s.horizon = make(map[ir.ContentID]struct{})
	s.lastSnap = ir.ContentID{}
}

// Stats returns session counters.
func (s *Server) Stats() Stats {
	st := s.stats
	st.Horizon = len(s.horizon)
	return st
}

type packed struct {
	modules     []stream.Module
	fresh       []ir.ContentID
	snapID      ir.ContentID
	snapChanged bool
}

func (s *Server) pack(doc ir.Document, useHorizon bool) (*packed, error) {
	if err := validatePages(doc); err != nil {
		return nil, err
	}

	var skip func(ir.ContentID) bool
	if useHorizon {
		skip = s.Known
	}
	src, _ := doc.(ir.PayloadSource)

	p := &packed{}
	seq := s.seq
	err := ir.Walk(doc, ir.PageIDs(doc), skip, func(id ir.ContentID, f ir.Fragment) error {
		p.modules = append(p.modules, stream.Module{
			ID:        id,
			Kind:      f.Kind(),
			IRVersion: ir.Version,
			Seq:       seq,
			Payload:   s.payload(src, id, f),
		})
		p.fresh = append(p.fresh, id)
		seq++
		return nil
	})
	if err != nil {
		if errors.Is(err, ir.ErrDangling) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}
		return nil, err
	}

	snap := ir.SnapshotOf(doc)
	payload := ir.Encode(snap)
	p.snapID = ir.Hash(ir.KindSnapshot, payload)
	p.snapChanged = !useHorizon || p.snapID != s.lastSnap
	if p.snapChanged {
		p.modules = append(p.modules, stream.Module{
			ID:        p.snapID,
			Kind:      ir.KindSnapshot,
			IRVersion: ir.Version,
			Seq:       seq,
			Payload:   payload,
		})
	}
	return p, nil
}

func (s *Server) payload(src ir.PayloadSource, id ir.ContentID, f ir.Fragment) []byte {
	if src != nil {
		if b, ok := src.Payload(id); ok {
			return b
		}
	}
	if s.cache != nil {
		return s.cache.Encode(id, f)
	}
	return ir.Encode(f)
}

func (s *Server) commit(doc ir.Document, p *packed, buf []byte) {
	for _, id := range p.fresh {
		s.horizon[id] = struct{}{}
	}
	s.doc = doc
	s.lastSnap = p.snapID
	s.seq += uint32(len(p.modules))
	s.stats.Deltas++
	s.stats.Modules += len(p.modules)
	s.stats.Bytes += len(buf)
}

// validatePages checks that every page reference resolves to a Page.
func validatePages(doc ir.Document) error {
	for i := range doc.PageCount() {
		ref := doc.Page(i)
		f, ok := doc.Fragment(ref.ID)
		if !ok {
			return fmt.Errorf("%w: page %d: %w", ErrInvalidDocument, i, &ir.DanglingError{ID: ref.ID})
		}
		if f.Kind() != ir.KindPage {
			return fmt.Errorf("%w: page %d is a %s", ErrInvalidDocument, i, f.Kind())
		}
	}
	return nil
}
