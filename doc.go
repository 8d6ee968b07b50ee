// Package vecsync keeps remote viewers of a paginated vector document in
// sync with a document that is recompiled as its source changes.
//
// # Overview
//
// A compiled document is lowered into a content-addressed vector IR
// (package ir): immutable fragments such as pages, frames, glyph runs and
// paths, each identified by a hash of its canonical encoding. Identical
// content anywhere in the document, or across successive compilations,
// shares one identity.
//
// A per-session server (incr.Server) remembers which identities a viewer has
// already received and packs only the new ones into a module stream
// (package stream). The viewer (incr.Client) merges each stream into an
// append-only store and always holds a resolvable snapshot of the document.
// The windowed renderer (package svg) then turns the part of that snapshot
// intersecting a viewport into self-contained SVG, reusing cached markup for
// fragments it has rendered before.
//
// # Data Flow
//
//	compiled document
//	  -> incr.Server.PackDelta   (server, one per session)
//	  -> []byte                  (any transport)
//	  -> incr.Client.MergeDelta  (viewer)
//	  -> svg.Renderer.RenderInWindow
//	  -> SVG markup for the viewport
//
// # Quick Start
//
//	srv := incr.NewServer()
//	cli := incr.NewClient()
//
//	delta, err := srv.PackDelta(doc)
//	if err != nil {
//	    return err // the document itself is broken
//	}
//	if err := cli.MergeDelta(delta); err != nil {
//	    // protocol error: reset both sides and resync
//	}
//	markup := svg.NewRenderer().RenderInWindow(cli, ir.Rect{MaxX: 600, MaxY: 800})
//
// # Logging
//
// The library is silent by default. SetLogger installs a *slog.Logger shared
// by every sub-package; each one logs through Component, which tags records
// with the package name.
//
// # Concurrency
//
// A Server, Client or Renderer serves a single session and is not meant to
// be driven from several goroutines at once. Independent sessions run in
// parallel freely; the only state they may share is an incr.EncodedCache or
// an svg.Cache, both safe for concurrent use.
package vecsync
