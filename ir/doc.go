// Package ir defines the content-addressed vector intermediate representation
// of a compiled, paginated document.
//
// A document is a DAG of immutable fragments. Every fragment is identified by
// a [ContentID] computed from its canonical encoding, and references its
// children by ContentID rather than by pointer:
//
//	Snapshot ─▶ Page ─▶ Group ─▶ GlyphRun ─▶ Font, Paint, Text, Glyph...
//	                  └▶ Path ─▶ Paint
//
// Structurally identical fragments anywhere in a document (or across
// successive compilations) share one ContentID, which is what makes
// incremental synchronization cheap: a peer that already holds a ContentID
// never needs its bytes again.
//
// Fragments are created through a [Builder], which interns them into a
// [Store] and computes bounding boxes bottom-up. Because a fragment can only
// reference children that were interned before it, the graph is acyclic by
// construction.
//
// # Encoding
//
// [Encode] produces the canonical, deterministic byte form of a fragment
// using protobuf wire primitives with a fixed field order. [Decode] reverses
// it and skips unknown fields, so the fragment encoding ([Version]) can
// evolve independently of the module stream framing.
package ir
