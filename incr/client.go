package incr

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/vecsync"
	"github.com/gogpu/vecsync/ir"
	"github.com/gogpu/vecsync/stream"
)

// Client mirrors the fragments a server session has sent and the latest
// document snapshot. It implements ir.Document, so a renderer can draw
// directly from it.
//
// The fragment store only grows. A merge that fails validation applies
// nothing; a merge abandoned through its context may have inserted a prefix
// of its fragments, which is harmless and completed by merging again.
type Client struct {
	store   *ir.Store
	snap    ir.Snapshot
	hasSnap bool
}

var _ ir.Document = (*Client)(nil)

// NewClient creates a client with an empty store.
func NewClient() *Client {
	return &Client{store: ir.NewStore()}
}

// MergeDelta applies a module stream produced by a Server.
func (c *Client) MergeDelta(buf []byte) error {
	return c.MergeDeltaContext(context.Background(), buf)
}

// MergeDeltaContext is MergeDelta with cancellation between fragments.
//
// Framing problems return an error matching stream.ErrFraming. Streams
// inconsistent with the client state return a *ProtocolError. In both cases
// the client is unchanged and the session owner should resync.
func (c *Client) MergeDeltaContext(ctx context.Context, buf []byte) error {
	s, err := stream.Open(buf)
	if err != nil {
		var ce *stream.ConflictError
		if errors.As(err, &ce) {
			return protocolErr(ce.ID, err, "duplicate module with different bytes")
		}
		return fmt.Errorf("incr: merge: %w", err)
	}
	return c.MergeModules(ctx, s.CheckoutOwned())
}

type pendingFragment struct {
	id      ir.ContentID
	frag    ir.Fragment
	payload []byte
}

// MergeModules applies already checked-out modules. Payloads are retained
// by the store and must not be modified afterwards.
func (c *Client) MergeModules(ctx context.Context, mods []stream.Module) error {
	pending, snap, hasSnap, err := c.validate(mods)
	if err != nil {
		return err
	}

	added := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			vecsync.Component("incr").Debug("merge interrupted", "applied", added, "pending", len(pending)-added)
			return fmt.Errorf("incr: merge: %w", err)
		}
		ok, err := c.store.Insert(p.id, p.frag, p.payload)
		if err != nil {
			// validate checked the store already.
			return protocolErr(p.id, err, "store conflict")
		}
		if ok {
			added++
		}
	}
	if hasSnap {
		c.snap = snap
		c.hasSnap = true
	}

	vecsync.Component("incr").Debug("merged delta",
		"modules", len(mods), "added", added, "snapshot", hasSnap, "store", c.store.Len())
	return nil
}

// validate decodes and checks mods against the store without mutating it.
func (c *Client) validate(mods []stream.Module) ([]pendingFragment, ir.Snapshot, bool, error) {
	var (
		snap    ir.Snapshot
		hasSnap bool
	)
	pending := make([]pendingFragment, 0, len(mods))
	index := make(map[ir.ContentID]ir.Fragment, len(mods))

	for _, m := range mods {
		if m.IRVersion != ir.Version {
			return nil, snap, false, protocolErr(m.ID, nil, "unsupported ir version %d", m.IRVersion)
		}
		if ir.Hash(m.Kind, m.Payload) != m.ID {
			return nil, snap, false, protocolErr(m.ID, nil, "content id does not match %s payload", m.Kind)
		}

		if m.Kind == ir.KindSnapshot {
			if hasSnap {
				return nil, snap, false, protocolErr(m.ID, nil, "more than one snapshot")
			}
			s, err := ir.DecodeSnapshot(m.Payload)
			if err != nil {
				return nil, snap, false, protocolErr(m.ID, err, "undecodable snapshot")
			}
			snap, hasSnap = s, true
			continue
		}
		if !m.Kind.IsFragment() {
			return nil, snap, false, protocolErr(m.ID, nil, "unexpected module kind 0x%02x", uint8(m.Kind))
		}
		if _, dup := index[m.ID]; dup {
			continue
		}
		if old, ok := c.store.Payload(m.ID); ok && string(old) != string(m.Payload) {
			return nil, snap, false, protocolErr(m.ID, ir.ErrConflict, "module differs from stored fragment")
		}

		f, err := ir.Decode(m.Kind, m.Payload)
		if err != nil {
			return nil, snap, false, protocolErr(m.ID, err, "undecodable %s", m.Kind)
		}
		index[m.ID] = f
		pending = append(pending, pendingFragment{id: m.ID, frag: f, payload: m.Payload})
	}

	resolve := func(id ir.ContentID) (ir.Fragment, bool) {
		if f, ok := index[id]; ok {
			return f, true
		}
		return c.store.Fragment(id)
	}
	for _, p := range pending {
		for _, child := range p.frag.Children() {
			if _, ok := resolve(child); !ok {
				return nil, snap, false, protocolErr(p.id, nil, "references unknown fragment %s", child)
			}
		}
	}
	if hasSnap {
		for i, ref := range snap.Pages {
			f, ok := resolve(ref.ID)
			if !ok {
				return nil, snap, false, protocolErr(ref.ID, nil, "snapshot page %d was never sent", i)
			}
			if f.Kind() != ir.KindPage {
				return nil, snap, false, protocolErr(ref.ID, nil, "snapshot page %d is a %s", i, f.Kind())
			}
		}
	}
	return pending, snap, hasSnap, nil
}

// Reset drops every fragment and the snapshot. The session must then be
// reinitialized from Server.PackCurrent.
func (c *Client) Reset() {
	c.store.Reset()
	c.snap = ir.Snapshot{}
	c.hasSnap = false
}

// Snapshot returns the current snapshot, if one has been received.
func (c *Client) Snapshot() (ir.Snapshot, bool) { return c.snap, c.hasSnap }

// Len returns the number of stored fragments.
func (c *Client) Len() int { return c.store.Len() }

// Store returns the underlying fragment store.
func (c *Client) Store() *ir.Store { return c.store }

func (c *Client) Fragment(id ir.ContentID) (ir.Fragment, bool) { return c.store.Fragment(id) }

func (c *Client) Payload(id ir.ContentID) ([]byte, bool) { return c.store.Payload(id) }

func (c *Client) Meta() ir.Meta { return c.snap.Meta }

func (c *Client) PageCount() int { return len(c.snap.Pages) }

func (c *Client) Page(i int) ir.PageRef { return c.snap.Pages[i] }

// Reachable returns the ContentIDs reachable from the current snapshot.
func (c *Client) Reachable() (map[ir.ContentID]struct{}, error) {
	return ir.Reachable(c.store, ir.PageIDs(c))
}
