package incr

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gogpu/vecsync/ir"
	"github.com/gogpu/vecsync/stream"
)

var a4 = ir.Size{W: 595, H: 842}

// buildDoc builds one page per argument. Each page holds a single group of
// filled paths, one per path data string.
func buildDoc(t *testing.T, pages ...[]string) *ir.PagedDocument {
	t.Helper()
	b := ir.NewBuilder()
	b.SetMeta(ir.Meta{Title: "test", Language: "en"})
	paint := b.Paint(ir.SolidPaint(ir.RGB(20, 20, 20)))
	for _, paths := range pages {
		var items []ir.Placement
		for i, d := range paths {
			id, err := b.Path(ir.Path{Data: d, Paint: paint, Box: ir.Rect{MaxX: 100, MaxY: 10}})
			if err != nil {
				t.Fatal(err)
			}
			items = append(items, ir.Translate(0, float32(i)*20, id))
		}
		group, err := b.Group(false, items...)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := b.AddPage(a4, ir.ContentID{}, ir.Translate(50, 50, group)); err != nil {
			t.Fatal(err)
		}
	}
	return b.Build()
}

// leafDoc builds pages that each hold one leaf frame.
func leafDoc(t *testing.T, frames ...string) *ir.PagedDocument {
	t.Helper()
	b := ir.NewBuilder()
	for _, d := range frames {
		frame, err := b.Path(ir.Path{Data: d, Box: ir.Rect{MaxX: 200, MaxY: 40}})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := b.AddPage(a4, ir.ContentID{}, ir.Translate(72, 72, frame)); err != nil {
			t.Fatal(err)
		}
	}
	return b.Build()
}

func openModules(t *testing.T, buf []byte) []stream.Module {
	t.Helper()
	s, err := stream.Open(buf)
	if err != nil {
		t.Fatalf("stream.Open() error = %v", err)
	}
	return s.CheckoutOwned()
}

func countKinds(mods []stream.Module) (fragments, snapshots int) {
	for _, m := range mods {
		if m.Kind == ir.KindSnapshot {
			snapshots++
		} else {
			fragments++
		}
	}
	return fragments, snapshots
}

func TestFirstContactAndAppendedPage(t *testing.T) {
	srv := NewServer()
	cli := NewClient()

	docA := leafDoc(t, "M0 0 H200 V40 H0 Z")
	if err := srv.SetDocument(docA); err != nil {
		t.Fatal(err)
	}
	buf, err := srv.PackCurrent()
	if err != nil {
		t.Fatalf("PackCurrent() error = %v", err)
	}
	mods := openModules(t, buf)
	frags, snaps := countKinds(mods)
	if frags != 2 || snaps != 1 {
		t.Fatalf("PackCurrent() = %d fragment + %d snapshot modules, want 2 + 1", frags, snaps)
	}
	if mods[0].Kind != ir.KindPath || mods[1].Kind != ir.KindPage {
		t.Errorf("module order = %s, %s; want Path, Page", mods[0].Kind, mods[1].Kind)
	}

	if err := cli.MergeDelta(buf); err != nil {
		t.Fatalf("MergeDelta() error = %v", err)
	}
	if cli.Len() != 2 {
		t.Errorf("client store size = %d, want 2", cli.Len())
	}
	if cli.PageCount() != 1 {
		t.Fatalf("PageCount() = %d, want 1", cli.PageCount())
	}
	if _, ok := cli.Fragment(cli.Page(0).ID); !ok {
		t.Error("page does not resolve")
	}
	frameA := mods[0].ID

	docB := leafDoc(t, "M0 0 H200 V40 H0 Z", "M0 0 H100 V40 H0 Z")
	buf, err = srv.PackDelta(docB)
	if err != nil {
		t.Fatalf("PackDelta() error = %v", err)
	}
	mods = openModules(t, buf)
	if len(mods) != 3 {
		t.Fatalf("PackDelta() = %d modules, want 3", len(mods))
	}
	wantKinds := []ir.Kind{ir.KindPath, ir.KindPage, ir.KindSnapshot}
	for i, m := range mods {
		if m.Kind != wantKinds[i] {
			t.Errorf("module %d kind = %s, want %s", i, m.Kind, wantKinds[i])
		}
		if m.ID == frameA {
			t.Error("unchanged frame was re-sent")
		}
	}

	if err := cli.MergeDelta(buf); err != nil {
		t.Fatalf("MergeDelta() error = %v", err)
	}
	if cli.PageCount() != 2 || cli.Len() != 4 {
		t.Errorf("client has %d pages, %d fragments; want 2, 4", cli.PageCount(), cli.Len())
	}
}

func TestPackDeltaDeterministic(t *testing.T) {
	doc := buildDoc(t, []string{"M0 0 L1 1", "M0 0 L2 2"}, []string{"M0 0 L3 3"})
	a, err := NewServer().PackDelta(doc)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewServer().PackDelta(doc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical sessions produced different deltas")
	}

	// A document rebuilt from scratch hashes identically.
	doc2 := buildDoc(t, []string{"M0 0 L1 1", "M0 0 L2 2"}, []string{"M0 0 L3 3"})
	c, _ := NewServer().PackDelta(doc2)
	if !bytes.Equal(a, c) {
		t.Error("rebuilt document produced a different delta")
	}
}

func TestDedupAcrossDocuments(t *testing.T) {
	shared := "M5 5 L6 6"
	d1 := buildDoc(t, []string{shared, "M0 0 L1 1"})
	d2 := buildDoc(t, []string{"M9 9 L8 8"}, []string{shared})

	srv := NewServer()
	seen := make(map[ir.ContentID]int)
	for _, doc := range []*ir.PagedDocument{d1, d2} {
		buf, err := srv.PackDelta(doc)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range openModules(t, buf) {
			seen[m.ID]++
		}
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("module %s sent %d times", id.Short(), n)
		}
	}

	sharedID := ir.ID(ir.Path{Data: shared, Paint: ir.ID(ir.SolidPaint(ir.RGB(20, 20, 20))), Box: ir.Rect{MaxX: 100, MaxY: 10}})
	if seen[sharedID] != 1 {
		t.Errorf("shared path sent %d times, want 1", seen[sharedID])
	}
}

func TestUnchangedDocumentYieldsEmptyDelta(t *testing.T) {
	doc := buildDoc(t, []string{"M0 0 L1 1"})
	srv := NewServer()
	cli := NewClient()
	first, _ := srv.PackDelta(doc)
	if err := cli.MergeDelta(first); err != nil {
		t.Fatal(err)
	}

	buf, err := srv.PackDelta(buildDoc(t, []string{"M0 0 L1 1"}))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(openModules(t, buf)); n != 0 {
		t.Errorf("unchanged document produced %d modules", n)
	}
	if err := cli.MergeDelta(buf); err != nil {
		t.Errorf("merging an empty delta: %v", err)
	}
	if cli.PageCount() != 1 {
		t.Error("empty delta must keep the snapshot")
	}
}

func TestReorderedPagesSendOnlySnapshot(t *testing.T) {
	srv := NewServer()
	if _, err := srv.PackDelta(buildDoc(t, []string{"M1 1"}, []string{"M2 2"})); err != nil {
		t.Fatal(err)
	}
	buf, err := srv.PackDelta(buildDoc(t, []string{"M2 2"}, []string{"M1 1"}))
	if err != nil {
		t.Fatal(err)
	}
	mods := openModules(t, buf)
	if len(mods) != 1 || mods[0].Kind != ir.KindSnapshot {
		t.Errorf("reordering pages should send only the snapshot, got %d modules", len(mods))
	}
}

func TestIdempotentMerge(t *testing.T) {
	buf, err := NewServer().PackDelta(buildDoc(t, []string{"M0 0 L1 1", "M1 1 L2 2"}))
	if err != nil {
		t.Fatal(err)
	}
	cli := NewClient()
	if err := cli.MergeDelta(buf); err != nil {
		t.Fatal(err)
	}
	ids := cli.Store().IDs()
	snap, _ := cli.Snapshot()

	if err := cli.MergeDelta(buf); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	again := cli.Store().IDs()
	if len(again) != len(ids) {
		t.Fatalf("store grew from %d to %d", len(ids), len(again))
	}
	for i := range ids {
		if ids[i] != again[i] {
			t.Fatal("store contents changed")
		}
	}
	snap2, _ := cli.Snapshot()
	if ir.ID(snap) != ir.ID(snap2) {
		t.Error("snapshot changed")
	}
}

func TestResyncEquivalence(t *testing.T) {
	docs := []*ir.PagedDocument{
		buildDoc(t, []string{"M0 0 L1 1"}),
		buildDoc(t, []string{"M0 0 L1 1"}, []string{"M2 2 L3 3"}),
		buildDoc(t, []string{"M0 0 L1 1", "M4 4"}, []string{"M2 2 L3 3"}),
		buildDoc(t, []string{"M2 2 L3 3"}),
	}

	srv := NewServer()
	replayed := NewClient()
	for _, doc := range docs {
		buf, err := srv.PackDelta(doc)
		if err != nil {
			t.Fatal(err)
		}
		if err := replayed.MergeDelta(buf); err != nil {
			t.Fatal(err)
		}
	}

	buf, err := srv.PackCurrent()
	if err != nil {
		t.Fatal(err)
	}
	fresh := NewClient()
	if err := fresh.MergeDelta(buf); err != nil {
		t.Fatal(err)
	}

	s1, _ := replayed.Snapshot()
	s2, _ := fresh.Snapshot()
	if ir.ID(s1) != ir.ID(s2) {
		t.Fatal("snapshots differ after resync")
	}
	r1, err := replayed.Reachable()
	if err != nil {
		t.Fatal(err)
	}
	r2, err := fresh.Reachable()
	if err != nil {
		t.Fatal(err)
	}
	if len(r1) != len(r2) {
		t.Fatalf("reachable sets differ: %d vs %d", len(r1), len(r2))
	}
	for id := range r2 {
		p1, _ := replayed.Payload(id)
		p2, _ := fresh.Payload(id)
		if !bytes.Equal(p1, p2) {
			t.Errorf("fragment %s differs", id.Short())
		}
	}
	if fresh.Len() != len(r2) {
		t.Errorf("PackCurrent sent %d fragments, want exactly the %d reachable ones", fresh.Len(), len(r2))
	}
	if srv.Horizon() != len(r2) {
		t.Errorf("Horizon() = %d after PackCurrent, want %d", srv.Horizon(), len(r2))
	}
}

func TestPackCurrentWithoutDocument(t *testing.T) {
	buf, err := NewServer().PackCurrent()
	if err != nil {
		t.Fatal(err)
	}
	if n := len(openModules(t, buf)); n != 0 {
		t.Errorf("PackCurrent() without document = %d modules", n)
	}
}

func TestServerReset(t *testing.T) {
	doc := buildDoc(t, []string{"M0 0 L1 1"})
	srv := NewServer()
	first, _ := srv.PackDelta(doc)
	srv.Reset()
	if srv.Horizon() != 0 {
		t.Fatalf("Horizon() = %d after Reset", srv.Horizon())
	}
	again, err := srv.PackDelta(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(openModules(t, again)) != len(openModules(t, first)) {
		t.Error("delta after Reset should resend the whole document")
	}
	if st := srv.Stats(); st.Deltas != 2 || st.Bytes != len(first)+len(again) {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestPackDeltaInvalidDocument(t *testing.T) {
	store := ir.NewStore()
	missing := ir.ID(ir.Path{Data: "M0 0"})
	page := store.Add(ir.Page{Size: a4, Items: []ir.Placement{ir.Translate(0, 0, missing)}})
	bad := ir.NewDocument(store, ir.Meta{}, []ir.PageRef{{ID: page, Size: a4}})

	srv := NewServer()
	good := buildDoc(t, []string{"M0 0 L1 1"})
	if _, err := srv.PackDelta(good); err != nil {
		t.Fatal(err)
	}
	before := srv.Stats()

	_, err := srv.PackDelta(bad)
	if !errors.Is(err, ErrInvalidDocument) || !errors.Is(err, ir.ErrDangling) {
		t.Fatalf("PackDelta() error = %v, want ErrInvalidDocument wrapping ErrDangling", err)
	}
	if srv.Stats() != before || srv.Document() != ir.Document(good) {
		t.Error("failed PackDelta must leave the session untouched")
	}

	notPage := ir.NewDocument(store, ir.Meta{}, []ir.PageRef{{ID: store.Add(ir.Text{Content: "x"})}})
	if _, err := srv.PackDelta(notPage); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("page list pointing at text: error = %v", err)
	}
	if err := srv.SetDocument(bad); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("SetDocument() error = %v", err)
	}
}

func TestMergeRejectsUnknownReferences(t *testing.T) {
	srv := NewServer()
	if _, err := srv.PackDelta(buildDoc(t, []string{"M0 0 L1 1"})); err != nil {
		t.Fatal(err)
	}
	// The second delta assumes the client holds the first.
	buf, err := srv.PackDelta(buildDoc(t, []string{"M0 0 L1 1"}, []string{"M5 5"}))
	if err != nil {
		t.Fatal(err)
	}

	cli := NewClient()
	err = cli.MergeDelta(buf)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("MergeDelta() error = %v, want ErrProtocol", err)
	}
	if cli.Len() != 0 || cli.PageCount() != 0 {
		t.Error("rejected delta must not be applied")
	}
}

func TestMergeProtocolErrors(t *testing.T) {
	txt := ir.Text{Content: "hello"}
	payload := ir.Encode(txt)
	id := ir.Hash(ir.KindText, payload)
	good := stream.Module{ID: id, Kind: ir.KindText, IRVersion: ir.Version, Payload: payload}

	snapPayload := ir.Encode(ir.Snapshot{Pages: []ir.PageRef{{ID: id}}})
	pageIsText := stream.Module{
		ID:        ir.Hash(ir.KindSnapshot, snapPayload),
		Kind:      ir.KindSnapshot,
		IRVersion: ir.Version,
		Payload:   snapPayload,
	}
	emptySnap := ir.Encode(ir.Snapshot{})
	snapModule := stream.Module{ID: ir.Hash(ir.KindSnapshot, emptySnap), Kind: ir.KindSnapshot, IRVersion: ir.Version, Payload: emptySnap}

	tests := []struct {
		name string
		mods []stream.Module
	}{
		{"hash mismatch", []stream.Module{{ID: id, Kind: ir.KindText, IRVersion: ir.Version, Payload: []byte("tampered")}}},
		{"future ir version", []stream.Module{{ID: id, Kind: ir.KindText, IRVersion: ir.Version + 1, Payload: payload}}},
		{"unknown kind", []stream.Module{{ID: ir.Hash(0x7e, payload), Kind: 0x7e, IRVersion: ir.Version, Payload: payload}}},
		{"page is not a page", []stream.Module{good, pageIsText}},
		{"two snapshots", []stream.Module{snapModule, pageIsText}},
		{"undecodable", []stream.Module{{ID: ir.Hash(ir.KindGlyphRun, nil), Kind: ir.KindGlyphRun, IRVersion: ir.Version}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := stream.Encode(tt.mods)
			if err != nil {
				t.Fatal(err)
			}
			cli := NewClient()
			err = cli.MergeDelta(buf)
			var pe *ProtocolError
			if !errors.As(err, &pe) || !errors.Is(err, ErrProtocol) {
				t.Fatalf("MergeDelta() error = %v, want *ProtocolError", err)
			}
			if cli.Len() != 0 {
				t.Error("nothing may be applied on a protocol error")
			}
		})
	}
}

func TestMergeConflictAndFraming(t *testing.T) {
	txt := ir.Text{Content: "hello"}
	payload := ir.Encode(txt)
	id := ir.Hash(ir.KindText, payload)
	m := stream.Module{ID: id, Kind: ir.KindText, IRVersion: ir.Version, Payload: payload}
	bad := m
	bad.Payload = []byte("different")

	buf, _ := stream.Encode([]stream.Module{m, bad})
	err := NewClient().MergeDelta(buf)
	if !errors.Is(err, ErrProtocol) || !errors.Is(err, stream.ErrConflict) {
		t.Errorf("conflicting duplicate: error = %v", err)
	}

	good, _ := stream.Encode([]stream.Module{m})
	err = NewClient().MergeDelta(good[:len(good)-2])
	if !errors.Is(err, stream.ErrFraming) {
		t.Errorf("truncated stream: error = %v, want ErrFraming", err)
	}
	if errors.Is(err, ErrProtocol) {
		t.Error("framing errors are not protocol errors")
	}
}

func TestMergeCancellation(t *testing.T) {
	buf, err := NewServer().PackDelta(buildDoc(t, []string{"M0 0 L1 1", "M2 2"}))
	if err != nil {
		t.Fatal(err)
	}
	cli := NewClient()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = cli.MergeDeltaContext(ctx, buf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("MergeDeltaContext() error = %v, want context.Canceled", err)
	}
	if _, ok := cli.Snapshot(); ok {
		t.Error("an interrupted merge must not install the snapshot")
	}

	if err := cli.MergeDelta(buf); err != nil {
		t.Fatalf("resumed merge: %v", err)
	}
	if _, err := cli.Reachable(); err != nil {
		t.Errorf("resumed merge left dangling references: %v", err)
	}
}

func TestClientReset(t *testing.T) {
	buf, _ := NewServer().PackDelta(buildDoc(t, []string{"M0 0 L1 1"}))
	cli := NewClient()
	if err := cli.MergeDelta(buf); err != nil {
		t.Fatal(err)
	}
	cli.Reset()
	if cli.Len() != 0 || cli.PageCount() != 0 {
		t.Error("Reset() should clear store and snapshot")
	}
	if _, ok := cli.Snapshot(); ok {
		t.Error("Reset() should drop the snapshot")
	}
}

// opaqueDoc hides the payloads of a document so the server has to encode.
type opaqueDoc struct{ ir.Document }

func TestSharedEncodedCache(t *testing.T) {
	doc := opaqueDoc{buildDoc(t, []string{"M0 0 L1 1", "M2 2"})}
	cache := NewEncodedCache(1)

	a, err := NewServer(WithEncodedCache(cache)).PackDelta(doc)
	if err != nil {
		t.Fatal(err)
	}
	misses := cache.Stats().Misses
	b, err := NewServer(WithEncodedCache(cache)).PackDelta(doc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("cached encodings changed the delta")
	}
	st := cache.Stats()
	if st.Misses != misses || st.Hits == 0 {
		t.Errorf("second session should hit the cache: %+v", st)
	}
}

func TestEncodedCacheEviction(t *testing.T) {
	c := NewEncodedCache(1)
	shardBudget := c.maxShard

	var id1, id2 ir.ContentID
	id2[1] = 1 // same shard as id1
	c.Put(id1, make([]byte, shardBudget/2+1))
	c.Put(id2, make([]byte, shardBudget/2+1))

	if _, ok := c.Get(id1); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get(id2); !ok {
		t.Error("newest entry should be cached")
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", c.Stats().Evictions)
	}

	var big ir.ContentID
	big[0] = 3
	c.Put(big, make([]byte, shardBudget+1))
	if _, ok := c.Get(big); ok {
		t.Error("oversized payload should not be cached")
	}

	c.Clear()
	if c.Len() != 0 || c.Size() != 0 {
		t.Error("Clear() should empty the cache")
	}
}
