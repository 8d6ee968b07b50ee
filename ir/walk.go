package ir

import (
	"errors"
	"fmt"
)

// ErrDangling is returned by Walk when a reference does not resolve.
var ErrDangling = errors.New("ir: dangling reference")

// DanglingError records an unresolved reference found during a walk.
type DanglingError struct {
	// Parent is the referencing fragment, zero for a root.
	Parent ContentID
	ID     ContentID
}

func (e *DanglingError) Error() string {
	if e.Parent.IsZero() {
		return fmt.Sprintf("ir: dangling root %s", e.ID)
	}
	return fmt.Sprintf("ir: dangling reference %s from %s", e.ID, e.Parent)
}

func (e *DanglingError) Is(target error) bool { return target == ErrDangling }

// Walk visits every fragment reachable from roots exactly once, children
// before parents. Roots are visited in order and children in encoding order,
// so the sequence is deterministic for a given graph.
//
// If skip is non-nil and returns true for an ID, that fragment and its
// subtree are not visited. This is valid when the skipped set is closed under
// children, as a session horizon is.
//
// Walk stops at the first error returned by visit, or with a *DanglingError
// when a reference does not resolve.
func Walk(r Resolver, roots []ContentID, skip func(ContentID) bool, visit func(ContentID, Fragment) error) error {
	w := walker{r: r, skip: skip, visit: visit, seen: make(map[ContentID]struct{})}
	for _, id := range roots {
		if err := w.walk(ContentID{}, id); err != nil {
			return err
		}
	}
	return nil
}

type walker struct {
	r     Resolver
	skip  func(ContentID) bool
	visit func(ContentID, Fragment) error
	seen  map[ContentID]struct{}
}

func (w *walker) walk(parent, id ContentID) error {
	if _, ok := w.seen[id]; ok {
		return nil
	}
	w.seen[id] = struct{}{}
	if w.skip != nil && w.skip(id) {
		return nil
	}

	f, ok := w.r.Fragment(id)
	if !ok {
		return &DanglingError{Parent: parent, ID: id}
	}
	for _, child := range f.Children() {
		if err := w.walk(id, child); err != nil {
			return err
		}
	}
	return w.visit(id, f)
}

// Reachable returns the set of ContentIDs reachable from roots.
func Reachable(r Resolver, roots []ContentID) (map[ContentID]struct{}, error) {
	set := make(map[ContentID]struct{})
	err := Walk(r, roots, nil, func(id ContentID, _ Fragment) error {
		set[id] = struct{}{}
		return nil
	})
	return set, err
}

// PageIDs returns the ContentIDs of the document's pages in order.
func PageIDs(doc Document) []ContentID {
	ids := make([]ContentID, doc.PageCount())
	for i := range ids {
		ids[i] = doc.Page(i).ID
	}
	return ids
}
