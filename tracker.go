package observable

import (
	"maps"
	"reflect"
	"slices"

	"github.com/goliatone/go-observable/pkg/kpath"
)

// node is implemented by *Map and *Seq.
type node interface {
	Path() string
	detach()
	rawValue() any
}

// tracker is the PathTracker of one instance. It records which raw mappings
// and sequences are attached to the tree (owned) and which of them currently
// have a wrapper (nodes). Identities are the map header pointer and the
// sequence backing-array pointer; sequences without capacity have no identity
// and cannot alias.
//
// Sub-slices of one array start at different pointers, so owned sequences
// also keep the end of their capacity (spans). A sequence whose capacity
// overlaps an owned one is an alias even when the start pointers differ.
type tracker struct {
	owned map[uintptr]string
	spans map[uintptr]uintptr
	nodes map[uintptr]node
}

func newTracker() *tracker {
	return &tracker{
		owned: map[uintptr]string{},
		spans: map[uintptr]uintptr{},
		nodes: map[uintptr]node{},
	}
}

func identity(v any) (uintptr, bool) {
	switch typed := v.(type) {
	case map[string]any:
		if typed == nil {
			return 0, false
		}
		return reflect.ValueOf(typed).Pointer(), true
	case []any:
		if cap(typed) == 0 {
			return 0, false
		}
		return reflect.ValueOf(typed).Pointer(), true
	default:
		return 0, false
	}
}

// extent returns the address range covered by the capacity of a sequence.
func extent(v any) (start, end uintptr, ok bool) {
	seq, isSeq := v.([]any)
	if !isSeq || cap(seq) == 0 {
		return 0, 0, false
	}
	start = reflect.ValueOf(seq).Pointer()
	return start, start + uintptr(cap(seq))*reflect.TypeOf(seq).Elem().Size(), true
}

func overlaps(spans map[uintptr]uintptr, start, end uintptr, skip func(uintptr) bool) (uintptr, bool) {
	for id, e := range spans {
		if id != start && id < end && start < e && !skip(id) {
			return id, true
		}
	}
	return 0, false
}

func sameContainer(a, b any) bool {
	ida, oka := identity(a)
	idb, okb := identity(b)
	return oka && okb && ida == idb
}

// claim is a pending ownership change produced by check and applied by
// commit.
type claim struct {
	paths map[uintptr]string
	spans map[uintptr]uintptr
}

// check walks values (attached at the matching paths) and reports an
// AliasError if any mapping or sequence in them is already owned, shares
// backing storage with an owned sequence, or appears twice. Identities listed
// in free are about to be released by the caller and do not conflict.
func (t *tracker) check(values []any, paths []string, free map[uintptr]struct{}) (claim, error) {
	pending := claim{paths: map[uintptr]string{}, spans: map[uintptr]uintptr{}}
	releasing := func(id uintptr) bool {
		_, ok := free[id]
		return ok
	}
	var walk func(v any, path string) error
	walk = func(v any, path string) error {
		if id, ok := identity(v); ok {
			if first, taken := t.owned[id]; taken && !releasing(id) {
				return &AliasError{Path: path, FirstPath: first}
			}
			if first, dup := pending.paths[id]; dup {
				return &AliasError{Path: path, FirstPath: first}
			}
			if start, end, isSeq := extent(v); isSeq {
				if other, hit := overlaps(t.spans, start, end, releasing); hit {
					return &AliasError{Path: path, FirstPath: t.owned[other]}
				}
				never := func(uintptr) bool { return false }
				if other, hit := overlaps(pending.spans, start, end, never); hit {
					return &AliasError{Path: path, FirstPath: pending.paths[other]}
				}
				pending.spans[id] = end
			}
			pending.paths[id] = path
		}
		switch typed := v.(type) {
		case map[string]any:
			for _, key := range slices.Sorted(maps.Keys(typed)) {
				if err := walk(typed[key], kpath.Join(path, key)); err != nil {
					return err
				}
			}
		case []any:
			for i, child := range typed {
				if err := walk(child, kpath.JoinIndex(path, i)); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for i, v := range values {
		if err := walk(v, paths[i]); err != nil {
			return claim{}, err
		}
	}
	return pending, nil
}

func (t *tracker) commit(c claim) {
	for id, path := range c.paths {
		t.owned[id] = path
	}
	for id, end := range c.spans {
		t.spans[id] = end
	}
}

// reclaim re-records the owner paths of items[from:] and everything below
// them. Sequence operations that move elements to new indices call it so that
// owned paths and alias errors name current positions.
func (t *tracker) reclaim(path string, items []any, from int) {
	var walk func(v any, p string)
	walk = func(v any, p string) {
		if id, ok := identity(v); ok {
			t.owned[id] = p
		}
		switch typed := v.(type) {
		case map[string]any:
			for key, child := range typed {
				walk(child, kpath.Join(p, key))
			}
		case []any:
			for i, child := range typed {
				walk(child, kpath.JoinIndex(p, i))
			}
		}
	}
	for i := from; i < len(items); i++ {
		walk(items[i], kpath.JoinIndex(path, i))
	}
}

// collect returns the identities of every mapping and sequence in values.
func collect(values ...any) map[uintptr]struct{} {
	ids := map[uintptr]struct{}{}
	var walk func(v any)
	walk = func(v any) {
		id, ok := identity(v)
		if ok {
			if _, seen := ids[id]; seen {
				return
			}
			ids[id] = struct{}{}
		}
		switch typed := v.(type) {
		case map[string]any:
			for _, child := range typed {
				walk(child)
			}
		case []any:
			for _, child := range typed {
				walk(child)
			}
		}
	}
	for _, v := range values {
		walk(v)
	}
	return ids
}

// release drops ownership of everything in values and detaches their
// wrappers.
func (t *tracker) release(values ...any) {
	for id := range collect(values...) {
		delete(t.owned, id)
		delete(t.spans, id)
		if n, ok := t.nodes[id]; ok {
			n.detach()
		}
	}
}

// forget removes n from the wrapper index without touching ownership.
func (t *tracker) forget(n node) {
	id, ok := identity(n.rawValue())
	if !ok {
		return
	}
	if t.nodes[id] == n {
		delete(t.nodes, id)
	}
}

// rebind moves a sequence's registration after its backing array changed.
func (t *tracker) rebind(n node, path string, oldID uintptr, hadOld bool) {
	newID, hasNew := identity(n.rawValue())
	if hadOld == hasNew && oldID == newID {
		return
	}
	if hadOld {
		delete(t.owned, oldID)
		delete(t.spans, oldID)
		if t.nodes[oldID] == n {
			delete(t.nodes, oldID)
		}
	}
	if hasNew {
		t.owned[newID] = path
		t.nodes[newID] = n
		if _, end, ok := extent(n.rawValue()); ok {
			t.spans[newID] = end
		}
	}
}

// lookup returns the live wrapper registered for v at path. A wrapper
// registered under a different path is stale: ownership guarantees v has one
// position, so the old wrapper is detached and nil is returned.
func (t *tracker) lookup(v any, path string) node {
	id, ok := identity(v)
	if !ok {
		return nil
	}
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	if n.Path() == path {
		return n
	}
	n.detach()
	return nil
}

func (t *tracker) register(n node) {
	if id, ok := identity(n.rawValue()); ok {
		t.nodes[id] = n
	}
}
