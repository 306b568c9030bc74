package observable

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/goliatone/go-observable/layering"
	"github.com/goliatone/go-observable/pkg/kpath"
)

// Seq is the observable wrapper of a raw []any. Element writes and in-place
// operations are recorded in the instance's patch batch: element writes and
// tail appends as per-index entries, everything else as a snapshot of the
// whole sequence. Elements are wrapped lazily on read.
//
// Operations that shift indices detach every wrapper obtained from the
// sequence before the call; reading the element again returns a fresh
// wrapper bound to its new index.
//
// NOT thread-safe. A Seq belongs to the logical thread of its instance.
type Seq struct {
	inst     *Instance
	raw      []any
	path     string
	slot     slot
	items    map[int]node
	id       uintptr
	hasID    bool
	detached bool
}

func newSeq(inst *Instance, raw []any, path string, parent slot) *Seq {
	s := &Seq{
		inst:  inst,
		raw:   raw,
		path:  path,
		slot:  parent,
		items: map[int]node{},
	}
	s.id, s.hasID = identity(raw)
	inst.tracker.register(s)
	return s
}

// Path returns the root-relative path of the sequence.
func (s *Seq) Path() string { return s.path }

// Detached reports whether the sequence has left its instance's tree.
func (s *Seq) Detached() bool { return s.detached }

// Len returns the number of elements.
func (s *Seq) Len() int { return len(s.raw) }

// Raw returns the live underlying slice. Index writes made directly to it
// bypass change tracking, and it may be replaced by the next operation that
// grows the sequence.
func (s *Seq) Raw() []any { return s.raw }

// Values returns a deep copy of the elements.
func (s *Seq) Values() []any {
	return layering.CloneSlice(s.raw)
}

// GetItem returns the element at index i, wrapped when it is a mapping or a
// sequence.
func (s *Seq) GetItem(i int) (any, bool) {
	if i < 0 || i >= len(s.raw) {
		return nil, false
	}
	return s.item(i), true
}

// Map returns element i as a wrapped mapping.
func (s *Seq) Map(i int) (*Map, bool) {
	v, ok := s.GetItem(i)
	if !ok {
		return nil, false
	}
	child, ok := v.(*Map)
	return child, ok
}

// Seq returns element i as a wrapped sequence.
func (s *Seq) Seq(i int) (*Seq, bool) {
	v, ok := s.GetItem(i)
	if !ok {
		return nil, false
	}
	child, ok := v.(*Seq)
	return child, ok
}

func (s *Seq) item(i int) any {
	if child, ok := s.items[i]; ok {
		return child
	}
	v := s.raw[i]
	if s.detached {
		return v
	}
	child := s.inst.wrap(v, kpath.JoinIndex(s.path, i), seqSlot{s: s, index: i})
	if child == nil {
		return v
	}
	s.items[i] = child
	return child
}

// SetItem assigns value at index i and records {path[i]: value}. Writing at
// or past the end extends the sequence, filling any gap with nil.
func (s *Seq) SetItem(i int, value any) error {
	s.mustBeAttached()
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	raw := unwrap(value)
	itemPath := kpath.JoinIndex(s.path, i)
	t := s.inst.tracker

	if i < len(s.raw) {
		old := s.raw[i]
		if !sameContainer(old, raw) {
			pending, err := t.check([]any{raw}, []string{itemPath}, collect(old))
			if err != nil {
				return err
			}
			if child, ok := s.items[i]; ok {
				child.detach()
				delete(s.items, i)
			}
			t.release(old)
			t.commit(pending)
			s.raw[i] = raw
		}
		s.inst.record(itemPath, raw)
		return nil
	}

	pending, err := t.check([]any{raw}, []string{itemPath}, nil)
	if err != nil {
		return err
	}
	for len(s.raw) < i {
		s.raw = append(s.raw, nil)
	}
	s.raw = append(s.raw, raw)
	s.sync()
	t.commit(pending)
	s.inst.record(itemPath, raw)
	return nil
}

// Push appends values and returns the new length. Each appended element is
// recorded at its own index.
func (s *Seq) Push(values ...any) (int, error) {
	s.mustBeAttached()
	if len(values) == 0 {
		return len(s.raw), nil
	}
	raws, paths := s.prepare(len(s.raw), values)
	pending, err := s.inst.tracker.check(raws, paths, nil)
	if err != nil {
		return len(s.raw), err
	}
	s.raw = append(s.raw, raws...)
	s.sync()
	s.inst.tracker.commit(pending)
	for k, raw := range raws {
		s.inst.record(paths[k], raw)
	}
	return len(s.raw), nil
}

// Pop removes and returns the last element. A snapshot of the sequence is
// recorded even when it was already empty.
func (s *Seq) Pop() (any, bool) {
	s.mustBeAttached()
	if len(s.raw) == 0 {
		s.recordSnapshot()
		return nil, false
	}
	last := len(s.raw) - 1
	v := s.raw[last]
	s.raw[last] = nil
	s.raw = s.raw[:last]
	if child, ok := s.items[last]; ok {
		child.detach()
		delete(s.items, last)
	}
	s.inst.tracker.release(v)
	s.sync()
	s.recordSnapshot()
	return v, true
}

// Shift removes and returns the first element, recording a snapshot.
func (s *Seq) Shift() (any, bool) {
	s.mustBeAttached()
	if len(s.raw) == 0 {
		s.recordSnapshot()
		return nil, false
	}
	v := s.raw[0]
	n := len(s.raw)
	copy(s.raw, s.raw[1:])
	s.raw[n-1] = nil
	s.raw = s.raw[:n-1]
	s.detachItems(0)
	s.inst.tracker.release(v)
	s.sync()
	s.inst.tracker.reclaim(s.path, s.raw, 0)
	s.recordSnapshot()
	return v, true
}

// Unshift inserts values at the front, records a snapshot and returns the new
// length.
func (s *Seq) Unshift(values ...any) (int, error) {
	s.mustBeAttached()
	raws, paths := s.prepare(0, values)
	pending, err := s.inst.tracker.check(raws, paths, nil)
	if err != nil {
		return len(s.raw), err
	}
	s.raw = slices.Insert(s.raw, 0, raws...)
	s.detachItems(0)
	s.sync()
	s.inst.tracker.commit(pending)
	s.inst.tracker.reclaim(s.path, s.raw, len(raws))
	s.recordSnapshot()
	return len(s.raw), nil
}

// Splice removes deleteCount elements starting at start, inserts values in
// their place and returns the removed elements. A negative start counts from
// the end; start and deleteCount are clamped to the sequence bounds. A call
// that only appends at the end behaves like Push, a call that changes nothing
// records nothing, and any other call records a snapshot.
func (s *Seq) Splice(start, deleteCount int, values ...any) ([]any, error) {
	s.mustBeAttached()
	n := len(s.raw)
	switch {
	case start < 0:
		start = max(n+start, 0)
	case start > n:
		start = n
	}
	deleteCount = min(max(deleteCount, 0), n-start)

	raws, paths := s.prepare(start, values)
	removed := slices.Clone(s.raw[start : start+deleteCount])
	if removed == nil {
		removed = []any{}
	}
	if deleteCount == 0 && len(raws) == 0 {
		return removed, nil
	}
	t := s.inst.tracker
	pending, err := t.check(raws, paths, collect(removed...))
	if err != nil {
		return nil, err
	}

	appendOnly := deleteCount == 0 && start == n
	s.raw = slices.Replace(s.raw, start, start+deleteCount, raws...)
	if !appendOnly {
		s.detachItems(start)
	}
	t.release(removed...)
	s.sync()
	t.commit(pending)
	if !appendOnly {
		t.reclaim(s.path, s.raw, start+len(raws))
	}

	if appendOnly {
		for k, raw := range raws {
			s.inst.record(paths[k], raw)
		}
	} else {
		s.recordSnapshot()
	}
	return removed, nil
}

// Sort orders the elements in place with a stable sort and records a
// snapshot. A nil less uses the default ordering: numbers numerically,
// strings lexically, mixed kinds grouped by kind.
func (s *Seq) Sort(less func(a, b any) bool) *Seq {
	if less == nil {
		return s.SortFunc(compareValues)
	}
	return s.SortFunc(func(a, b any) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		default:
			return 0
		}
	})
}

// SortFunc orders the elements in place with a stable sort using compare and
// records a snapshot.
func (s *Seq) SortFunc(compare func(a, b any) int) *Seq {
	s.mustBeAttached()
	if compare == nil {
		compare = compareValues
	}
	slices.SortStableFunc(s.raw, compare)
	s.detachItems(0)
	s.inst.tracker.reclaim(s.path, s.raw, 0)
	s.recordSnapshot()
	return s
}

// Reverse reverses the elements in place and records a snapshot.
func (s *Seq) Reverse() *Seq {
	s.mustBeAttached()
	slices.Reverse(s.raw)
	s.detachItems(0)
	s.inst.tracker.reclaim(s.path, s.raw, 0)
	s.recordSnapshot()
	return s
}

func (s *Seq) prepare(offset int, values []any) ([]any, []string) {
	raws := make([]any, len(values))
	paths := make([]string, len(values))
	for k, v := range values {
		raws[k] = unwrap(v)
		paths[k] = kpath.JoinIndex(s.path, offset+k)
	}
	return raws, paths
}

func (s *Seq) recordSnapshot() {
	s.inst.record(s.path, s.raw)
}

// sync re-registers the sequence when its backing array moved and writes the
// slice header back into the parent container.
func (s *Seq) sync() {
	s.inst.tracker.rebind(s, s.path, s.id, s.hasID)
	s.id, s.hasID = identity(s.raw)
	if s.slot != nil {
		s.slot.store(s.raw)
	}
}

// detachItems detaches cached element wrappers at index from and above.
func (s *Seq) detachItems(from int) {
	for i, child := range s.items {
		if i >= from {
			child.detach()
			delete(s.items, i)
		}
	}
}

func (s *Seq) mustBeAttached() {
	if s.detached {
		panic(fmt.Errorf("%w: sequence at %s", ErrDetached, describePath(s.path)))
	}
}

func (s *Seq) detach() {
	if s.detached {
		return
	}
	s.detached = true
	s.inst.tracker.forget(s)
	for _, child := range s.items {
		child.detach()
	}
}

func (s *Seq) rawValue() any { return s.raw }

type valueKind int

const (
	kindNil valueKind = iota
	kindBool
	kindNumber
	kindString
	kindOther
)

func kindOf(v any) (valueKind, float64) {
	switch v.(type) {
	case nil:
		return kindNil, 0
	case bool:
		return kindBool, 0
	case string:
		return kindString, 0
	}
	if f, ok := toFloat(v); ok {
		return kindNumber, f
	}
	return kindOther, 0
}

func compareValues(a, b any) int {
	ka, fa := kindOf(a)
	kb, fb := kindOf(b)
	if ka != kb {
		return cmp.Compare(ka, kb)
	}
	switch ka {
	case kindNil:
		return 0
	case kindBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case kindNumber:
		return cmp.Compare(fa, fb)
	case kindString:
		return strings.Compare(a.(string), b.(string))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
