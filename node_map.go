package observable

import (
	"fmt"
	"maps"
	"slices"

	"github.com/goliatone/go-observable/pkg/kpath"
)

// Map is the observable wrapper of a raw map[string]any. Field writes made
// through Set are recorded in the instance's patch batch; nested mappings and
// sequences are returned wrapped.
//
// NOT thread-safe. A Map belongs to the logical thread of its instance.
type Map struct {
	inst     *Instance
	raw      map[string]any
	path     string
	fields   map[string]node
	detached bool
}

func newMap(inst *Instance, raw map[string]any, path string) *Map {
	m := &Map{
		inst:   inst,
		raw:    raw,
		path:   path,
		fields: map[string]node{},
	}
	inst.tracker.register(m)
	for _, key := range slices.Sorted(maps.Keys(raw)) {
		if child := inst.wrap(raw[key], kpath.Join(path, key), mapSlot{m: m, field: key}); child != nil {
			m.fields[key] = child
		}
	}
	return m
}

// Path returns the root-relative path of the mapping. The root is "".
func (m *Map) Path() string { return m.path }

// Detached reports whether the mapping has left its instance's tree.
func (m *Map) Detached() bool { return m.detached }

// Len returns the number of fields.
func (m *Map) Len() int { return len(m.raw) }

// Keys returns the field names in sorted order.
func (m *Map) Keys() []string {
	return slices.Sorted(maps.Keys(m.raw))
}

// Lookup returns the value of field, wrapped when it is a mapping or a
// sequence.
func (m *Map) Lookup(field string) (any, bool) {
	if child, ok := m.fields[field]; ok {
		return child, true
	}
	v, ok := m.raw[field]
	return v, ok
}

// Get is Lookup without the presence flag.
func (m *Map) Get(field string) any {
	v, _ := m.Lookup(field)
	return v
}

// Map returns field as a wrapped mapping.
func (m *Map) Map(field string) (*Map, bool) {
	child, ok := m.fields[field].(*Map)
	return child, ok
}

// Seq returns field as a wrapped sequence.
func (m *Map) Seq(field string) (*Seq, bool) {
	child, ok := m.fields[field].(*Seq)
	return child, ok
}

// Raw returns the live underlying map. Writes made directly to it bypass
// change tracking.
func (m *Map) Raw() map[string]any { return m.raw }

// Set assigns value to field and records {path.field: value}. A write is
// recorded even when the value is unchanged. Wrapped values are unwrapped
// before they are stored; mappings and sequences already attached elsewhere
// in the tree are rejected with an *AliasError.
func (m *Map) Set(field string, value any) error {
	m.mustBeAttached()
	if m.path == "" && m.inst.isComputed(field) {
		return fmt.Errorf("%w: %q", ErrReadOnlyField, field)
	}
	return m.set(field, value)
}

func (m *Map) set(field string, value any) error {
	if !kpath.ValidField(field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	raw := unwrap(value)
	childPath := kpath.Join(m.path, field)
	old, hadOld := m.raw[field]
	if !hadOld || !sameContainer(old, raw) {
		t := m.inst.tracker
		pending, err := t.check([]any{raw}, []string{childPath}, collect(old))
		if err != nil {
			return err
		}
		if child, ok := m.fields[field]; ok {
			child.detach()
			delete(m.fields, field)
		}
		t.release(old)
		t.commit(pending)
		m.raw[field] = raw
		if child := m.inst.wrap(raw, childPath, mapSlot{m: m, field: field}); child != nil {
			m.fields[field] = child
		}
	}
	m.inst.record(childPath, raw)
	return nil
}

func (m *Map) mustBeAttached() {
	if m.detached {
		panic(fmt.Errorf("%w: mapping at %s", ErrDetached, describePath(m.path)))
	}
}

func (m *Map) detach() {
	if m.detached {
		return
	}
	m.detached = true
	m.inst.tracker.forget(m)
	for _, child := range m.fields {
		child.detach()
	}
}

func (m *Map) rawValue() any { return m.raw }

// slot is where a sequence writes its slice header back after an operation
// changed its length or backing array.
type slot interface {
	store(raw []any)
}

type mapSlot struct {
	m     *Map
	field string
}

func (s mapSlot) store(raw []any) {
	s.m.raw[s.field] = raw
}

type seqSlot struct {
	s     *Seq
	index int
}

func (s seqSlot) store(raw []any) {
	s.s.raw[s.index] = raw
}

// unwrap returns the raw value behind a wrapper.
func unwrap(v any) any {
	switch typed := v.(type) {
	case *Map:
		if typed == nil {
			return nil
		}
		return typed.raw
	case *Seq:
		if typed == nil {
			return nil
		}
		return typed.raw
	default:
		return v
	}
}
