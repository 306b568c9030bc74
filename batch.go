package observable

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
)

// Entry is one patch entry: the new value at a root-relative path.
type Entry struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// PatchMap is an ordered, read-only mapping from path to new value, as
// delivered to a CommitSink. Entries must be applied in order: a later
// ancestor snapshot supersedes earlier descendant entries.
type PatchMap struct {
	entries []Entry
	index   map[string]int
}

// NewPatchMap builds a PatchMap from entries using the batch merge rule.
func NewPatchMap(entries ...Entry) PatchMap {
	b := newPatchBatch()
	for _, e := range entries {
		b.Merge(e.Path, e.Value)
	}
	return b.Snapshot()
}

// Len returns the number of entries.
func (p PatchMap) Len() int {
	return len(p.entries)
}

// Keys returns the entry paths in commit order.
func (p PatchMap) Keys() []string {
	if len(p.entries) == 0 {
		return nil
	}
	keys := make([]string, len(p.entries))
	for i, e := range p.entries {
		keys[i] = e.Path
	}
	return keys
}

// Get returns the value recorded for path.
func (p PatchMap) Get(path string) (any, bool) {
	i, ok := p.index[path]
	if !ok {
		return nil, false
	}
	return p.entries[i].Value, true
}

// Entries returns a copy of the entries in commit order.
func (p PatchMap) Entries() []Entry {
	if len(p.entries) == 0 {
		return nil
	}
	return append([]Entry(nil), p.entries...)
}

// All iterates entries in commit order.
func (p PatchMap) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, e := range p.entries {
			if !yield(e.Path, e.Value) {
				return
			}
		}
	}
}

// ToMap returns the entries as an unordered map.
func (p PatchMap) ToMap() map[string]any {
	out := make(map[string]any, len(p.entries))
	for _, e := range p.entries {
		out[e.Path] = e.Value
	}
	return out
}

// MarshalJSON encodes the patch map as a JSON object whose members follow
// commit order.
func (p PatchMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Path)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("observable: marshal patch value at %q: %w", e.Path, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p PatchMap) String() string {
	d, err := p.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("PatchMap(%d entries)", len(p.entries))
	}
	return string(d)
}

// PatchBatch accumulates patch entries for one flush cycle. A key seen for
// the first time is appended; a repeated key overwrites its value in place
// and keeps its original position. No pruning between overlapping keys is
// performed.
//
// NOT thread-safe. It belongs to exactly one instance.
type PatchBatch struct {
	entries []Entry
	index   map[string]int
}

func newPatchBatch() *PatchBatch {
	return &PatchBatch{index: map[string]int{}}
}

// Merge records value at key.
func (b *PatchBatch) Merge(key string, value any) {
	if i, ok := b.index[key]; ok {
		b.entries[i].Value = value
		return
	}
	b.index[key] = len(b.entries)
	b.entries = append(b.entries, Entry{Path: key, Value: value})
}

// Len returns the number of pending entries.
func (b *PatchBatch) Len() int {
	return len(b.entries)
}

// Snapshot returns the pending entries without clearing them.
func (b *PatchBatch) Snapshot() PatchMap {
	if len(b.entries) == 0 {
		return PatchMap{}
	}
	entries := append([]Entry(nil), b.entries...)
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.Path] = i
	}
	return PatchMap{entries: entries, index: index}
}

// Drain returns the pending entries and clears the batch.
func (b *PatchBatch) Drain() PatchMap {
	snapshot := b.Snapshot()
	b.Reset()
	return snapshot
}

// Reset clears the batch.
func (b *PatchBatch) Reset() {
	b.entries = nil
	clear(b.index)
}
