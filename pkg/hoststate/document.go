// Package hoststate keeps a JSON document of rendered state in step with an
// observable instance. Document is a CommitSink: every commit is translated
// into RFC 6902 operations and applied to the document in commit order.
package hoststate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch"

	observable "github.com/goliatone/go-observable"
	"github.com/goliatone/go-observable/pkg/kpath"
)

// ErrMissingParent indicates a patch entry whose parent container does not
// exist in the document.
var ErrMissingParent = errors.New("hoststate: parent container missing")

// Operation is one RFC 6902 operation.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Document is a JSON document updated by commits. It is safe for concurrent
// use; commits are serialised.
type Document struct {
	mu      sync.RWMutex
	doc     []byte
	last    []Operation
	commits int
}

// New returns a document holding a copy of initial.
func New(initial map[string]any) (*Document, error) {
	if initial == nil {
		initial = map[string]any{}
	}
	doc, err := json.Marshal(initial)
	if err != nil {
		return nil, fmt.Errorf("hoststate: encode initial state: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Commit implements observable.CommitSink. Entries are applied one at a time;
// when one fails the document keeps the entries applied before it.
func (d *Document) Commit(_ context.Context, patch observable.PatchMap) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var applied []Operation
	for path, value := range patch.All() {
		ops, err := d.plan(path, value)
		if err != nil {
			d.last = applied
			return err
		}
		if err := d.apply(ops); err != nil {
			d.last = applied
			return fmt.Errorf("hoststate: apply %q: %w", path, err)
		}
		applied = append(applied, ops...)
	}
	d.last = applied
	d.commits++
	return nil
}

// plan turns one patch entry into operations against the current document.
// Mapping fields use "add", which replaces an existing member. Sequence
// indices use "replace" inside the sequence, "add" at its end, and pad with
// nulls when the index lies beyond the end.
func (d *Document) plan(path string, value any) ([]Operation, error) {
	p, err := kpath.Parse(path)
	if err != nil {
		return nil, err
	}
	last, ok := p.Last()
	if !ok {
		return nil, errors.New("hoststate: cannot replace the document root")
	}
	var tree any
	if err := json.Unmarshal(d.doc, &tree); err != nil {
		return nil, err
	}
	parent, found := kpath.Lookup(tree, p.Parent())
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrMissingParent, p.Parent().Pointer())
	}

	switch container := parent.(type) {
	case map[string]any:
		if last.IsIndex {
			return nil, fmt.Errorf("hoststate: index %d on object at %s", last.Index, p.Parent().Pointer())
		}
		return []Operation{{Op: "add", Path: p.Pointer(), Value: value}}, nil
	case []any:
		if !last.IsIndex {
			return nil, fmt.Errorf("hoststate: field %q on array at %s", last.Field, p.Parent().Pointer())
		}
		if last.Index < len(container) {
			return []Operation{{Op: "replace", Path: p.Pointer(), Value: value}}, nil
		}
		var ops []Operation
		parentPointer := p.Parent().Pointer()
		for i := len(container); i < last.Index; i++ {
			ops = append(ops, Operation{Op: "add", Path: fmt.Sprintf("%s/%d", parentPointer, i)})
		}
		return append(ops, Operation{Op: "add", Path: p.Pointer(), Value: value}), nil
	default:
		return nil, fmt.Errorf("%w: %s is not a container", ErrMissingParent, p.Parent().Pointer())
	}
}

func (d *Document) apply(ops []Operation) error {
	raw, err := json.Marshal(ops)
	if err != nil {
		return err
	}
	patch, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return err
	}
	out, err := patch.Apply(d.doc)
	if err != nil {
		return err
	}
	d.doc = out
	return nil
}

// JSON returns a copy of the current document.
func (d *Document) JSON() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]byte(nil), d.doc...)
}

// State decodes the current document.
func (d *Document) State() (map[string]any, error) {
	var out map[string]any
	err := json.Unmarshal(d.JSON(), &out)
	return out, err
}

// LastOperations returns the operations applied by the most recent commit.
func (d *Document) LastOperations() []Operation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Operation(nil), d.last...)
}

// Commits returns the number of commits applied in full.
func (d *Document) Commits() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.commits
}
