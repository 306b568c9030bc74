package observable

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-observable/internal/hydrate"
	"github.com/goliatone/go-observable/layering"
	"github.com/goliatone/go-observable/pkg/activity"
	"github.com/goliatone/go-observable/pkg/kpath"
)

// Instance owns one observed data tree: its path tracker, its pending patch
// batch and the scheduler that flushes the batch to the commit sink.
//
// NOT thread-safe. An instance and every node obtained from it belong to one
// logical thread, the one its Deferrer runs tasks on.
type Instance struct {
	id        string
	cfg       instanceConfig
	sink      CommitSink
	root      *Map
	stack     *DataStack
	tracker   *tracker
	batch     *PatchBatch
	scheduler *Scheduler
	emitter   *activity.Emitter

	evaluator  Evaluator
	computed   []computedField
	refreshing bool

	watchers    []*watcher
	nextWatchID uint64
	afterFlush  []func()

	flushes  int
	tornDown bool
}

// New observes data and delivers its changes to sink. data may be a
// map[string]any, which becomes the live root and is mutated in place, or any
// value that encodes to a JSON object.
func New(data any, sink CommitSink, opts ...Option) (*Instance, error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	cfg := applyOptions(opts)

	own, err := hydrate.Normalize(data)
	if err != nil {
		return nil, err
	}
	raw, stack, err := buildData(own, cfg.mixins)
	if err != nil {
		return nil, err
	}

	id := cfg.id
	if id == "" {
		id = uuid.NewString()
	}
	inst := &Instance{
		id:      id,
		cfg:     cfg,
		sink:    sink,
		stack:   stack,
		tracker: newTracker(),
		batch:   newPatchBatch(),
		emitter: cfg.emitter(),
	}
	inst.scheduler = newScheduler(cfg.deferrer, inst.flush)

	inst.evaluator, inst.computed, err = compileComputed(cfg)
	if err != nil {
		return nil, err
	}
	if err := inst.seedComputed(raw); err != nil {
		return nil, err
	}

	pending, err := inst.tracker.check([]any{raw}, []string{""}, nil)
	if err != nil {
		return nil, err
	}
	inst.tracker.commit(pending)
	inst.root = newMap(inst, raw, "")
	return inst, nil
}

// ID returns the instance identifier.
func (i *Instance) ID() string { return i.id }

// Data returns the wrapped root mapping.
func (i *Instance) Data() *Map { return i.root }

// Raw returns the live root data. Writes made directly to it bypass change
// tracking.
func (i *Instance) Raw() map[string]any { return i.root.raw }

// Snapshot returns a deep copy of the current data.
func (i *Instance) Snapshot() map[string]any {
	return layering.CloneMap(i.root.raw)
}

// Pending returns the changes recorded since the last flush.
func (i *Instance) Pending() PatchMap {
	return i.batch.Snapshot()
}

// FlushPending reports whether a flush is scheduled and has not run yet.
func (i *Instance) FlushPending() bool {
	return i.scheduler.Pending()
}

// Flushes returns the number of commits delivered to the sink so far,
// including failed ones.
func (i *Instance) Flushes() int { return i.flushes }

// Get resolves path against the data tree and returns the value there,
// wrapped when it is a mapping or a sequence. The empty path is the root.
func (i *Instance) Get(path string) (any, bool) {
	p, err := kpath.Parse(path)
	if err != nil {
		return nil, false
	}
	return i.resolve(p)
}

func (i *Instance) resolve(p kpath.Path) (any, bool) {
	var cur any = i.root
	for _, seg := range p {
		switch node := cur.(type) {
		case *Map:
			if seg.IsIndex {
				return nil, false
			}
			next, ok := node.Lookup(seg.Field)
			if !ok {
				return nil, false
			}
			cur = next
		case *Seq:
			if !seg.IsIndex {
				return nil, false
			}
			next, ok := node.GetItem(seg.Index)
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at path through the wrapper that owns the last segment:
// Map.Set for a field, Seq.SetItem for an index.
func (i *Instance) Set(path string, value any) error {
	if i.tornDown {
		return ErrInstanceTornDown
	}
	p, err := kpath.Parse(path)
	if err != nil {
		return err
	}
	last, ok := p.Last()
	if !ok {
		return fmt.Errorf("%w: cannot replace the root", ErrInvalidField)
	}
	parent, ok := i.resolve(p.Parent())
	if !ok {
		return fmt.Errorf("observable: no container at %s", describePath(p.Parent().String()))
	}
	switch node := parent.(type) {
	case *Map:
		if last.IsIndex {
			return fmt.Errorf("observable: index %d on mapping at %s", last.Index, describePath(node.path))
		}
		return node.Set(last.Field, value)
	case *Seq:
		if !last.IsIndex {
			return fmt.Errorf("observable: field %q on sequence at %s", last.Field, describePath(node.path))
		}
		return node.SetItem(last.Index, value)
	default:
		return fmt.Errorf("observable: no container at %s", describePath(p.Parent().String()))
	}
}

// Wrap returns the wrapper for value. Wrappers are returned unchanged, a raw
// mapping or sequence attached to this instance resolves to its wrapper, and
// anything else is returned as is.
func (i *Instance) Wrap(value any) any {
	switch value.(type) {
	case *Map, *Seq:
		return value
	}
	id, ok := identity(value)
	if !ok {
		return value
	}
	if n, ok := i.tracker.nodes[id]; ok {
		return n
	}
	path, ok := i.tracker.owned[id]
	if !ok {
		return value
	}
	if n, ok := i.Get(path); ok && sameContainer(unwrap(n), value) {
		return n
	}
	return value
}

// Trace reports what the instance's own data and each mixin contributed at
// path when the instance was created, together with the current value.
func (i *Instance) Trace(path string) (Trace, error) {
	trace, err := i.stack.Trace(path)
	if err != nil {
		return Trace{}, err
	}
	p, _ := kpath.Parse(path)
	value, found := kpath.Lookup(i.root.raw, p)
	trace.Value = layering.Clone(value)
	trace.Found = found
	return trace, nil
}

// Dispatch runs fn as one execution window on the instance's deferrer and
// returns the errors of the flushes it caused. The deferrer must also be a
// Dispatcher, as Queue and EventLoop are.
func (i *Instance) Dispatch(fn func()) error {
	d, ok := i.cfg.deferrer.(Dispatcher)
	if !ok {
		return ErrNoDispatcher
	}
	return d.Dispatch(fn)
}

// NextTick runs fn after the next flush, whether or not it commits anything.
func (i *Instance) NextTick(fn func()) {
	if fn == nil || i.tornDown {
		return
	}
	i.afterFlush = append(i.afterFlush, fn)
	i.scheduler.RequestFlush()
}

// Teardown detaches every node, drops pending changes and watchers, and emits
// an instance.torn_down activity event. Mutating a node afterwards panics
// with ErrDetached. A flush that was already scheduled commits nothing.
func (i *Instance) Teardown() error {
	if i.tornDown {
		return nil
	}
	i.tornDown = true
	i.root.detach()
	i.batch.Reset()
	i.watchers = nil
	i.afterFlush = nil
	return i.emitter.Emit(i.cfg.ctx, activity.BuildTeardownEvent(activity.CommitEventInput{
		InstanceID: i.id,
	}))
}

// wrap returns the wrapper for a raw container attached at path, creating it
// when needed. Values that are not containers return nil.
func (i *Instance) wrap(v any, path string, parent slot) node {
	switch typed := v.(type) {
	case map[string]any:
		if typed == nil {
			return nil
		}
		if n := i.tracker.lookup(typed, path); n != nil {
			return n
		}
		return newMap(i, typed, path)
	case []any:
		if n := i.tracker.lookup(typed, path); n != nil {
			return n
		}
		return newSeq(i, typed, path, parent)
	default:
		return nil
	}
}

// record merges a copy of value into the batch and requests a flush.
func (i *Instance) record(path string, value any) {
	i.batch.Merge(path, layering.Clone(value))
	if !i.refreshing {
		i.scheduler.RequestFlush()
	}
}

// flush is the scheduler's deferred task. It refreshes computed fields,
// drains the batch, commits it, reports the outcome, notifies watchers and
// finally runs NextTick callbacks.
func (i *Instance) flush() error {
	if i.tornDown {
		i.batch.Reset()
		return nil
	}
	var errs []error
	if i.batch.Len() > 0 {
		if err := i.refreshComputed(); err != nil {
			errs = append(errs, err)
		}
	}
	patch := i.batch.Drain()
	callbacks := i.afterFlush
	i.afterFlush = nil

	if patch.Len() > 0 {
		if err := i.commit(patch); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range callbacks {
		fn()
	}
	return errors.Join(errs...)
}

func (i *Instance) commit(patch PatchMap) error {
	flushID := uuid.NewString()
	keys := patch.Keys()
	start := time.Now()
	err := i.sink.Commit(i.cfg.ctx, patch)
	duration := time.Since(start)
	i.flushes++
	if err != nil {
		err = &CommitError{InstanceID: i.id, FlushID: flushID, Keys: keys, Err: err}
	}

	i.cfg.logger().LogFlush(FlushLogEvent{
		InstanceID: i.id,
		FlushID:    flushID,
		Keys:       keys,
		Duration:   duration,
		Err:        err,
	})

	input := activity.CommitEventInput{
		InstanceID: i.id,
		FlushID:    flushID,
		Keys:       keys,
		Duration:   duration,
		Err:        err,
	}
	event := activity.BuildCommitEvent(input)
	if err != nil {
		event = activity.BuildCommitFailedEvent(input)
	}
	emitErr := i.emitter.Emit(i.cfg.ctx, event)
	if emitErr != nil {
		emitErr = fmt.Errorf("observable: activity hooks: %w", emitErr)
	}

	if err == nil {
		i.notifyWatchers(patch)
	}
	return errors.Join(err, emitErr)
}
