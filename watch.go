package observable

import (
	"errors"
	"reflect"
	"slices"

	"github.com/goliatone/go-observable/layering"
	"github.com/goliatone/go-observable/pkg/kpath"
)

// WatchFunc receives copies of the new and the previous value at a watched
// path. A path that does not resolve yields nil.
type WatchFunc func(newValue, oldValue any)

type watcher struct {
	id        uint64
	path      kpath.Path
	fn        WatchFunc
	last      any
	cancelled bool
}

// Watch calls fn after each successful commit that touched path (the path
// itself, an ancestor or a descendant) and changed its value. Handlers run on
// the instance's thread and may mutate the data; those changes flush in the
// same drain. The returned function cancels the watch.
func (i *Instance) Watch(path string, fn WatchFunc) (func(), error) {
	if i.tornDown {
		return nil, ErrInstanceTornDown
	}
	if fn == nil {
		return nil, errors.New("observable: watch handler is nil")
	}
	p, err := kpath.Parse(path)
	if err != nil {
		return nil, err
	}
	current, _ := kpath.Lookup(i.root.raw, p)
	i.nextWatchID++
	w := &watcher{
		id:   i.nextWatchID,
		path: p,
		fn:   fn,
		last: layering.Clone(current),
	}
	i.watchers = append(i.watchers, w)
	return func() {
		w.cancelled = true
		i.watchers = slices.DeleteFunc(i.watchers, func(candidate *watcher) bool {
			return candidate.id == w.id
		})
	}, nil
}

func (i *Instance) notifyWatchers(patch PatchMap) {
	if len(i.watchers) == 0 {
		return
	}
	keys := make([]kpath.Path, 0, patch.Len())
	for _, key := range patch.Keys() {
		if p, err := kpath.Parse(key); err == nil {
			keys = append(keys, p)
		}
	}
	for _, w := range slices.Clone(i.watchers) {
		if w.cancelled || !touches(keys, w.path) {
			continue
		}
		current, _ := kpath.Lookup(i.root.raw, w.path)
		if reflect.DeepEqual(current, w.last) {
			continue
		}
		previous := w.last
		w.last = layering.Clone(current)
		w.fn(layering.Clone(current), previous)
	}
}

func touches(keys []kpath.Path, path kpath.Path) bool {
	for _, key := range keys {
		if kpath.Overlaps(key, path) {
			return true
		}
	}
	return false
}
