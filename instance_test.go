package observable

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-observable/pkg/activity"
)

func TestNewRequiresSink(t *testing.T) {
	if _, err := New(map[string]any{}, nil); !errors.Is(err, ErrNilSink) {
		t.Fatalf("expected ErrNilSink, got %v", err)
	}
}

func TestNewNormalizesStructs(t *testing.T) {
	type profile struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	inst, err := New(profile{Name: "ada", Tags: []string{"x"}}, CommitFunc(func(context.Context, PatchMap) error {
		return nil
	}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	want := map[string]any{"name": "ada", "tags": []any{"x"}}
	if diff := cmp.Diff(want, inst.Raw()); diff != "" {
		t.Fatalf("data (-want +got):\n%s", diff)
	}
}

func TestNewRejectsAliasedInitialData(t *testing.T) {
	shared := []any{1}
	_, err := New(map[string]any{"a": shared, "b": shared}, &recordingSink{})
	var aliasErr *AliasError
	if !errors.As(err, &aliasErr) {
		t.Fatalf("expected AliasError, got %v", err)
	}
	if aliasErr.FirstPath != "a" || aliasErr.Path != "b" {
		t.Fatalf("unexpected alias error %+v", aliasErr)
	}
}

func TestNewRejectsOverlappingSubslices(t *testing.T) {
	shared := []any{1, 2, 3}
	cases := []struct {
		data  map[string]any
		first string
		path  string
	}{
		{data: map[string]any{"x": shared, "y": shared[1:]}, first: "x", path: "y"},
		{data: map[string]any{"x": shared[2:], "y": shared[:1]}, first: "x", path: "y"},
	}
	for _, tc := range cases {
		_, err := New(tc.data, &recordingSink{})
		var aliasErr *AliasError
		if !errors.As(err, &aliasErr) {
			t.Fatalf("%v: expected AliasError, got %v", tc.data, err)
		}
		if aliasErr.FirstPath != tc.first || aliasErr.Path != tc.path {
			t.Fatalf("unexpected alias error %+v", aliasErr)
		}
	}

	if _, err := New(map[string]any{"x": shared[:1:1], "y": shared[1:]}, &recordingSink{}); err != nil {
		t.Fatalf("disjoint capacities must not alias: %v", err)
	}
}

func TestPushRejectsSubsliceOfAttachedSequence(t *testing.T) {
	inst, _ := newTestInstance(t, map[string]any{"list": []any{1, 2, 3}})
	list := mustSeq(t, inst, "list")

	_, err := list.Push(list.Raw()[1:])
	var aliasErr *AliasError
	if !errors.As(err, &aliasErr) || aliasErr.FirstPath != "list" || aliasErr.Path != "list[3]" {
		t.Fatalf("expected alias of list at list[3], got %v", err)
	}
	if list.Len() != 3 {
		t.Fatalf("a rejected push must not change the sequence, len=%d", list.Len())
	}

	if _, err := list.Push(slices.Clone(list.Raw()[1:])); err != nil {
		t.Fatalf("a copy must attach: %v", err)
	}
}

func TestNewUsesCallerMapAsLiveRoot(t *testing.T) {
	data := map[string]any{"n": 1}
	inst, _ := newTestInstance(t, data)
	mustDispatch(t, inst, func() { _ = inst.Data().Set("n", 2) })
	if data["n"] != 2 {
		t.Fatalf("expected the caller's map to be mutated, got %v", data["n"])
	}
}

func TestInstanceGetAndSetByPath(t *testing.T) {
	inst, sink := newTestInstance(t, componentData(), WithInstanceID("inst-1"))
	if inst.ID() != "inst-1" {
		t.Fatalf("unexpected id %q", inst.ID())
	}
	if v, ok := inst.Get("b[1].b"); !ok || v != 56 {
		t.Fatalf("get: %v %v", v, ok)
	}
	if _, ok := inst.Get("a.missing"); ok {
		t.Fatalf("expected missing path")
	}
	if _, ok := inst.Get("a[0]"); ok {
		t.Fatalf("index on a mapping must not resolve")
	}
	if root, ok := inst.Get(""); !ok || root != any(inst.Data()) {
		t.Fatalf("empty path must return the root wrapper")
	}

	mustDispatch(t, inst, func() {
		if err := inst.Set("a.a", 4); err != nil {
			t.Fatalf("set field: %v", err)
		}
		if err := inst.Set("b[0]", 24); err != nil {
			t.Fatalf("set index: %v", err)
		}
		if err := inst.Set("a.c", map[string]any{"d": true}); err != nil {
			t.Fatalf("set new field: %v", err)
		}
	})
	expectCommits(t, sink, []Entry{
		e("a.a", 4),
		e("b[0]", 24),
		e("a.c", map[string]any{"d": true}),
	})
	if _, ok := mustMap(t, inst, "a").Map("c"); !ok {
		t.Fatalf("new mapping must be wrapped")
	}
}

func TestInstanceSetErrors(t *testing.T) {
	inst, _ := newTestInstance(t, componentData())
	cases := map[string]string{
		"root":         "",
		"index on map": "a[0]",
		"field on seq": "b.x",
		"missing":      "nope.x",
		"bad syntax":   "a..b",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			if err := inst.Set(path, 1); err == nil {
				t.Fatalf("expected an error for %q", path)
			}
		})
	}
}

func TestMapSetRejectsInvalidField(t *testing.T) {
	inst, _ := newTestInstance(t, map[string]any{})
	for _, field := range []string{"", "a.b", "a[0]", "a]"} {
		if err := inst.Data().Set(field, 1); !errors.Is(err, ErrInvalidField) {
			t.Fatalf("field %q: expected ErrInvalidField, got %v", field, err)
		}
	}
}

func TestMapSetRejectsAlias(t *testing.T) {
	inst, _ := newTestInstance(t, componentData())
	a := mustMap(t, inst, "a")

	err := inst.Data().Set("copy", a)
	var aliasErr *AliasError
	if !errors.As(err, &aliasErr) || aliasErr.FirstPath != "a" || aliasErr.Path != "copy" {
		t.Fatalf("expected alias of a at copy, got %v", err)
	}
	if _, ok := inst.Raw()["copy"]; ok {
		t.Fatalf("a rejected write must not change the data")
	}

	if err := inst.Data().Set("a", a); err != nil {
		t.Fatalf("re-assigning a value at its own path must succeed: %v", err)
	}
	if a.Detached() {
		t.Fatalf("re-assigning the same mapping must keep its wrapper")
	}
}

func TestMapSetMovesValueAfterRelease(t *testing.T) {
	inst, sink := newTestInstance(t, componentData())
	mustDispatch(t, inst, func() {
		moved := inst.Raw()["a"]
		if err := inst.Data().Set("a", nil); err != nil {
			t.Fatalf("clear: %v", err)
		}
		if err := inst.Data().Set("c", moved); err != nil {
			t.Fatalf("re-attach released value: %v", err)
		}
	})
	expectCommits(t, sink, []Entry{
		e("a", nil),
		e("c", map[string]any{"a": 3, "b": []any{23}}),
	})
	c := mustMap(t, inst, "c")
	if c.Path() != "c" {
		t.Fatalf("unexpected path %q", c.Path())
	}
	if b, _ := c.Seq("b"); b.Path() != "c.b" {
		t.Fatalf("nested wrappers must follow the new path, got %q", b.Path())
	}
}

func TestReplacedValueDetachesOldWrapper(t *testing.T) {
	inst, _ := newTestInstance(t, componentData())
	old := mustMap(t, inst, "a")
	oldSeq, _ := old.Seq("b")
	mustDispatch(t, inst, func() { _ = inst.Data().Set("a", map[string]any{}) })

	if !old.Detached() || !oldSeq.Detached() {
		t.Fatalf("replaced subtree must be detached")
	}
	if v, ok := old.Lookup("a"); !ok || v != 3 {
		t.Fatalf("reads on a detached node still see its data, got %v %v", v, ok)
	}
	defer func() {
		if err, ok := recover().(error); !ok || !errors.Is(err, ErrDetached) {
			t.Fatalf("expected ErrDetached panic")
		}
	}()
	_, _ = oldSeq.Push(1)
}

func TestSinkErrorPropagatesWithoutRepopulation(t *testing.T) {
	boom := errors.New("boom")
	inst, sink := newTestInstance(t, map[string]any{"n": 0})
	sink.err = boom

	err := inst.Dispatch(func() { _ = inst.Data().Set("n", 1) })
	if !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
	var commitErr *CommitError
	if !errors.As(err, &commitErr) {
		t.Fatalf("expected CommitError, got %T", err)
	}
	if commitErr.InstanceID != inst.ID() || commitErr.FlushID == "" {
		t.Fatalf("unexpected commit error %+v", commitErr)
	}
	if diff := cmp.Diff([]string{"n"}, commitErr.Keys); diff != "" {
		t.Fatalf("keys (-want +got):\n%s", diff)
	}
	if inst.Pending().Len() != 0 {
		t.Fatalf("failed changes must not be re-queued")
	}
	if inst.Raw()["n"] != 1 {
		t.Fatalf("data keeps the write after a failed commit")
	}

	sink.err = nil
	mustDispatch(t, inst, func() { _ = inst.Data().Set("m", 2) })
	expectCommits(t, sink, []Entry{e("n", 1)}, []Entry{e("m", 2)})
	if inst.Flushes() != 2 {
		t.Fatalf("expected two flushes, got %d", inst.Flushes())
	}
}

func TestSinkMutationsDuringCommitFlushNext(t *testing.T) {
	inst, sink := newTestInstance(t, map[string]any{"n": 0, "echo": 0})
	sink.onCommit = func(patch PatchMap) {
		if v, ok := patch.Get("n"); ok {
			_ = inst.Data().Set("echo", v)
		}
	}
	mustDispatch(t, inst, func() { _ = inst.Data().Set("n", 5) })
	expectCommits(t, sink, []Entry{e("n", 5)}, []Entry{e("echo", 5)})
}

func TestFlushLoggerReceivesEvents(t *testing.T) {
	var events []FlushLogEvent
	inst, _ := newTestInstance(t, map[string]any{"n": 0},
		WithInstanceID("logged"),
		WithFlushLogger(FlushLoggerFunc(func(event FlushLogEvent) {
			events = append(events, event)
		})),
	)
	mustDispatch(t, inst, func() {})
	mustDispatch(t, inst, func() {
		_ = inst.Data().Set("n", 1)
		_ = inst.Data().Set("m", 1)
	})
	if len(events) != 1 {
		t.Fatalf("expected one event for the non-empty flush, got %d", len(events))
	}
	if events[0].InstanceID != "logged" || events[0].Err != nil {
		t.Fatalf("unexpected event %+v", events[0])
	}
	if diff := cmp.Diff([]string{"n", "m"}, events[0].Keys); diff != "" {
		t.Fatalf("keys (-want +got):\n%s", diff)
	}
}

func TestActivityHooksReceiveCommitEvents(t *testing.T) {
	capture := &activity.CaptureHook{}
	inst, sink := newTestInstance(t, map[string]any{"n": 0},
		WithInstanceID("audited"),
		WithActivityHooks(activity.Hooks{capture}),
		WithActivityConfig(activity.Config{Enabled: true, Channel: "audit", ActorID: "system"}),
	)
	mustDispatch(t, inst, func() { _ = inst.Data().Set("n", 1) })

	sink.err = errors.New("rejected")
	_ = inst.Dispatch(func() { _ = inst.Data().Set("n", 2) })
	if err := inst.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}

	want := []string{activity.VerbCommitted, activity.VerbCommitFailed, activity.VerbTornDown}
	if diff := cmp.Diff(want, capture.Verbs()); diff != "" {
		t.Fatalf("verbs (-want +got):\n%s", diff)
	}
	first := capture.Events[0]
	if first.InstanceID != "audited" || first.Channel != "audit" || first.ActorID != "system" {
		t.Fatalf("unexpected event %+v", first)
	}
	if diff := cmp.Diff([]string{"n"}, first.Keys); diff != "" || first.FlushID == "" {
		t.Fatalf("unexpected flush fields %+v", first)
	}
	if msg := capture.Events[1].Err; msg == "" {
		t.Fatalf("failed commit must carry the error text")
	}
}

func TestActivityHookErrorsAreReturned(t *testing.T) {
	hookErr := errors.New("hook down")
	capture := &activity.CaptureHook{Err: hookErr}
	inst, sink := newTestInstance(t, map[string]any{"n": 0}, WithActivityHooks(activity.Hooks{capture}))

	err := inst.Dispatch(func() { _ = inst.Data().Set("n", 1) })
	if !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if len(sink.commits) != 1 {
		t.Fatalf("hook failures do not affect the commit")
	}
}

func TestNextTickRunsAfterFlush(t *testing.T) {
	inst, sink := newTestInstance(t, map[string]any{"n": 0})
	var order []string
	sink.onCommit = func(PatchMap) { order = append(order, "commit") }

	mustDispatch(t, inst, func() {
		_ = inst.Data().Set("n", 1)
		inst.NextTick(func() { order = append(order, "tick") })
		order = append(order, "window")
	})
	mustDispatch(t, inst, func() {
		inst.NextTick(func() { order = append(order, "idle tick") })
	})

	want := []string{"window", "commit", "tick", "idle tick"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
	if len(sink.commits) != 1 {
		t.Fatalf("a tick alone must not commit, got %d commits", len(sink.commits))
	}
}

func TestTeardownDropsPendingChanges(t *testing.T) {
	inst, sink := newTestInstance(t, componentData())
	root := inst.Data()
	mustDispatch(t, inst, func() {
		_ = root.Set("x", 1)
		if err := inst.Teardown(); err != nil {
			t.Fatalf("teardown: %v", err)
		}
	})
	if len(sink.commits) != 0 {
		t.Fatalf("teardown must drop pending changes, got %v", sink.commits)
	}
	if !root.Detached() {
		t.Fatalf("root must be detached")
	}
	if err := inst.Set("x", 2); !errors.Is(err, ErrInstanceTornDown) {
		t.Fatalf("expected ErrInstanceTornDown, got %v", err)
	}
	if _, err := inst.Watch("x", func(any, any) {}); !errors.Is(err, ErrInstanceTornDown) {
		t.Fatalf("expected ErrInstanceTornDown, got %v", err)
	}
	if err := inst.Teardown(); err != nil {
		t.Fatalf("second teardown must be a no-op: %v", err)
	}
}

type manualDeferrer struct {
	tasks []Task
}

func (d *manualDeferrer) Defer(task Task) { d.tasks = append(d.tasks, task) }

func TestCustomDeferrer(t *testing.T) {
	d := &manualDeferrer{}
	inst, sink := newTestInstance(t, map[string]any{"n": 0}, WithDeferrer(d))
	if err := inst.Dispatch(func() {}); !errors.Is(err, ErrNoDispatcher) {
		t.Fatalf("expected ErrNoDispatcher, got %v", err)
	}

	_ = inst.Data().Set("n", 1)
	_ = inst.Data().Set("n", 2)
	if len(d.tasks) != 1 || !inst.FlushPending() {
		t.Fatalf("expected one deferred flush, got %d", len(d.tasks))
	}
	if diff := cmp.Diff([]string{"n"}, inst.Pending().Keys()); diff != "" {
		t.Fatalf("pending (-want +got):\n%s", diff)
	}
	if err := d.tasks[0](); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if inst.FlushPending() {
		t.Fatalf("scheduler must be idle after the flush")
	}
	expectCommits(t, sink, []Entry{e("n", 2)})
}

func TestDescribe(t *testing.T) {
	inst, _ := newTestInstance(t, map[string]any{
		"name":  "ada",
		"tags":  []any{"x", 2},
		"meta":  map[string]any{},
		"empty": []any{},
		"nil":   nil,
	})
	want := []FieldDescriptor{
		{Path: "empty", Type: "[]any"},
		{Path: "meta", Type: "map[string]any"},
		{Path: "name", Type: "string"},
		{Path: "nil", Type: "nil"},
		{Path: "tags[0]", Type: "string"},
		{Path: "tags[1]", Type: "int"},
	}
	if diff := cmp.Diff(want, inst.Describe()); diff != "" {
		t.Fatalf("describe (-want +got):\n%s", diff)
	}
	if got := Describe(map[string]any{}); got == nil || len(got) != 0 {
		t.Fatalf("empty data must describe as an empty list, got %v", got)
	}
}

func TestDecodeData(t *testing.T) {
	type settings struct {
		Title string `json:"title"`
		Count int    `json:"count"`
	}
	inst, _ := newTestInstance(t, map[string]any{"title": "hello", "count": 3, "extra": true})

	got, err := DecodeData[settings](inst)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != (settings{Title: "hello", Count: 3}) {
		t.Fatalf("unexpected value %+v", got)
	}

	if _, err := DecodeData[settings](inst, DecodeStrict[settings]()); err == nil {
		t.Fatalf("strict decode must reject unknown fields")
	}

	invalid := errors.New("count too small")
	_, err = DecodeData[settings](inst, DecodeValidate(func(s *settings) error {
		if s.Count < 5 {
			return invalid
		}
		return nil
	}))
	if !errors.Is(err, invalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
