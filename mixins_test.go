package observable

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMixinsMergeBeneathOwnData(t *testing.T) {
	own := map[string]any{"size": 2, "style": map[string]any{"bold": true}}
	inst, sink := newTestInstance(t, own, WithMixins(OrderedMixins(
		map[string]any{"theme": "light", "size": 1, "style": map[string]any{"color": "red"}},
		map[string]any{"theme": "dark"},
	)...))

	want := map[string]any{
		"size":  2,
		"theme": "dark",
		"style": map[string]any{"bold": true, "color": "red"},
	}
	if diff := cmp.Diff(want, inst.Raw()); diff != "" {
		t.Fatalf("merged data (-want +got):\n%s", diff)
	}

	mustDispatch(t, inst, func() { _ = inst.Set("style.color", "blue") })
	expectCommits(t, sink, []Entry{e("style.color", "blue")})
	if _, ok := own["theme"]; ok {
		t.Fatalf("with mixins the caller's map must not become the root")
	}
}

func TestTraceReportsLayers(t *testing.T) {
	inst, _ := newTestInstance(t, map[string]any{"size": 2}, WithMixins(
		NewDataLayer("base", PriorityPlugin, map[string]any{"theme": "light", "size": 1}, WithLayerLabel("Base")),
		NewDataLayer("brand", PriorityBehavior, map[string]any{"theme": "dark"}, WithSnapshotID("snap-1")),
	))
	mustDispatch(t, inst, func() { _ = inst.Set("theme", "blue") })

	trace, err := inst.Trace("theme")
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if trace.Value != "blue" || !trace.Found {
		t.Fatalf("trace must carry the current value, got %v", trace.Value)
	}
	want := []Provenance{
		{Layer: OwnLayerName, Priority: PriorityBehavior + 1},
		{Layer: "brand", Priority: PriorityBehavior, SnapshotID: "snap-1", Value: "dark", Found: true},
		{Layer: "base", Label: "Base", Priority: PriorityPlugin, Value: "light", Found: true},
	}
	if diff := cmp.Diff(want, trace.Layers); diff != "" {
		t.Fatalf("layers (-want +got):\n%s", diff)
	}
	winner, ok := trace.Winner()
	if !ok || winner.Layer != "brand" {
		t.Fatalf("unexpected winner %+v", winner)
	}

	size, _ := inst.Trace("size")
	if winner, _ := size.Winner(); winner.Layer != OwnLayerName {
		t.Fatalf("own data must win, got %q", winner.Layer)
	}

	payload, err := trace.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	decoded, err := TraceFromJSON(payload)
	if err != nil {
		t.Fatalf("from json: %v", err)
	}
	if decoded.Path != "theme" || len(decoded.Layers) != 3 || decoded.Layers[1].SnapshotID != "snap-1" {
		t.Fatalf("unexpected decoded trace %+v", decoded)
	}
}

func TestTraceWithoutMixins(t *testing.T) {
	inst, _ := newTestInstance(t, map[string]any{"a": []any{1, 2}})
	trace, err := inst.Trace("a[1]")
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if len(trace.Layers) != 1 || trace.Layers[0].Layer != OwnLayerName || trace.Layers[0].Value != 2 {
		t.Fatalf("unexpected trace %+v", trace)
	}
	if _, err := inst.Trace("a[x]"); err == nil {
		t.Fatalf("expected a path error")
	}
}

func TestMixinValidation(t *testing.T) {
	sink := &recordingSink{}
	cases := map[string]struct {
		layers []DataLayer
		want   error
	}{
		"reserved name": {
			layers: []DataLayer{NewDataLayer(OwnLayerName, 1, nil)},
			want:   ErrDuplicateLayerName,
		},
		"duplicate name": {
			layers: []DataLayer{NewDataLayer("x", 1, nil), NewDataLayer("x", 2, nil)},
			want:   ErrDuplicateLayerName,
		},
		"missing name": {
			layers: []DataLayer{NewDataLayer("", 1, nil)},
			want:   ErrLayerNameRequired,
		},
		"same priority": {
			layers: []DataLayer{NewDataLayer("x", 1, nil), NewDataLayer("y", 1, nil)},
			want:   ErrPriorityOrder,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(map[string]any{}, sink, WithMixins(tc.layers...))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDataStackCopiesLayers(t *testing.T) {
	source := map[string]any{"k": "v"}
	stack, err := NewDataStack(NewDataLayer("low", 1, source), NewDataLayer("high", 2, map[string]any{"k": "w"}))
	if err != nil {
		t.Fatalf("stack: %v", err)
	}
	source["k"] = "changed"
	if stack.Len() != 2 || stack.Layers()[0].Name != "high" {
		t.Fatalf("layers must be ordered strongest first")
	}
	if diff := cmp.Diff(map[string]any{"k": "w"}, stack.Merge()); diff != "" {
		t.Fatalf("merge (-want +got):\n%s", diff)
	}
	layers := stack.Layers()
	layers[1].Data["k"] = "mutated"
	if stack.Layers()[1].Data["k"] != "v" {
		t.Fatalf("Layers must return copies")
	}
}
