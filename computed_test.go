package observable

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestComputedFieldsFollowTheirInputs(t *testing.T) {
	var events []EvaluatorLogEvent
	inst, sink := newTestInstance(t, map[string]any{"price": 2, "qty": 3},
		WithComputed("total", "price * qty"),
		WithComputed("double", "total * 2"),
		WithEvaluatorLogger(EvaluatorLoggerFunc(func(event EvaluatorLogEvent) {
			events = append(events, event)
		})),
	)
	if inst.Raw()["total"] != 6 || inst.Raw()["double"] != 12 {
		t.Fatalf("computed fields must be seeded, got %v", inst.Raw())
	}

	mustDispatch(t, inst, func() { _ = inst.Data().Set("qty", 4) })
	expectCommits(t, sink, []Entry{e("qty", 4), e("total", 8), e("double", 16)})

	if len(events) != 4 {
		t.Fatalf("expected four evaluations, got %d", len(events))
	}
	if events[0].Engine != "expr" || events[0].Field != "total" || events[0].InstanceID != inst.ID() {
		t.Fatalf("unexpected log event %+v", events[0])
	}
	want := []ComputedField{{Name: "total", Expr: "price * qty"}, {Name: "double", Expr: "total * 2"}}
	if diff := cmp.Diff(want, inst.ComputedFields()); diff != "" {
		t.Fatalf("computed fields (-want +got):\n%s", diff)
	}
}

func TestComputedFieldUnchangedRecordsNothing(t *testing.T) {
	inst, sink := newTestInstance(t, map[string]any{"a": 1, "note": ""},
		WithComputed("positive", "a > 0"),
	)
	mustDispatch(t, inst, func() { _ = inst.Data().Set("a", 5) })
	expectCommits(t, sink, []Entry{e("a", 5)})
}

func TestComputedFieldIsReadOnly(t *testing.T) {
	inst, _ := newTestInstance(t, map[string]any{"a": 1}, WithComputed("b", "a + 1"))
	if err := inst.Data().Set("b", 5); !errors.Is(err, ErrReadOnlyField) {
		t.Fatalf("expected ErrReadOnlyField, got %v", err)
	}
	if err := inst.Set("b", 5); !errors.Is(err, ErrReadOnlyField) {
		t.Fatalf("expected ErrReadOnlyField through Instance.Set, got %v", err)
	}
}

func TestComputedFieldDeclarationErrors(t *testing.T) {
	sink := &recordingSink{}
	cases := map[string][]Option{
		"invalid name": {WithComputed("a.b", "1")},
		"duplicate":    {WithComputed("x", "1"), WithComputed("x", "2")},
		"syntax":       {WithComputed("x", "1 +")},
		"empty":        {WithComputed("x", "")},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(map[string]any{}, sink, opts...); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}

	_, err := New(map[string]any{}, sink, WithComputed("x", "1 +"))
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || evalErr.Field != "x" || evalErr.Engine != "expr" {
		t.Fatalf("expected an EvaluationError for x, got %v", err)
	}
}

func TestComputedFieldFailureKeepsPreviousValue(t *testing.T) {
	failure := errors.New("zero quantity")
	inst, sink := newTestInstance(t, map[string]any{"qty": 1},
		WithCustomFunction("checked", func(args ...any) (any, error) {
			if len(args) != 1 || args[0] == 0 {
				return nil, failure
			}
			return args[0], nil
		}),
		WithComputed("safe", "checked(qty)"),
	)

	err := inst.Dispatch(func() { _ = inst.Data().Set("qty", 0) })
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || evalErr.Field != "safe" {
		t.Fatalf("expected an EvaluationError for safe, got %v", err)
	}
	if !strings.Contains(err.Error(), failure.Error()) {
		t.Fatalf("expected the function failure in %v", err)
	}
	expectCommits(t, sink, []Entry{e("qty", 0)})
	if inst.Raw()["safe"] != 1 {
		t.Fatalf("failed field must keep its value, got %v", inst.Raw()["safe"])
	}
}

func TestComputedFieldsWithCEL(t *testing.T) {
	registry := NewFunctionRegistry()
	if err := registry.Register("triple", func(args ...any) (any, error) {
		n, ok := args[0].(int64)
		if !ok {
			return nil, fmt.Errorf("triple: unexpected %T", args[0])
		}
		return n * 3, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	cache := NewMemoryProgramCache()
	inst, sink := newTestInstance(t, map[string]any{"price": 2, "qty": 3},
		WithEvaluator(NewCELEvaluator(CELWithProgramCache(cache), CELWithFunctionRegistry(registry))),
		WithComputed("total", "price * qty"),
		WithComputed("tripled", `call("triple", [qty])`),
		WithComputed("label", `instance.field + ":" + string(qty)`),
	)
	if inst.Raw()["total"] != int64(6) || inst.Raw()["tripled"] != int64(9) {
		t.Fatalf("unexpected seeded values %v", inst.Raw())
	}
	if inst.Raw()["label"] != "label:3" {
		t.Fatalf("unexpected label %v", inst.Raw()["label"])
	}

	mustDispatch(t, inst, func() { _ = inst.Data().Set("qty", 5) })
	expectCommits(t, sink, []Entry{
		e("qty", 5),
		e("total", int64(10)),
		e("tripled", int64(15)),
		e("label", "label:5"),
	})
	if cache.Len() == 0 {
		t.Fatalf("programs must be cached")
	}
}

func TestComputedFieldsShareProgramCache(t *testing.T) {
	cache := NewMemoryProgramCache()
	for range 2 {
		newTestInstance(t, map[string]any{"n": 1},
			WithProgramCache(cache),
			WithComputed("m", "n + 1"),
		)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected one cached program, got %d", cache.Len())
	}
	if _, ok := cache.Get("expr:n + 1"); !ok {
		t.Fatalf("expected the expr program under its expression key")
	}
}

func TestFunctionRegistry(t *testing.T) {
	registry := NewFunctionRegistry()
	concat := func(args ...any) (any, error) { return fmt.Sprint(args...), nil }

	if err := registry.Register("Join", concat); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register("join", concat); err == nil {
		t.Fatalf("names are case-insensitive; expected a duplicate error")
	}
	for _, name := range []string{"", "a.b", "a b", "x[0]"} {
		if err := registry.Register(name, concat); err == nil {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
	if err := registry.Register("nil", nil); err == nil {
		t.Fatalf("expected nil function to be rejected")
	}

	clone := registry.Clone()
	_ = clone.Register("extra", concat)
	if registry.Has("extra") || !clone.Has("JOIN") {
		t.Fatalf("clone must be independent")
	}
	if got, err := registry.Call("join", "a", "b"); err != nil || got != "ab" {
		t.Fatalf("call: %v %v", got, err)
	}
	if _, err := registry.Call("missing"); err == nil {
		t.Fatalf("expected an error for a missing function")
	}
	if diff := cmp.Diff([]string{"extra", "join"}, clone.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
}
