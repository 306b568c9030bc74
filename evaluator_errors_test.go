package observable

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapEvaluationErrorCreatesMetadata(t *testing.T) {
	base := errors.New("boom")
	err := wrapEvaluationError("expr", "price * qty", "total", base)

	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %T", err)
	}
	if evalErr.Engine != "expr" || evalErr.Expr != "price * qty" || evalErr.Field != "total" {
		t.Fatalf("unexpected metadata: %+v", evalErr)
	}
	if !errors.Is(err, base) {
		t.Fatalf("wrapped error should unwrap to base error")
	}
	if !strings.Contains(err.Error(), `expr="price * qty"`) {
		t.Fatalf("expected expression in message, got %q", err.Error())
	}
}

func TestWrapEvaluationErrorAugmentsExisting(t *testing.T) {
	base := errors.New("compile failure")
	existing := &EvaluationError{Engine: "expr", Err: base}

	err := wrapEvaluationError("cel", "count + 1", "next", existing)
	if !errors.Is(err, base) {
		t.Fatalf("expected base error to unwrap")
	}
	if existing.Engine != "expr" {
		t.Fatalf("existing engine should not be overwritten, got %q", existing.Engine)
	}
	if existing.Expr != "count + 1" || existing.Field != "next" {
		t.Fatalf("missing metadata should be filled, got %+v", existing)
	}
}

func TestWrapEvaluatorErrorKeepsPrefixedErrors(t *testing.T) {
	prefixed := errors.New("observable: already described")
	if got := wrapEvaluatorError("js", prefixed); got != prefixed {
		t.Fatalf("expected prefixed error untouched, got %v", got)
	}
	got := wrapEvaluatorError("js", errors.New("syntax"))
	if got.Error() != "observable: js evaluator: syntax" {
		t.Fatalf("unexpected wrapped message %q", got.Error())
	}
}
