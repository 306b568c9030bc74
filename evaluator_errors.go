package observable

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoEvaluator indicates computed fields were declared but no evaluator
// could be resolved.
var ErrNoEvaluator = errors.New("observable: evaluator not configured")

// EvaluationError captures evaluator metadata alongside the originating error.
type EvaluationError struct {
	Engine string
	Expr   string
	Field  string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("observable: %s evaluator %s field=%s: %v", e.Engine, describeExpression(e.Expr), e.Field, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describeExpression(expr string) string {
	if expr == "" {
		return "expr=<empty>"
	}
	return fmt.Sprintf("expr=%q", expr)
}

func wrapEvaluatorError(engine string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return err
	}
	if strings.HasPrefix(err.Error(), "observable:") {
		return err
	}
	return fmt.Errorf("observable: %s evaluator: %w", engine, err)
}

// wrapEvaluationError fills in missing metadata on an existing
// EvaluationError instead of nesting a second one.
func wrapEvaluationError(engine, expr, field string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		if evalErr.Engine == "" {
			evalErr.Engine = engine
		}
		if evalErr.Expr == "" {
			evalErr.Expr = expr
		}
		if evalErr.Field == "" {
			evalErr.Field = field
		}
		return evalErr
	}
	return &EvaluationError{
		Engine: engine,
		Expr:   expr,
		Field:  field,
		Err:    err,
	}
}
