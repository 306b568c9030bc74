package observable

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/goliatone/go-observable/pkg/kpath"
)

type computedField struct {
	ComputedField
	rule CompiledRule
}

// compileComputed validates and compiles the computed declarations.
func compileComputed(cfg instanceConfig) (Evaluator, []computedField, error) {
	if len(cfg.computed) == 0 {
		return nil, nil, nil
	}
	evaluator, err := cfg.resolveEvaluator()
	if err != nil {
		return nil, nil, err
	}
	seen := map[string]struct{}{}
	fields := make([]computedField, 0, len(cfg.computed))
	for _, decl := range cfg.computed {
		if !kpath.ValidField(decl.Name) {
			return nil, nil, fmt.Errorf("%w: computed %q", ErrInvalidField, decl.Name)
		}
		if _, dup := seen[decl.Name]; dup {
			return nil, nil, fmt.Errorf("observable: computed field %q declared twice", decl.Name)
		}
		seen[decl.Name] = struct{}{}
		rule, err := evaluator.Compile(decl.Expr)
		if err != nil {
			return nil, nil, wrapEvaluationError(evaluatorEngineName(evaluator), decl.Expr, decl.Name, err)
		}
		fields = append(fields, computedField{ComputedField: decl, rule: rule})
	}
	return evaluator, fields, nil
}

func (i *Instance) isComputed(field string) bool {
	for _, c := range i.computed {
		if c.Name == field {
			return true
		}
	}
	return false
}

// ComputedFields returns the declared computed fields in evaluation order.
func (i *Instance) ComputedFields() []ComputedField {
	out := make([]ComputedField, len(i.computed))
	for k, c := range i.computed {
		out[k] = c.ComputedField
	}
	return out
}

func (i *Instance) evaluate(c computedField, data map[string]any) (any, error) {
	ctx := RuleContext{Data: data, Field: c.Name, InstanceID: i.id}.withDefaults()
	engine := evaluatorEngineName(i.evaluator)
	start := time.Now()
	value, err := c.rule.Evaluate(ctx)
	err = wrapEvaluationError(engine, c.Expr, c.Name, err)
	i.cfg.evalLogger().LogEvaluation(EvaluatorLogEvent{
		Engine:     engine,
		Expr:       c.Expr,
		Field:      c.Name,
		InstanceID: i.id,
		Duration:   time.Since(start),
		Err:        err,
	})
	return value, err
}

// seedComputed writes initial computed values into the raw data before it is
// attached.
func (i *Instance) seedComputed(data map[string]any) error {
	for _, c := range i.computed {
		value, err := i.evaluate(c, data)
		if err != nil {
			return err
		}
		data[c.Name] = value
	}
	return nil
}

// refreshComputed re-evaluates computed fields and records the ones whose
// value changed. A failing field keeps its previous value.
func (i *Instance) refreshComputed() error {
	if len(i.computed) == 0 {
		return nil
	}
	i.refreshing = true
	defer func() { i.refreshing = false }()

	var errs []error
	for _, c := range i.computed {
		value, err := i.evaluate(c, i.root.raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if current, ok := i.root.raw[c.Name]; ok && reflect.DeepEqual(current, value) {
			continue
		}
		if err := i.root.set(c.Name, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
